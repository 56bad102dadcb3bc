package job

import (
	"time"

	"github.com/ryabkov82/fit2gpx/internal/batch"
)

// JobStatus represents the status of a job
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusSucceeded JobStatus = "succeeded"
	StatusFailed    JobStatus = "failed"
	StatusCanceled  JobStatus = "canceled"
)

// Finished reports whether the status is terminal
func (s JobStatus) Finished() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCanceled
}

// JobKind distinguishes a full batch from a retry pass
type JobKind string

const (
	KindConvert JobKind = "convert"
	KindRetry   JobKind = "retry"
)

// Job is a queued conversion batch. A job that ran to the end is
// succeeded even when some of its files failed; the per-file outcomes are
// in Report. Failed means the batch itself could not run.
type Job struct {
	ID        string
	Kind      JobKind
	ParentID  string
	InputDir  string
	OutputDir string
	Files     []string
	Indices   []int

	Status     JobStatus
	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
	LastError  string

	FilesTotal     int
	FilesDone      int
	FilesSucceeded int
	FilesFailed    int
	PointsWritten  int64

	Report *batch.Report
}
