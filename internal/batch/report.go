package batch

import (
	"time"

	"github.com/ryabkov82/fit2gpx/internal/convert"
)

// Report holds the outcomes of a batch; Outcomes[i] belongs to Files[i]
type Report struct {
	ID         string
	InputDir   string
	OutputDir  string
	Files      []string
	Outcomes   []convert.Outcome
	StartedAt  time.Time
	FinishedAt time.Time
}

// Summary counts the outcomes of a report
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	Points    int
}

// Failure describes one failed file
type Failure struct {
	Index     int
	FileName  string
	InputPath string
	Kind      string
	Reason    string
}

// Summary returns the succeeded/failed counts and total points written
func (r Report) Summary() Summary {
	s := Summary{Total: len(r.Outcomes)}
	for _, o := range r.Outcomes {
		if o.Success {
			s.Succeeded++
			s.Points += o.PointsWritten
		} else {
			s.Failed++
		}
	}
	return s
}

// FailedIndices returns the indices of failed outcomes in ascending order
func (r Report) FailedIndices() []int {
	var out []int
	for i, o := range r.Outcomes {
		if !o.Success {
			out = append(out, i)
		}
	}
	return out
}

// Failures returns the failed files with their reasons
func (r Report) Failures() []Failure {
	var out []Failure
	for _, i := range r.FailedIndices() {
		o := r.Outcomes[i]
		out = append(out, Failure{
			Index:     i,
			FileName:  o.FileName,
			InputPath: o.InputPath,
			Kind:      o.ErrorKind(),
			Reason:    o.ErrorMessage(),
		})
	}
	return out
}

// Duration returns the wall time of the batch
func (r Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
