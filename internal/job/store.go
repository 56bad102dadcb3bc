package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ryabkov82/fit2gpx/internal/batch"
	"github.com/ryabkov82/fit2gpx/internal/logger"
)

// ErrQueueFull is returned when the job queue is full
var ErrQueueFull = errors.New("queue is full")

// ErrNotFound is returned for unknown job IDs
var ErrNotFound = errors.New("job not found")

// ErrNoOutcomes is returned when retrying a job that has not finished a batch
var ErrNoOutcomes = errors.New("job has no outcomes to retry")

// DefaultQueueSize is the queue capacity of NewStore
const DefaultQueueSize = 1000

// Store manages jobs in memory
type Store struct {
	mu      sync.RWMutex
	jobs    map[string]*Job
	queue   chan *Job
	cancels map[string]context.CancelFunc
}

// NewStore creates a new job store
func NewStore() *Store {
	return NewStoreWithQueue(DefaultQueueSize)
}

// NewStoreWithQueue creates a store whose queue holds at most size jobs
func NewStoreWithQueue(size int) *Store {
	return &Store{
		jobs:    make(map[string]*Job),
		queue:   make(chan *Job, size),
		cancels: make(map[string]context.CancelFunc),
	}
}

// Create registers a new job and queues it, returning its ID.
// Returns ErrQueueFull if the queue is full (job is not created).
func (s *Store) Create(j *Job) (string, error) {
	j.ID = uuid.New().String()
	j.Status = StatusQueued
	j.CreatedAt = time.Now().UTC()
	if j.Kind == "" {
		j.Kind = KindConvert
	}

	// Register before enqueueing so a worker never sees an unknown ID
	s.mu.Lock()
	s.jobs[j.ID] = j
	s.mu.Unlock()

	select {
	case s.queue <- j:
		return j.ID, nil
	default:
		s.mu.Lock()
		delete(s.jobs, j.ID)
		s.mu.Unlock()
		return "", ErrQueueFull
	}
}

// CreateRetry queues a retry pass over indices of a finished job
func (s *Store) CreateRetry(parentID string, indices []int) (string, error) {
	s.mu.RLock()
	parent, ok := s.jobs[parentID]
	var rep *batch.Report
	if ok {
		rep = parent.Report
	}
	s.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, parentID)
	}
	if rep == nil {
		return "", fmt.Errorf("%w: %s", ErrNoOutcomes, parentID)
	}
	if len(indices) == 0 {
		indices = rep.FailedIndices()
	}
	if _, err := batch.RetryRequest(*rep, indices); err != nil {
		return "", err
	}

	return s.Create(&Job{
		Kind:      KindRetry,
		ParentID:  parentID,
		InputDir:  rep.InputDir,
		OutputDir: rep.OutputDir,
		Files:     rep.Files,
		Indices:   indices,
	})
}

// Get returns a snapshot of a job
func (s *Store) Get(id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	cp := *j
	return &cp, nil
}

// parentReport returns the report of a job, or nil
func (s *Store) parentReport(id string) *batch.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if j, ok := s.jobs[id]; ok {
		return j.Report
	}
	return nil
}

// UpdateStatus updates job status and related fields
func (s *Store) UpdateStatus(id string, status JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	// A canceled job stays canceled
	if j.Status == StatusCanceled {
		return nil
	}

	j.Status = status
	now := time.Now().UTC()

	switch status {
	case StatusRunning:
		if j.StartedAt == nil {
			j.StartedAt = &now
		}
	case StatusSucceeded, StatusFailed, StatusCanceled:
		if j.FinishedAt == nil {
			j.FinishedAt = &now
		}
	}

	return nil
}

// SetFiles records the resolved file list of a running job
func (s *Store) SetFiles(id string, files []string, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return
	}
	j.Files = files
	j.FilesTotal = total
}

// UpdateProgress counts one finished file
func (s *Store) UpdateProgress(id string, p batch.Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return
	}

	j.FilesDone++
	if p.Outcome.Success {
		j.FilesSucceeded++
		j.PointsWritten += int64(p.Outcome.PointsWritten)
	} else {
		j.FilesFailed++
	}
}

// UpdateError updates job error message
func (s *Store) UpdateError(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return
	}

	if err != nil {
		j.LastError = err.Error()
	} else {
		j.LastError = ""
	}
}

// Complete stores the final report of a job
func (s *Store) Complete(id string, rep batch.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return
	}
	j.Report = &rep
}

// SetCancel registers a cancel function for a job
func (s *Store) SetCancel(jobID string, cf context.CancelFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}

	s.cancels[jobID] = cf
	return nil
}

// ClearCancel removes cancel function for a job
func (s *Store) ClearCancel(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.cancels, jobID)
}

// Cancel cancels a queued or running job
func (s *Store) Cancel(id string) error {
	var cf context.CancelFunc

	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if j.Status.Finished() {
		s.mu.Unlock()
		return fmt.Errorf("job already finished: %s", j.Status)
	}

	if cancelFunc, exists := s.cancels[id]; exists {
		cf = cancelFunc
	}

	j.Status = StatusCanceled
	now := time.Now().UTC()
	j.FinishedAt = &now
	s.mu.Unlock()

	// Call cancel function outside of lock
	if cf != nil {
		cf()
	}
	logger.Info("Job %s canceled", id)

	return nil
}

// NextJob returns the next job from the queue (blocking)
func (s *Store) NextJob(ctx context.Context) (*Job, error) {
	select {
	case j := <-s.queue:
		return j, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
