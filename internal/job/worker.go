package job

import (
	"context"
	"errors"
	"time"

	"github.com/ryabkov82/fit2gpx/internal/batch"
	"github.com/ryabkov82/fit2gpx/internal/logger"
)

// Worker takes jobs from a store and runs them one at a time
type Worker struct {
	store  *Store
	runner *batch.Runner
}

// NewWorker creates a worker
func NewWorker(store *Store, runner *batch.Runner) *Worker {
	return &Worker{store: store, runner: runner}
}

// Run processes jobs from the queue until ctx is cancelled
func (w *Worker) Run(ctx context.Context) {
	for {
		j, err := w.store.NextJob(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			logger.Error("Error getting next job: %v", err)
			time.Sleep(time.Second)
			continue
		}

		// Process job synchronously (no goroutine)
		w.Process(ctx, j)
	}
}

// Process runs a single job
func (w *Worker) Process(ctx context.Context, j *Job) {
	jobCtx, jobCancel := context.WithCancel(ctx)
	defer jobCancel()

	if err := w.store.SetCancel(j.ID, jobCancel); err != nil {
		logger.Error("Job %s: Failed to register cancel: %v", j.ID, err)
	}
	defer w.store.ClearCancel(j.ID)

	// A job cancelled while queued never had a cancel func to call
	if cur, err := w.store.Get(j.ID); err == nil && cur.Status == StatusCanceled {
		logger.Info("Job %s: canceled before start", j.ID)
		return
	}

	req, prev, err := w.request(j)
	if err != nil {
		logger.Error("Job %s: %v", j.ID, err)
		w.store.UpdateError(j.ID, err)
		w.store.UpdateStatus(j.ID, StatusFailed)
		return
	}

	total := len(req.Selected())
	w.store.SetFiles(j.ID, req.Files, total)
	w.store.UpdateStatus(j.ID, StatusRunning)
	logger.Info("Job %s: converting %d files from %s", j.ID, total, req.InputDir)

	ch := w.runner.Stream(jobCtx, req)
	rep := w.runner.Collect(jobCtx, req, prev, ch, func(p batch.Progress) {
		w.store.UpdateProgress(j.ID, p)
	})
	w.store.Complete(j.ID, rep)

	if jobCtx.Err() != nil {
		w.store.UpdateStatus(j.ID, StatusCanceled)
		logger.Info("Job %s: canceled", j.ID)
		return
	}

	s := rep.Summary()
	logger.Info("Job %s: Completed (%d succeeded, %d failed, %d points)", j.ID, s.Succeeded, s.Failed, s.Points)
	w.store.UpdateStatus(j.ID, StatusSucceeded)
}

// request resolves the batch request of a job. For a retry job it also
// returns the parent report whose untouched outcomes are carried over.
func (w *Worker) request(j *Job) (batch.Request, *batch.Report, error) {
	if j.Kind == KindRetry {
		parent := w.store.parentReport(j.ParentID)
		if parent == nil {
			return batch.Request{}, nil, errors.New("parent job has no outcomes")
		}
		req, err := batch.RetryRequest(*parent, j.Indices)
		if err != nil {
			return batch.Request{}, nil, err
		}
		req.ID = j.ID
		return req, parent, nil
	}

	files := j.Files
	if len(files) == 0 {
		found, err := batch.Discover(j.InputDir)
		if err != nil {
			return batch.Request{}, nil, err
		}
		files = found
	}
	return batch.Request{ID: j.ID, InputDir: j.InputDir, OutputDir: j.OutputDir, Files: files}, nil, nil
}
