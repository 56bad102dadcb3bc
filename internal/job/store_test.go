package job

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ryabkov82/fit2gpx/internal/batch"
	"github.com/ryabkov82/fit2gpx/internal/convert"
)

func newJob() *Job {
	return &Job{InputDir: "/data/in", OutputDir: "/data/out", Files: []string{"a.fit"}}
}

func TestStoreCreate(t *testing.T) {
	store := NewStore()

	j := newJob()
	jobID, err := store.Create(j)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := store.Get(jobID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusQueued {
		t.Errorf("Expected status Queued, got %s", got.Status)
	}
	if got.Kind != KindConvert {
		t.Errorf("Expected kind convert, got %s", got.Kind)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}

	// Get returns a snapshot
	got.Status = StatusFailed
	again, _ := store.Get(jobID)
	if again.Status != StatusQueued {
		t.Errorf("Snapshot mutation leaked into store: %s", again.Status)
	}
}

func TestStoreGetUnknown(t *testing.T) {
	store := NewStore()
	if _, err := store.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestStoreCancel(t *testing.T) {
	store := NewStore()

	jobID, err := store.Create(newJob())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := store.SetCancel(jobID, cancel); err != nil {
		t.Fatalf("SetCancel() error = %v", err)
	}

	if err := store.Cancel(jobID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	select {
	case <-ctx.Done():
		// Expected
	case <-time.After(time.Second):
		t.Error("Context should be canceled")
	}

	job, err := store.Get(jobID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if job.Status != StatusCanceled {
		t.Errorf("Expected status Canceled, got %s", job.Status)
	}
	if job.FinishedAt == nil {
		t.Error("FinishedAt should be set")
	}

	store.ClearCancel(jobID)

	// Try to cancel again (should fail - already finished)
	if err := store.Cancel(jobID); err == nil {
		t.Error("Cancel() should fail for already finished job")
	}

	// A canceled job stays canceled
	store.UpdateStatus(jobID, StatusRunning)
	job, _ = store.Get(jobID)
	if job.Status != StatusCanceled {
		t.Errorf("Expected status Canceled after late update, got %s", job.Status)
	}
}

func TestStoreCancelQueuedJob(t *testing.T) {
	store := NewStore()

	jobID, err := store.Create(newJob())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// Cancel without setting cancel function (job is queued)
	if err := store.Cancel(jobID); err != nil {
		t.Fatalf("Cancel() should work even without cancel function: %v", err)
	}

	job, err := store.Get(jobID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if job.Status != StatusCanceled {
		t.Errorf("Expected status Canceled, got %s", job.Status)
	}
}

func TestStoreCancelNoDataRace(t *testing.T) {
	store := NewStore()

	jobIDs := make([]string, 10)
	for i := range jobIDs {
		jobID, err := store.Create(newJob())
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		jobIDs[i] = jobID
	}

	var wg sync.WaitGroup
	for _, jobID := range jobIDs {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			ctx, cancel := context.WithCancel(context.Background())
			store.SetCancel(id, cancel)
			time.Sleep(10 * time.Millisecond)
			store.Cancel(id)
			store.ClearCancel(id)
			<-ctx.Done()
		}(jobID)
	}

	wg.Wait()

	for _, jobID := range jobIDs {
		j, err := store.Get(jobID)
		if err != nil {
			t.Errorf("Get() error = %v", err)
			continue
		}
		if j.Status != StatusCanceled {
			t.Errorf("Job %s: expected status Canceled, got %s", jobID, j.Status)
		}
	}
}

func TestStoreCreateQueueFullRollback(t *testing.T) {
	store := NewStoreWithQueue(1)

	jobID1, err := store.Create(newJob())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	jobID2, err := store.Create(newJob())
	if !errors.Is(err, ErrQueueFull) {
		t.Errorf("Expected ErrQueueFull, got %v (jobID2=%s)", err, jobID2)
	}

	store.mu.RLock()
	jobCount := len(store.jobs)
	store.mu.RUnlock()
	if jobCount != 1 {
		t.Errorf("Expected 1 job after rollback, got %d", jobCount)
	}

	if _, err := store.Get(jobID1); err != nil {
		t.Errorf("Job j1 should still be in store, got error: %v", err)
	}
}

// TestStoreCreateRace tests that a job is registered before a worker can see it
func TestStoreCreateRace(t *testing.T) {
	store := NewStoreWithQueue(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	picked := make(chan string, 1)
	go func() {
		j, err := store.NextJob(ctx)
		if err != nil {
			return
		}
		if err := store.UpdateStatus(j.ID, StatusRunning); err != nil {
			t.Errorf("UpdateStatus() error = %v (job should be registered)", err)
		}
		picked <- j.ID
	}()

	jobID, err := store.Create(newJob())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	select {
	case id := <-picked:
		if id != jobID {
			t.Errorf("Worker picked %s, want %s", id, jobID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Worker did not pick the job within timeout")
	}

	finalJob, err := store.Get(jobID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if finalJob.Status != StatusRunning {
		t.Errorf("Expected status Running, got %s", finalJob.Status)
	}
	if finalJob.StartedAt == nil {
		t.Error("StartedAt should be set")
	}
}

func TestStoreProgressAndComplete(t *testing.T) {
	store := NewStore()
	jobID, _ := store.Create(newJob())

	store.UpdateProgress(jobID, batch.Progress{Index: 0, Outcome: convert.Outcome{Success: true, PointsWritten: 12}})
	store.UpdateProgress(jobID, batch.Progress{Index: 1, Outcome: convert.Outcome{Err: convert.ErrEmptyTrack}})
	store.Complete(jobID, batch.Report{ID: jobID, Files: []string{"a.fit", "b.fit"}})

	j, _ := store.Get(jobID)
	if j.FilesDone != 2 || j.FilesSucceeded != 1 || j.FilesFailed != 1 {
		t.Errorf("Unexpected counters: done=%d succeeded=%d failed=%d", j.FilesDone, j.FilesSucceeded, j.FilesFailed)
	}
	if j.PointsWritten != 12 {
		t.Errorf("Expected 12 points, got %d", j.PointsWritten)
	}
	if j.Report == nil || j.Report.ID != jobID {
		t.Errorf("Report not stored: %+v", j.Report)
	}
}

func TestStoreCreateRetry(t *testing.T) {
	store := NewStore()
	parentID, _ := store.Create(newJob())

	if _, err := store.CreateRetry(parentID, []int{0}); !errors.Is(err, ErrNoOutcomes) {
		t.Errorf("Expected ErrNoOutcomes before the parent has outcomes, got %v", err)
	}

	store.Complete(parentID, batch.Report{
		InputDir:  "/data/in",
		OutputDir: "/data/out",
		Files:     []string{"a.fit", "b.fit", "c.fit"},
		Outcomes: []convert.Outcome{
			{Success: true},
			{Err: convert.ErrEmptyTrack},
			{Err: convert.ErrEmptyTrack},
		},
	})

	if _, err := store.CreateRetry(parentID, []int{7}); err == nil {
		t.Error("CreateRetry() should reject out of range indices")
	}

	retryID, err := store.CreateRetry(parentID, nil)
	if err != nil {
		t.Fatalf("CreateRetry() error = %v", err)
	}
	j, _ := store.Get(retryID)
	if j.Kind != KindRetry || j.ParentID != parentID {
		t.Errorf("Unexpected retry job: kind=%s parent=%s", j.Kind, j.ParentID)
	}
	if len(j.Indices) != 2 || j.Indices[0] != 1 || j.Indices[1] != 2 {
		t.Errorf("Expected failed indices [1 2], got %v", j.Indices)
	}

	if _, err := store.CreateRetry("missing", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
