package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ryabkov82/fit2gpx/internal/job"
)

func TestCreateJobQueueFull(t *testing.T) {
	allowedBase := t.TempDir()

	store := job.NewStoreWithQueue(2)
	handler, err := NewHandler(store, allowedBase)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	// Fill the queue
	for i := 0; i < 2; i++ {
		if _, err := store.Create(&job.Job{InputDir: allowedBase, OutputDir: allowedBase}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	body, _ := json.Marshal(map[string]interface{}{"inputDir": allowedBase})
	req := httptest.NewRequest("POST", "/jobs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	handler.CreateJob(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("Expected status 429, got %d", w.Code)
	}

	if w.Body.String() == "" {
		t.Error("Expected error message in response")
	}
}
