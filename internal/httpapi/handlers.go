package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/ryabkov82/fit2gpx/internal/job"
	"github.com/ryabkov82/fit2gpx/internal/logger"
	"github.com/ryabkov82/fit2gpx/internal/version"
)

// Handler handles HTTP requests
type Handler struct {
	store          *job.Store
	allowedBaseDir string
}

// NewHandler creates a new handler
func NewHandler(store *job.Store, allowedBaseDir string) (*Handler, error) {
	// Ensure allowedBaseDir is absolute
	absDir, err := filepath.Abs(allowedBaseDir)
	if err != nil {
		return nil, fmt.Errorf("invalid allowed base dir: %w", err)
	}

	return &Handler{
		store:          store,
		allowedBaseDir: absDir,
	}, nil
}

// GetVersion handles GET /version
func (h *Handler) GetVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, version.Info())
}

// CreateJob handles POST /jobs
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		InputDir  string   `json:"inputDir"`
		OutputDir string   `json:"outputDir"`
		Files     []string `json:"files"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	if req.InputDir == "" {
		http.Error(w, "inputDir is required", http.StatusBadRequest)
		return
	}
	if req.OutputDir == "" {
		req.OutputDir = req.InputDir
	}

	// Validate paths (security check)
	inputDir, err := ValidateDir(req.InputDir, h.allowedBaseDir)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid input dir: %v", err), http.StatusBadRequest)
		return
	}
	outputDir, err := ValidateOutputDir(req.OutputDir, h.allowedBaseDir)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid output dir: %v", err), http.StatusBadRequest)
		return
	}
	for _, name := range req.Files {
		if err := ValidateFileName(name); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		// an existing entry may be a symlink leading out of the base
		if _, err := ValidatePath(filepath.Join(inputDir, name), h.allowedBaseDir); err != nil && !isNotExist(err) {
			http.Error(w, fmt.Sprintf("Invalid file %s: %v", name, err), http.StatusBadRequest)
			return
		}
	}

	j := &job.Job{
		InputDir:  inputDir,
		OutputDir: outputDir,
		Files:     req.Files,
	}

	jobID, err := h.store.Create(j)
	if err != nil {
		h.createError(w, err)
		return
	}

	logger.Info("Job created: %s, inputDir: %s, files: %d", jobID, inputDir, len(req.Files))

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"jobId":  jobID,
		"status": job.StatusQueued,
	})
}

// GetJobStatus handles GET /jobs/{jobId}
func (h *Handler) GetJobStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	jobID := strings.TrimPrefix(r.URL.Path, "/jobs/")
	if jobID == "" {
		http.Error(w, "jobId is required", http.StatusBadRequest)
		return
	}

	j, err := h.store.Get(jobID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, jobResponse(j))
}

// CancelJob handles POST /jobs/{jobId}/cancel
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	jobID := jobIDFromAction(r.URL.Path, "/cancel")
	if jobID == "" {
		http.Error(w, "jobId is required", http.StatusBadRequest)
		return
	}

	if err := h.store.Cancel(jobID); err != nil {
		if errors.Is(err, job.ErrNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": string(job.StatusCanceled),
	})
}

// RetryJob handles POST /jobs/{jobId}/retry. The body may name the file
// indices to re-run; without it every failed file is retried.
func (h *Handler) RetryJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	jobID := jobIDFromAction(r.URL.Path, "/retry")
	if jobID == "" {
		http.Error(w, "jobId is required", http.StatusBadRequest)
		return
	}

	var req struct {
		Indices []int `json:"indices"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	retryID, err := h.store.CreateRetry(jobID, req.Indices)
	if err != nil {
		h.createError(w, err)
		return
	}

	logger.Info("Job created: %s, retry of %s", retryID, jobID)

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"jobId":    retryID,
		"parentId": jobID,
		"status":   job.StatusQueued,
	})
}

func (h *Handler) createError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, job.ErrQueueFull):
		http.Error(w, "Queue is full, please try again later", http.StatusTooManyRequests)
	case errors.Is(err, job.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, job.ErrNoOutcomes):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

type outcomeResponse struct {
	Index      int    `json:"index"`
	File       string `json:"file"`
	Success    bool   `json:"success"`
	Points     int    `json:"points"`
	OutputPath string `json:"outputPath,omitempty"`
	ErrorKind  string `json:"errorKind,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"durationMs"`
}

func jobResponse(j *job.Job) map[string]interface{} {
	response := map[string]interface{}{
		"jobId":          j.ID,
		"kind":           j.Kind,
		"status":         j.Status,
		"inputDir":       j.InputDir,
		"outputDir":      j.OutputDir,
		"filesTotal":     j.FilesTotal,
		"filesDone":      j.FilesDone,
		"filesSucceeded": j.FilesSucceeded,
		"filesFailed":    j.FilesFailed,
		"pointsWritten":  j.PointsWritten,
		"createdAt":      j.CreatedAt.Format(time.RFC3339),
	}

	if j.ParentID != "" {
		response["parentId"] = j.ParentID
	}
	if j.StartedAt != nil {
		response["startedAt"] = j.StartedAt.Format(time.RFC3339)
	}
	if j.FinishedAt != nil {
		response["finishedAt"] = j.FinishedAt.Format(time.RFC3339)
	}
	if j.LastError != "" {
		response["lastError"] = j.LastError
	}

	if j.Report != nil {
		outcomes := make([]outcomeResponse, len(j.Report.Outcomes))
		for i, o := range j.Report.Outcomes {
			outcomes[i] = outcomeResponse{
				Index:      i,
				File:       o.FileName,
				Success:    o.Success,
				Points:     o.PointsWritten,
				OutputPath: o.OutputPath,
				ErrorKind:  o.ErrorKind(),
				Error:      o.ErrorMessage(),
				DurationMs: o.Duration.Milliseconds(),
			}
		}
		response["outcomes"] = outcomes
		response["failedIndices"] = nonNil(j.Report.FailedIndices())
	}

	return response
}

func nonNil(s []int) []int {
	if s == nil {
		return []int{}
	}
	return s
}

func jobIDFromAction(path, action string) string {
	id := strings.TrimPrefix(path, "/jobs/")
	return strings.TrimSuffix(id, action)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("encode response: %v", err)
	}
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
