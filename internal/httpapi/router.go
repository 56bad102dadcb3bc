package httpapi

import (
	"net/http"
	"strings"
)

// SetupRouter sets up HTTP routes
func SetupRouter(handler *Handler) http.Handler {
	mux := http.NewServeMux()

	// GET /version
	mux.HandleFunc("/version", handler.GetVersion)

	// POST /jobs
	mux.HandleFunc("/jobs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			handler.CreateJob(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	// GET /jobs/{jobId}
	// POST /jobs/{jobId}/cancel
	// POST /jobs/{jobId}/retry
	mux.HandleFunc("/jobs/", func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		switch {
		case strings.HasSuffix(path, "/cancel"):
			handler.CancelJob(w, r)
		case strings.HasSuffix(path, "/retry"):
			handler.RetryJob(w, r)
		case strings.Contains(strings.TrimPrefix(path, "/jobs/"), "/"):
			http.Error(w, "Not found", http.StatusNotFound)
		default:
			handler.GetJobStatus(w, r)
		}
	})

	// Apply auth middleware, but exclude /version endpoint
	wrapped := AuthMiddleware(mux)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/version" {
			mux.ServeHTTP(w, r)
			return
		}
		wrapped.ServeHTTP(w, r)
	})
}
