package httpapi

import (
	"crypto/subtle"
	"net/http"
	"os"
)

// APIKeyEnv names the environment variable holding the API key
const APIKeyEnv = "FIT2GPX_API_KEY"

// AuthMiddleware checks X-API-Key header
func AuthMiddleware(next http.Handler) http.Handler {
	apiKey := os.Getenv(APIKeyEnv)

	// If no API key is set, skip auth
	if apiKey == "" {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		providedKey := r.Header.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(providedKey), []byte(apiKey)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
