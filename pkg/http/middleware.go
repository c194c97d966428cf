// Package http pkg/http/middleware.go
package http

import (
	"net/http"
	"strings"

	"github.com/insidr/debughub/pkg/models"
)

// CommonMiddleware applies CORS headers and answers preflight requests. An
// empty AllowedOrigins list allows any origin, which matches the open debug
// deployments the hub is built for.
func CommonMiddleware(next http.Handler, cors models.CORSConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		switch {
		case len(cors.AllowedOrigins) == 0:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case originAllowed(cors.AllowedOrigins, origin):
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if cors.AllowCredentials {
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func originAllowed(allowed []string, origin string) bool {
	if origin == "" {
		return false
	}

	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}

	return false
}
