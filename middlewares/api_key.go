// Package middlewares holds the HTTP middlewares guarding the API surface.
package middlewares

import (
	"crypto/subtle"
	"net/http"

	"github.com/contestradar/crawler-http-service/common/utils"
	"github.com/rs/zerolog/log"
)

// ApiKeyHeader carries the backend key on every protected request
const ApiKeyHeader = "X-API-KEY"

// ApiKey rejects requests whose key header does not match the configured
// backend key. A missing configuration closes the API rather than opening it.
func ApiKey(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if expected == "" {
				log.Error().Msg("Backend API key is not configured, refusing request")
				utils.WriteError(w, http.StatusServiceUnavailable, "API key not configured")
				return
			}

			provided := r.Header.Get(ApiKeyHeader)
			if subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
				utils.WriteError(w, http.StatusUnauthorized, "Invalid API key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
