package middleware

import (
	"net/http"

	"github.com/rs/cors"

	"github.com/davidbz/conductor/internal/config"
)

// exposedHeaders lets browser dashboards read the correlation ids set by Trace.
var exposedHeaders = []string{"X-Trace-Id", "X-Request-Id"}

// CORS applies the configured cross-origin policy using github.com/rs/cors.
// A nil config disables CORS handling.
func CORS(cfg *config.CORSConfig) Middleware {
	if cfg == nil {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	policy := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   cfg.AllowedMethods,
		AllowedHeaders:   append([]string{"X-Request-Id"}, cfg.AllowedHeaders...),
		ExposedHeaders:   exposedHeaders,
		AllowCredentials: cfg.AllowCredentials,
		MaxAge:           cfg.MaxAge,
	})

	return policy.Handler
}
