package middleware

import (
	"net/http"

	"github.com/rs/cors"

	"github.com/davidbz/hostmeter/internal/config"
)

// exposedHeaders are readable by browser clients of the params service.
var exposedHeaders = []string{"X-Trace-Id", "X-Request-Id", "X-Hostmeter-Params-Source"}

// CORS applies the configured cross-origin policy. A nil config disables it.
func CORS(cfg *config.CORSConfig) Middleware {
	if cfg == nil {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   cfg.AllowedMethods,
		AllowedHeaders:   cfg.AllowedHeaders,
		ExposedHeaders:   exposedHeaders,
		AllowCredentials: cfg.AllowCredentials,
		MaxAge:           cfg.MaxAge,
	})

	return c.Handler
}
