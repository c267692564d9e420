package middleware

import (
	"net/http"

	"github.com/rs/cors"
)

// CORS restricts browser clients to the configured dashboard origins.
// The control surface is JSON over GET/POST plus DELETE for queue
// membership; nothing else is advertised.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})

	return c.Handler
}
