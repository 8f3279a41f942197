// Package api serves cryptfile generation over HTTP.
package api

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/dashcrypt/cryptgen/internal/crypto"
	"github.com/dashcrypt/cryptgen/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

type Options struct {
	// AllowedOrigins defaults to any origin.
	AllowedOrigins []string
	// Auth guards the generating routes when set.
	Auth func(http.Handler) http.Handler
	// Rand is the source for generated keys, crypto/rand by default.
	Rand io.Reader
}

func NewRouter(ops Options) chi.Router {
	origins := ops.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	rand := ops.Rand
	if rand == nil {
		rand = crypto.Reader
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	r.Route("/api", func(r chi.Router) {
		r.Get("/version", getVersion)
		r.Get("/systems", getSystems)
		r.Group(func(r chi.Router) {
			if ops.Auth != nil {
				r.Use(ops.Auth)
			}
			r.Mount("/cryptfiles", LoadCryptfileRoutes(rand))
			r.Post("/contentprotection", createContentProtection)
		})
	})
	return r
}

// LogRoutes prints every registered route at debug level.
func LogRoutes(r chi.Routes) {
	_ = chi.Walk(r, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		slog.Debug("loaded route", "method", method, "route", route)
		return nil
	})
}

func getVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, version.GetVersion())
}
