// internal/infra/httpapi/router.go
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// requestLogger logs one line per request through logrus.
func requestLogger(logger *logrus.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.WithFields(logrus.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      ww.Status(),
				"duration_ms": time.Since(start).Milliseconds(),
				"request_id":  middleware.GetReqID(r.Context()),
			}).Debug("HTTP request served")
		})
	}
}

// NewRouter wires the follow-up endpoints.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(h.Logger))

	r.Get("/requests/{id}/eligibility", h.GetEligibility)
	r.Post("/requests/{id}/follow-ups", h.ProcessFollowUp)
	r.Post("/requests/{id}/follow-up-log", h.RecordFollowUp)
	r.Get("/requests/{id}/follow-up-log", h.ListLogEntries)
	r.Put("/follow-up-log/{entryID}", h.EditLastEntry)

	r.Route("/follow-ups", func(r chi.Router) {
		r.Post("/bulk", h.ProcessBulk)
		r.Get("/due", h.ListDue)
		r.Get("/summary", h.Summary)
		r.Post("/auto-closure", h.RunAutoClosure)
	})
	return r
}
