package httptransport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "job-status-stream/docs"
)

type RouteOptions struct {
	Logger zerolog.Logger
	// RequestsPerMinute per client IP; zero disables limiting.
	RequestsPerMinute int
}

func Routes(h *Handler, opts RouteOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(opts.Logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if opts.RequestsPerMinute > 0 {
			r.Use(RateLimit(opts.RequestsPerMinute, time.Minute))
		}

		r.Route("/subscriptions", func(r chi.Router) {
			r.Get("/", h.ListSubscriptions)
			r.Post("/", h.Subscribe)
			r.Get("/{id}", h.GetSubscription)
			r.Delete("/{id}", h.Unsubscribe)
		})
		r.Put("/visibility", h.SetVisibility)

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/{id}/status", h.GetJobStatus)
			r.Get("/{id}/history", h.GetJobHistory)
		})
	})

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	return r
}
