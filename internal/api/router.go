package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hackgods/barbershop-scheduling/internal/appointment"
	"github.com/hackgods/barbershop-scheduling/internal/availability"
	"github.com/hackgods/barbershop-scheduling/internal/metrics"
)

type RouterConfig struct {
	Service        *appointment.Engine
	Redis          *redis.Client
	Env            string
	Version        string
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer
	Location       *time.Location
	Now            func() time.Time
	AllowedOrigins []string
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewUnregistered()
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	now := func() time.Time { return cfg.Now().In(cfg.Location) }
	today := func() string { return now().Format(availability.DateFormat) }

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(MetricsMiddleware(cfg.Metrics))

	health := NewHealthHandler(cfg.Service, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))

	r.Handle("/ws", NewWSHandler(cfg.Service, cfg.AllowedOrigins, cfg.Logger))

	svc := cfg.Service
	r.Route("/barbers", func(r chi.Router) {
		r.Get("/", listBarbersHandler(svc))
		r.Post("/", addBarberHandler(svc))
		r.Delete("/{id}", removeBarberHandler(svc))
		r.Get("/{id}/slots", barberSlotsHandler(svc, today))
		r.Get("/{id}/next-slot", nextSlotHandler(svc))
	})
	r.Route("/clients", func(r chi.Router) {
		r.Get("/", listClientsHandler(svc))
		r.Post("/", addClientHandler(svc))
		r.Delete("/{id}", removeClientHandler(svc))
	})
	r.Route("/services", func(r chi.Router) {
		r.Get("/", listServicesHandler(svc))
		r.Post("/", addServiceHandler(svc))
		r.Put("/{id}", updateServiceHandler(svc))
		r.Delete("/{id}", removeServiceHandler(svc))
	})
	r.Route("/appointments", func(r chi.Router) {
		r.Get("/", listAppointmentsHandler(svc))
		r.Post("/", createAppointmentHandler(svc))
		r.Get("/{id}", getAppointmentHandler(svc))
		r.Post("/{id}/complete", transitionHandler(svc, appointment.StatusCompleted))
		r.Post("/{id}/cancel", transitionHandler(svc, appointment.StatusCancelled))
	})
	r.Get("/dashboard", dashboardHandler(svc, now))

	return otelhttp.NewHandler(r, "barbershop-api")
}
