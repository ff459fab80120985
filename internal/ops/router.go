// Package ops is the operator-facing HTTP surface of the sweeper process:
// Prometheus metrics, dependency health, and sweep statistics. It exposes
// nothing about channel contents; everything it can see is ciphertext.
package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ghosttext/ghosttext/internal/store"
	"github.com/ghosttext/ghosttext/internal/sweeper"
)

const version = "0.1.0"

// Deps are the dependencies the ops endpoints report on. Registry may be
// nil when bookkeeping is disabled.
type Deps struct {
	Store    store.Store
	Registry store.Registry
	Sweeper  *sweeper.Sweeper
}

type handler struct {
	deps Deps
}

// NewRouter creates and configures the ops HTTP router.
func NewRouter(logger zerolog.Logger, deps Deps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(metricsMiddleware)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(logger))
	r.Use(chimw.Recoverer)

	// Read-only endpoints; allow dashboards from anywhere.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	h := &handler{deps: deps}

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", h.health)
	r.Get("/status", h.status)

	return r
}

func (h *handler) json(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Check represents the status of a health check.
type Check struct {
	Status  string `json:"status"`            // "pass" or "fail"
	Latency string `json:"latency,omitempty"` // e.g., "2ms"
	Message string `json:"message,omitempty"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string           `json:"status"` // "healthy" or "degraded"
	Version   string           `json:"version"`
	Checks    map[string]Check `json:"checks"`
	Timestamp string           `json:"timestamp"`
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]Check)
	allHealthy := true

	storeStart := time.Now()
	if err := h.deps.Store.Ping(ctx); err != nil {
		checks["store"] = Check{Status: "fail", Message: "connection failed"}
		allHealthy = false
	} else {
		checks["store"] = Check{Status: "pass", Latency: time.Since(storeStart).String()}
	}

	if h.deps.Registry != nil {
		regStart := time.Now()
		if err := h.deps.Registry.Ping(ctx); err != nil {
			checks["registry"] = Check{Status: "fail", Message: "connection failed"}
			allHealthy = false
		} else {
			checks["registry"] = Check{Status: "pass", Latency: time.Since(regStart).String()}
		}
	}

	status := "healthy"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	h.json(w, statusCode, HealthResponse{
		Status:    status,
		Version:   version,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// StatusResponse reports sweep activity and registry bookkeeping.
type StatusResponse struct {
	Version  string        `json:"version"`
	Sweeper  sweeper.Stats `json:"sweeper"`
	Channels *int64        `json:"channels,omitempty"` // nil when registry disabled
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{Version: version}
	if h.deps.Sweeper != nil {
		resp.Sweeper = h.deps.Sweeper.Stats()
	}
	if h.deps.Registry != nil {
		if count, err := h.deps.Registry.CountChannels(r.Context()); err == nil {
			resp.Channels = &count
		}
	}
	h.json(w, http.StatusOK, resp)
}
