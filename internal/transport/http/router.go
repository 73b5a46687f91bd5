package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"phivault/internal/platform/metrics"
	"phivault/internal/platform/middleware"
	"phivault/internal/transport/http/shared"
)

// HealthChecker reports readiness of a downstream dependency.
type HealthChecker func(ctx context.Context) error

// RouterConfig collects everything the router mounts.
type RouterConfig struct {
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Validator middleware.TokenValidator

	Vault     *VaultHandler
	Procedure *ProcedureHandler
	Feedback  *FeedbackHandler
	Linker    *LinkerHandler

	// Health checks run on /healthz, keyed by dependency name.
	Health map[string]HealthChecker
}

// NewRouter wires the middleware chain and all endpoints. Every API route
// sits behind authentication; only health and metrics are open.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.ClientInfo)
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Latency(cfg.Metrics))
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", handleHealth(cfg.Health))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(api chi.Router) {
		api.Use(middleware.RequireAuth(cfg.Validator, cfg.Logger))
		cfg.Vault.Register(api)
		cfg.Procedure.Register(api)
		cfg.Feedback.Register(api)
		if cfg.Linker != nil {
			cfg.Linker.Register(api)
		}
	})

	return r
}

func handleHealth(checks map[string]HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]string{"status": "ok"}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
				body[name] = err.Error()
			} else {
				body[name] = "ok"
			}
		}
		shared.WriteJSON(w, status, body)
	}
}
