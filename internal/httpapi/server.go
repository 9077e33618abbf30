package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vramd/internal/manager"
	"vramd/pkg/types"
)

// Service defines the manager methods required by the HTTP API layer.
type Service interface {
	Status() []types.ModelStatus
	ModelStatus(id string) (types.ModelStatus, error)
	States() map[string]manager.State
	Progress() map[string]float64
	StartDownload(id string) (types.DownloadTicket, error)
	Load(ctx context.Context, id string) (manager.State, error)
	Unload(id string) (manager.State, error)
	Delete(id string) (manager.State, error)
	Ready() bool
}

// HardwareSource produces hardware snapshots.
type HardwareSource interface {
	Metrics(ctx context.Context) types.HardwareSnapshot
}

// QueueRouter is the router surface exposed over HTTP.
type QueueRouter interface {
	Status(ctx context.Context) []types.QueueStatus
	Pick(strategy string) (queue string, fallback bool)
	Increment(queue string) (int, bool)
	Decrement(queue string) (int, bool)
}

type api struct {
	svc  Service
	hw   HardwareSource
	qr   QueueRouter
	opts Options
}

// NewMux builds the HTTP handler. qr may be nil, in which case the /queues
// routes are not mounted.
func NewMux(svc Service, hw HardwareSource, qr QueueRouter, opts Options) http.Handler {
	a := &api{svc: svc, hw: hw, qr: qr, opts: opts.withDefaults()}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	r.Use(middleware.Compress(5, "application/json"))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			MaxAge:         300,
		}))
	}

	r.Route("/models", func(r chi.Router) {
		r.Get("/", a.listModels)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", a.getModel)
			r.Delete("/", a.deleteModel)
			r.Post("/download", a.downloadModel)
			r.Post("/load", a.loadModel)
			r.Post("/unload", a.unloadModel)
		})
	})

	r.Get("/hardware", a.hardware)
	r.Get("/hardware/stream", a.stream)

	if qr != nil {
		r.Get("/queues", a.queues)
		r.Get("/queues/best", a.bestQueue)
		r.Post("/queues/{queue}/tasks", a.queueTask(true))
		r.Delete("/queues/{queue}/tasks", a.queueTask(false))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no catalog"))
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	MountSwagger(r)

	return r
}

// snapshot reads the hardware, or reports a degraded device when no source
// is wired.
func (a *api) snapshot(ctx context.Context) types.HardwareSnapshot {
	if a.hw == nil {
		return types.HardwareSnapshot{Device: "none", Degraded: true}
	}
	return a.hw.Metrics(ctx)
}
