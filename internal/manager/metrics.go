package manager

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("vramd/internal/manager")

var (
	loadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vramd",
			Subsystem: "manager",
			Name:      "loads_total",
			Help:      "Model load attempts by result",
		},
		[]string{"result"},
	)

	loadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "vramd",
			Subsystem: "manager",
			Name:      "load_duration_seconds",
			Help:      "Time spent in model loaders",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	evictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vramd",
			Subsystem: "manager",
			Name:      "evictions_total",
			Help:      "Resident models evicted to admit another",
		},
	)

	downloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vramd",
			Subsystem: "manager",
			Name:      "downloads_total",
			Help:      "Finished downloads by result",
		},
		[]string{"result"},
	)

	downloadBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vramd",
			Subsystem: "manager",
			Name:      "download_bytes_total",
			Help:      "Bytes received by the downloader",
		},
	)

	residentModels = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "vramd",
			Subsystem: "manager",
			Name:      "resident_models",
			Help:      "Models currently resident",
		},
	)
)

func init() {
	prometheus.MustRegister(loadsTotal, loadDuration, evictionsTotal, downloadsTotal, downloadBytesTotal, residentModels)
}
