package manager

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"vramd/internal/catalog"
	"vramd/pkg/types"
)

// Defaults applied when corresponding ManagerConfig fields are unset.
const (
	defaultEvictThreshold = 0.90
	defaultChunkSize      = 1 << 20
	defaultProgressRate   = 4.0
)

// Hardware is the subset of the hardware monitor the manager consults.
type Hardware interface {
	Metrics(ctx context.Context) types.HardwareSnapshot
	HasAccelerator() bool
	ReleaseCache()
}

// HTTPClient performs download requests. *http.Client satisfies it.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	Catalog   *catalog.Catalog
	ModelsDir string
	Hardware  Hardware
	// Fraction of accelerator memory above which resident models are evicted.
	EvictThreshold float64
	ChunkSize      int
	// Zero means downloads are bounded only by Close.
	DownloadTimeout      time.Duration
	ProgressEventsPerSec float64
	HTTPClient           HTTPClient
	Recency              RecencyTracker
	Publisher            EventPublisher
	Logger               zerolog.Logger
}

// nullHardware reports no accelerator and an idle device.
type nullHardware struct{}

func (nullHardware) Metrics(context.Context) types.HardwareSnapshot {
	return types.HardwareSnapshot{Degraded: true, Device: "none", TimestampMs: time.Now().UnixMilli()}
}
func (nullHardware) HasAccelerator() bool { return false }
func (nullHardware) ReleaseCache()        {}

// NewWithConfig constructs a Manager from ManagerConfig and computes the
// initial state of every catalog entry.
func NewWithConfig(cfg ManagerConfig) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cat:       cfg.Catalog,
		root:      cfg.ModelsDir,
		hw:        cfg.Hardware,
		threshold: cfg.EvictThreshold,
		chunkSize: cfg.ChunkSize,
		dlTimeout: cfg.DownloadTimeout,
		rate:      cfg.ProgressEventsPerSec,
		client:    cfg.HTTPClient,
		recency:   cfg.Recency,
		publisher: cfg.Publisher,
		log:       cfg.Logger,
		states:    make(map[string]State),
		handles:   make(map[string]*resident),
		loaders:   make(map[string]Loader),
		downloads: make(map[string]*downloadTask),
		gen:       make(map[string]uint64),
		admitCh:   make(chan struct{}, 1),
		baseCtx:   ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}
	// Apply defaults if unset
	if m.cat == nil {
		m.cat = catalog.Empty()
	}
	if m.hw == nil {
		m.hw = nullHardware{}
	}
	if m.threshold <= 0 || m.threshold > 1 {
		m.threshold = defaultEvictThreshold
	}
	if m.chunkSize <= 0 {
		m.chunkSize = defaultChunkSize
	}
	if m.rate <= 0 {
		m.rate = defaultProgressRate
	}
	if m.client == nil {
		m.client = &http.Client{}
	}
	if m.recency == nil {
		m.recency = NewLRU()
	}
	if m.publisher == nil {
		m.publisher = noopPublisher{}
	}
	m.Refresh()
	return m
}
