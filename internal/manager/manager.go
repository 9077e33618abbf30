package manager

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"vramd/internal/catalog"
)

type Manager struct {
	mu  sync.RWMutex
	cat *catalog.Catalog
	// root of the on-disk model layout
	root string
	hw   Hardware

	// guarded by mu
	states    map[string]State
	handles   map[string]*resident
	recency   RecencyTracker
	loaders   map[string]Loader
	downloads map[string]*downloadTask
	// bumped by Delete so a load racing it cannot commit
	gen       map[string]uint64
	publisher EventPublisher

	// single admission slot: eviction scan + loader call
	admitCh chan struct{}
	loads   singleflight.Group

	threshold float64
	chunkSize int
	dlTimeout time.Duration
	rate      float64
	client    HTTPClient
	log       zerolog.Logger

	// lifetime of background downloads
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	startTime time.Time
}

// Catalog returns the descriptor set the manager was built with.
func (m *Manager) Catalog() *catalog.Catalog { return m.cat }

// ModelsDir returns the root of the on-disk layout.
func (m *Manager) ModelsDir() string { return m.root }

// Ready reports whether the manager has a usable catalog.
func (m *Manager) Ready() bool { return m.cat.Len() > 0 }

// Uptime since construction.
func (m *Manager) Uptime() time.Duration { return time.Since(m.startTime) }

// Close stops background downloads and releases every resident model.
func (m *Manager) Close() error {
	m.cancel()
	m.wg.Wait()

	m.mu.Lock()
	ids := m.recency.IDs()
	detached := make(map[string]*resident, len(ids))
	for _, id := range ids {
		if res := m.detachLocked(id); res != nil {
			detached[id] = res
		}
	}
	m.mu.Unlock()

	for id, res := range detached {
		m.release(id, res, "shutdown")
	}
	return nil
}
