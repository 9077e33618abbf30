package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"vramd/internal/catalog"
)

// Load makes id resident. It never downloads: models without a loader, not on
// disk, downloading or hardware-locked fail immediately. Concurrent calls for
// the same id share one loader invocation.
func (m *Manager) Load(ctx context.Context, id string) (State, error) {
	d, ok := m.cat.Get(id)
	if !ok {
		return StateNotInstalled, ErrModelNotFound(id)
	}
	v, err, _ := m.loads.Do(id, func() (any, error) {
		return m.load(ctx, d)
	})
	st, _ := v.(State)
	return st, err
}

func (m *Manager) load(ctx context.Context, d catalog.Descriptor) (State, error) {
	id := d.ID
	st, loader, done, err := m.checkLoadable(d)
	if done || err != nil {
		return st, err
	}

	release, err := m.acquireAdmission(ctx)
	if err != nil {
		return st, err
	}
	defer release()

	ctx, span := tracer.Start(ctx, "manager.load", trace.WithAttributes(attribute.String("model.id", id)))
	defer span.End()

	// state may have moved while waiting for the slot
	st, loader, done, err = m.checkLoadable(d)
	if done || err != nil {
		return st, err
	}
	m.mu.RLock()
	gen := m.gen[id]
	m.mu.RUnlock()

	if err := m.evictUntilAdmissible(ctx, id); err != nil {
		loadsTotal.WithLabelValues("exhausted").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "eviction")
		m.publish("load_failed", id, map[string]any{"error": err.Error()})
		return m.currentState(id), err
	}

	m.publish("load_start", id, nil)
	start := time.Now()
	h, err := invokeLoader(ctx, loader)
	loadDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		loadsTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "loader")
		m.log.Warn().Err(err).Str("model", id).Msg("loader failed")
		m.publish("load_failed", id, map[string]any{"error": err.Error()})
		return m.currentState(id), fmt.Errorf("load %s: %w", id, err)
	}

	now := time.Now()
	m.mu.Lock()
	if m.gen[id] != gen {
		st := m.states[id]
		m.mu.Unlock()
		_ = h.Close()
		m.hw.ReleaseCache()
		loadsTotal.WithLabelValues("aborted").Inc()
		return st, ErrIllegalTransition(id, st, StateInVRAM, "deleted while loading")
	}
	m.handles[id] = &resident{handle: h, loadedAt: now, lastUsed: now}
	m.recency.Touch(id)
	m.states[id] = StateInVRAM
	n := len(m.handles)
	m.mu.Unlock()

	residentModels.Set(float64(n))
	loadsTotal.WithLabelValues("ok").Inc()
	m.log.Info().Str("model", id).Dur("took", time.Since(start)).Msg("model resident")
	m.publish("load_done", id, map[string]any{"duration_ms": time.Since(start).Milliseconds()})
	return StateInVRAM, nil
}

// checkLoadable refreshes id and decides whether a load may proceed. done is
// true when the model is already resident.
func (m *Manager) checkLoadable(d catalog.Descriptor) (st State, loader Loader, done bool, err error) {
	onDisk := m.installed(d)
	m.mu.Lock()
	defer m.mu.Unlock()
	st = m.computeLocked(d, onDisk)
	m.states[d.ID] = st
	if res := m.handles[d.ID]; res != nil {
		res.lastUsed = time.Now()
		m.recency.Touch(d.ID)
		return StateInVRAM, nil, true, nil
	}
	loader = m.loaders[d.ID]
	switch {
	case st == StateHardwareLocked:
		return st, nil, false, ErrIllegalTransition(d.ID, st, StateInVRAM, "requires an accelerator")
	case st == StateDownloading:
		return st, nil, false, ErrIllegalTransition(d.ID, st, StateInVRAM, "download in progress")
	case st == StateNotInstalled:
		return st, nil, false, ErrIllegalTransition(d.ID, st, StateInVRAM, "weights not on disk")
	case loader == nil:
		return st, nil, false, ErrIllegalTransition(d.ID, st, StateInVRAM, "no loader registered")
	}
	return st, loader, false, nil
}

func invokeLoader(ctx context.Context, l Loader) (h Handle, err error) {
	defer func() {
		if r := recover(); r != nil {
			h, err = nil, fmt.Errorf("loader panic: %v", r)
		}
	}()
	h, err = l.Load(ctx)
	if err == nil && h == nil {
		err = errors.New("loader returned no handle")
	}
	return h, err
}

// Get returns the resident handle for id and marks it most recently used.
// It never loads.
func (m *Manager) Get(id string) (Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := m.handles[id]
	if res == nil {
		return nil, false
	}
	res.lastUsed = time.Now()
	m.recency.Touch(id)
	return res.handle, true
}

func (m *Manager) currentState(id string) State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.states[id]
}

// detachLocked removes id from residency and returns what was held, or nil.
func (m *Manager) detachLocked(id string) *resident {
	res := m.handles[id]
	if res == nil {
		return nil
	}
	delete(m.handles, id)
	m.recency.Remove(id)
	m.states[id] = StateOnDisk
	residentModels.Set(float64(len(m.handles)))
	return res
}

// release closes a detached handle and returns freed memory.
func (m *Manager) release(id string, res *resident, reason string) {
	if err := res.handle.Close(); err != nil {
		m.log.Warn().Err(err).Str("model", id).Str("reason", reason).Msg("close resident model")
	}
	m.hw.ReleaseCache()
}
