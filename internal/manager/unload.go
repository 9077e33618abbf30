package manager

import (
	"errors"

	"vramd/internal/common/fsutil"
)

// Unload releases a resident model. Unloading a model that is not resident
// fails without side effects.
func (m *Manager) Unload(id string) (State, error) {
	if !m.cat.Has(id) {
		return StateNotInstalled, ErrModelNotFound(id)
	}
	m.mu.Lock()
	res := m.detachLocked(id)
	st := m.states[id]
	m.mu.Unlock()
	if res == nil {
		return st, ErrIllegalTransition(id, st, StateOnDisk, "not resident")
	}

	m.publish("unload_start", id, nil)
	m.release(id, res, "unload")
	m.publish("unload_done", id, nil)
	return StateOnDisk, nil
}

// Delete unloads id if resident and removes its weights, legacy sidecar and
// any partial download. Deleting an absent model succeeds.
func (m *Manager) Delete(id string) (State, error) {
	d, ok := m.cat.Get(id)
	if !ok {
		return StateNotInstalled, ErrModelNotFound(id)
	}
	m.mu.Lock()
	if _, busy := m.downloads[id]; busy {
		m.mu.Unlock()
		return StateDownloading, ErrIllegalTransition(id, StateDownloading, StateNotInstalled, "download in progress")
	}
	res := m.detachLocked(id)
	m.gen[id]++
	m.mu.Unlock()

	if res != nil {
		m.release(id, res, "delete")
	}

	var errs []error
	for _, p := range []string{d.Path(m.root), d.LegacyPath(m.root), d.PartialPath(m.root)} {
		if err := fsutil.RemoveIfExists(p); err != nil {
			errs = append(errs, err)
		}
	}
	st := m.refreshOne(d)
	if err := errors.Join(errs...); err != nil {
		m.log.Error().Err(err).Str("model", id).Msg("delete weights")
		m.publish("delete_failed", id, map[string]any{"error": err.Error()})
		return st, ErrTransientIO(id, "delete", err)
	}
	m.publish("deleted", id, map[string]any{"unloaded": res != nil})
	return st, nil
}
