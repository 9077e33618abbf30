package manager

import (
	"os"

	"github.com/dustin/go-humanize"

	"vramd/pkg/types"
)

// Status refreshes every state and returns one entry per catalog id.
func (m *Manager) Status() []types.ModelStatus {
	m.Refresh()
	descs := m.cat.All()
	est := make(map[string]int64, len(descs))
	for _, d := range descs {
		if fi, err := os.Stat(d.Path(m.root)); err == nil && !fi.IsDir() {
			est[d.ID] = fi.Size()
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.ModelStatus, 0, len(descs))
	for _, d := range descs {
		st := types.ModelStatus{
			ID:                  d.ID,
			Name:                d.Name,
			Description:         d.Description,
			Category:            d.Category,
			State:               string(m.states[d.ID]),
			SizeBytes:           d.Size,
			EstBytes:            est[d.ID],
			Required:            d.Required,
			RequiresAccelerator: d.RequiresAccelerator,
		}
		if d.Size > 0 {
			st.SizeHuman = humanize.Bytes(uint64(d.Size))
		}
		if t := m.downloads[d.ID]; t != nil {
			st.Progress = t.progress()
		}
		if res := m.handles[d.ID]; res != nil {
			st.LastUsed = res.lastUsed.Unix()
		}
		_, st.LoaderRegistered = m.loaders[d.ID]
		out = append(out, st)
	}
	return out
}

// ModelStatus returns the refreshed status of one id.
func (m *Manager) ModelStatus(id string) (types.ModelStatus, error) {
	if !m.cat.Has(id) {
		return types.ModelStatus{}, ErrModelNotFound(id)
	}
	for _, st := range m.Status() {
		if st.ID == id {
			return st, nil
		}
	}
	return types.ModelStatus{}, ErrModelNotFound(id)
}

// State returns the last computed state of id without touching disk.
func (m *Manager) State(id string) (State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[id]
	return st, ok
}

// States returns a copy of the state table.
func (m *Manager) States() map[string]State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]State, len(m.states))
	for k, v := range m.states {
		out[k] = v
	}
	return out
}

// Progress returns the fraction transferred for every in-flight download.
func (m *Manager) Progress() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]float64, len(m.downloads))
	for id, t := range m.downloads {
		out[id] = t.progress()
	}
	return out
}

// Resident returns resident ids from least to most recently used.
func (m *Manager) Resident() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.recency.IDs()
}
