package manager

import (
	"vramd/internal/catalog"
	"vramd/internal/common/fsutil"
)

// installed reports whether weights for d are on disk: the file or directory
// itself, or the legacy sidecar.
func (m *Manager) installed(d catalog.Descriptor) bool {
	return fsutil.PathExists(d.Path(m.root)) || fsutil.PathExists(d.LegacyPath(m.root))
}

// computeLocked derives one state with precedence
// hardware_locked > in_vram > downloading > on_disk > not_installed.
func (m *Manager) computeLocked(d catalog.Descriptor, onDisk bool) State {
	if d.RequiresAccelerator && !m.hw.HasAccelerator() {
		return StateHardwareLocked
	}
	if _, ok := m.handles[d.ID]; ok {
		return StateInVRAM
	}
	if _, ok := m.downloads[d.ID]; ok {
		return StateDownloading
	}
	if onDisk {
		return StateOnDisk
	}
	return StateNotInstalled
}

// Refresh recomputes every state from hardware, residency, in-flight
// downloads and disk. It returns the ids whose state changed.
func (m *Manager) Refresh() map[string]State {
	descs := m.cat.All()
	onDisk := make(map[string]bool, len(descs))
	for _, d := range descs {
		onDisk[d.ID] = m.installed(d)
	}

	changed := make(map[string]State)
	m.mu.Lock()
	for _, d := range descs {
		st := m.computeLocked(d, onDisk[d.ID])
		if prev, ok := m.states[d.ID]; !ok || prev != st {
			changed[d.ID] = st
		}
		m.states[d.ID] = st
	}
	m.mu.Unlock()
	return changed
}

// refreshOne recomputes a single id and returns its state.
func (m *Manager) refreshOne(d catalog.Descriptor) State {
	onDisk := m.installed(d)
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.computeLocked(d, onDisk)
	m.states[d.ID] = st
	return st
}
