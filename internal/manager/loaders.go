package manager

// RegisterLoader binds a loader to a catalog id. Ids outside the catalog are
// rejected so typos surface at startup instead of at first load.
func (m *Manager) RegisterLoader(id string, l Loader) error {
	if !m.cat.Has(id) {
		return ErrModelNotFound(id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if l == nil {
		delete(m.loaders, id)
		return nil
	}
	m.loaders[id] = l
	return nil
}

// MissingLoaders lists catalog ids that have no loader and so can never be loaded.
func (m *Manager) MissingLoaders() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for _, id := range m.cat.IDs() {
		if _, ok := m.loaders[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
