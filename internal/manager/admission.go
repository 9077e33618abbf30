package manager

import "context"

// acquireAdmission takes the single admission slot. Only one eviction scan
// and loader call run at a time; status, unload and get never wait on it.
func (m *Manager) acquireAdmission(ctx context.Context) (func(), error) {
	select {
	case m.admitCh <- struct{}{}:
		return func() { <-m.admitCh }, nil
	case <-ctx.Done():
		return func() {}, ctx.Err()
	}
}
