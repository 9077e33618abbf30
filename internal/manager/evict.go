package manager

import "context"

// evictUntilAdmissible evicts least recently used models, re-reading the
// hardware after each one, until usage is at or below the threshold. The
// model being admitted is never a victim. Host-only readings never drive
// eviction, and an unreadable device admits without evicting. Usage held by
// other processes is never admitted over, even with nothing resident.
func (m *Manager) evictUntilAdmissible(ctx context.Context, admitting string) error {
	limit := m.threshold * 100
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		snap := m.hw.Metrics(ctx)
		if snap.Degraded {
			return nil
		}
		if snap.Error != "" {
			m.log.Warn().Str("model", admitting).Str("probe_error", snap.Error).Msg("cannot read accelerator memory; admitting without eviction")
			return nil
		}
		if snap.Percent <= limit {
			return nil
		}

		m.mu.Lock()
		victim, ok := m.recency.Oldest(admitting)
		var res *resident
		if ok {
			res = m.detachLocked(victim)
		}
		m.mu.Unlock()
		if !ok || res == nil {
			return ErrResourceExhausted(admitting, snap.Percent, limit)
		}

		m.release(victim, res, "evicted")
		evictionsTotal.Inc()
		m.log.Info().Str("model", victim).Str("for", admitting).Float64("percent", snap.Percent).Msg("evicted least recently used model")
		m.publish("evicted", victim, map[string]any{"for": admitting, "percent": snap.Percent})
	}
}
