package syncmanager

import (
	"context"
	"time"
)

// SchedulePush marks collection dirty and arms (or leaves armed) a single
// coalescing timer: any number of SchedulePush calls for any collections
// within one CoalesceWindow collapse into one flush pass that pushes
// every collection touched since the timer armed, not just the one that
// armed it.
func (m *Manager) SchedulePush(collection string) {
	m.schedMu.Lock()
	defer m.schedMu.Unlock()

	m.dirty[collection] = true
	if m.schedTimer != nil {
		return // already armed, this call just adds to the coalesced set
	}

	m.schedTimer = time.AfterFunc(m.coalesceWindow, func() {
		m.schedMu.Lock()
		touched := make([]string, 0, len(m.dirty))
		for c := range m.dirty {
			touched = append(touched, c)
		}
		m.dirty = make(map[string]bool)
		m.schedTimer = nil
		m.schedMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		for _, c := range touched {
			m.pushCollection(ctx, c)
		}
	})
}

// PendingPushes reports the collections currently coalesced, waiting for
// the timer to fire. Exposed for tests and diagnostics.
func (m *Manager) PendingPushes() []string {
	m.schedMu.Lock()
	defer m.schedMu.Unlock()
	out := make([]string, 0, len(m.dirty))
	for c := range m.dirty {
		out = append(out, c)
	}
	return out
}
