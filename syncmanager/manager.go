package syncmanager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/syncspace/engine/metrics"
)

const (
	defaultCoalesceWindow  = 50 * time.Millisecond
	defaultQuarantineAfter = 5
)

// Manager is a framework-agnostic wrapper over router.Router: it adds
// coalesced scheduling, full flush, remote-change delivery, and
// error-taxonomy-driven quarantine on top of the router's raw push/pull.
type Manager struct {
	cfg             Config
	classify        Classifier
	quarantineAfter int
	coalesceWindow  time.Duration

	schedMu    sync.Mutex
	dirty      map[string]bool
	schedTimer *time.Timer

	failMu      sync.Mutex
	failures    map[string]int  // collection -> consecutive permanent failures
	quarantined map[string]bool // collection -> quarantined
}

// New constructs a Manager. cfg.Router and cfg.Adapter are required.
func New(cfg Config) *Manager {
	classify := cfg.Classify
	if classify == nil {
		classify = DefaultClassify
	}
	window := cfg.CoalesceWindow
	if window <= 0 {
		window = defaultCoalesceWindow
	}
	after := cfg.QuarantineAfter
	if after <= 0 {
		after = defaultQuarantineAfter
	}

	return &Manager{
		cfg:             cfg,
		classify:        classify,
		quarantineAfter: after,
		coalesceWindow:  window,
		dirty:           make(map[string]bool),
		failures:        make(map[string]int),
		quarantined:     make(map[string]bool),
	}
}

// IsQuarantined reports whether collection has been quarantined after
// QuarantineAfter consecutive permanent failures.
func (m *Manager) IsQuarantined(collection string) bool {
	m.failMu.Lock()
	defer m.failMu.Unlock()
	return m.quarantined[collection]
}

// ClearQuarantine lifts a quarantine and resets its failure count, for a
// caller that has resolved the underlying permanent condition out of
// band (e.g. a schema migration).
func (m *Manager) ClearQuarantine(collection string) {
	m.failMu.Lock()
	defer m.failMu.Unlock()
	delete(m.quarantined, collection)
	delete(m.failures, collection)
}

// FlushAll pushes every collection in collections, then pulls each of
// them, in the order given. A pending coalesced push timer is stopped and
// its dirty set cleared; dirty collections that are not in collections
// are not pushed by this call.
func (m *Manager) FlushAll(ctx context.Context, collections []string) error {
	m.schedMu.Lock()
	if m.schedTimer != nil {
		m.schedTimer.Stop()
		m.schedTimer = nil
	}
	m.dirty = make(map[string]bool)
	m.schedMu.Unlock()

	for _, c := range collections {
		m.pushCollection(ctx, c)
	}
	for _, c := range collections {
		if err := m.pullCollection(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) pushCollection(ctx context.Context, collection string) {
	if m.IsQuarantined(collection) {
		return
	}

	bySpace, err := m.cfg.Adapter.PendingOutbound(collection)
	if err != nil {
		m.recordFailure(collection, err)
		return
	}
	if len(bySpace) == 0 {
		return
	}

	timer := prometheus.NewTimer(metrics.PushDuration.WithLabelValues(collection))
	_, err = m.cfg.Router.Push(ctx, collection, bySpace)
	timer.ObserveDuration()
	if err != nil {
		metrics.PushTotal.WithLabelValues(collection, "failure").Inc()
		m.recordFailure(collection, err)
		return
	}
	metrics.PushTotal.WithLabelValues(collection, "success").Inc()
	m.recordSuccess(collection)
}

func (m *Manager) pullCollection(ctx context.Context, collection string) error {
	if m.IsQuarantined(collection) {
		return nil
	}

	timer := prometheus.NewTimer(metrics.PullDuration.WithLabelValues(collection))
	records, err := m.cfg.Router.Pull(ctx, collection)
	timer.ObserveDuration()
	if err != nil {
		metrics.PullTotal.WithLabelValues(collection, "failure").Inc()
		m.recordFailure(collection, err)
		return nil
	}
	metrics.PullTotal.WithLabelValues(collection, "success").Inc()
	m.recordSuccess(collection)

	if len(records) == 0 {
		return nil
	}
	if err := m.cfg.Adapter.ApplyRemoteRecords(collection, records); err != nil {
		return fmt.Errorf("syncmanager: apply remote records for %s: %w", collection, err)
	}
	if m.cfg.OnRemoteChange != nil {
		m.cfg.OnRemoteChange(collection)
	}
	return nil
}

func (m *Manager) recordSuccess(collection string) {
	m.failMu.Lock()
	defer m.failMu.Unlock()
	delete(m.failures, collection)
}

func (m *Manager) recordFailure(collection string, err error) {
	class := m.classify(err)

	if class == ErrorAuth && m.cfg.OnAuthError != nil {
		m.cfg.OnAuthError(collection, err)
	}

	if class != ErrorPermanent {
		return // transient/auth/capacity failures don't count toward quarantine
	}

	m.failMu.Lock()
	defer m.failMu.Unlock()
	m.failures[collection]++
	if m.failures[collection] >= m.quarantineAfter && !m.quarantined[collection] {
		m.quarantined[collection] = true
		metrics.QuarantineTotal.WithLabelValues(collection).Inc()
		if m.cfg.OnQuarantine != nil {
			m.cfg.OnQuarantine(collection, err)
		}
	}
}
