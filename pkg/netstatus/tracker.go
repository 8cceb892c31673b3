package netstatus

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for network status tracking.
var (
	networkStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tracker_network_status",
		Help: "Current network status (0 online, 1 degraded, 2 offline)",
	})

	networkTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_network_status_transitions_total",
		Help: "Total number of network status transitions by target status",
	}, []string{"to"})

	listenerPanicsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracker_network_listener_panics_total",
		Help: "Total number of recovered panics in status change listeners",
	})
)

// Listener is notified with the new status after every transition.
type Listener func(Status)

type subscription struct {
	id uint64
	fn Listener
}

// Tracker derives a network status from reported request outcomes.
// It is safe for concurrent use.
type Tracker struct {
	mu        sync.Mutex
	cfg       Config
	status    Status
	failures  int
	successes int
	changedAt time.Time

	// seq numbers transitions under mu; delivered is the last one whose
	// listeners have run. notify waits its turn on dispatch so listeners
	// see transitions in the order they happened.
	seq       uint64
	delivered uint64
	dispatch  *sync.Cond

	listenersMu sync.Mutex
	listeners   []subscription
	nextID      uint64

	logger zerolog.Logger
}

// NewTracker creates a tracker that starts online. Non-positive thresholds
// fall back to the defaults.
func NewTracker(cfg Config, logger zerolog.Logger) *Tracker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.RecoveryThreshold <= 0 {
		cfg.RecoveryThreshold = DefaultRecoveryThreshold
	}

	networkStatus.Set(StatusOnline.gaugeValue())

	return &Tracker{
		cfg:       cfg,
		status:    StatusOnline,
		changedAt: time.Now(),
		dispatch:  sync.NewCond(&sync.Mutex{}),
		logger:    logger,
	}
}

// RecordSuccess reports a successful request.
func (t *Tracker) RecordSuccess() {
	t.mu.Lock()
	t.successes++
	t.failures = 0

	from, to := t.status, t.status
	if t.status != StatusOnline && t.successes >= t.cfg.RecoveryThreshold {
		to = StatusOnline
	}
	seq, changed := t.transition(to)
	t.mu.Unlock()

	if changed {
		t.logger.Info().
			Str("from", string(from)).
			Str("to", string(to)).
			Msg("Network recovered")
		t.notify(seq, to)
	}
}

// RecordFailure reports a failed request.
func (t *Tracker) RecordFailure() {
	t.mu.Lock()
	t.failures++
	t.successes = 0

	from, to := t.status, t.status
	switch {
	case t.failures >= t.cfg.FailureThreshold:
		to = StatusOffline
	case t.status == StatusOnline:
		to = StatusDegraded
	}
	failures := t.failures
	seq, changed := t.transition(to)
	t.mu.Unlock()

	if changed {
		evt := t.logger.Warn()
		if to == StatusOffline {
			evt = t.logger.Error()
		}
		evt.Str("from", string(from)).
			Str("to", string(to)).
			Int("consecutive_failures", failures).
			Msg("Network status changed")
		t.notify(seq, to)
	}
}

// Status returns the current status.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Snapshot returns the status together with the counters behind it.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	return Snapshot{
		Status:               t.status,
		ConsecutiveFailures:  t.failures,
		ConsecutiveSuccesses: t.successes,
		LastChange:           t.changedAt,
	}
}

// Reset clears the counters and returns to online. Listeners are notified
// if the status changes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.failures = 0
	t.successes = 0
	seq, changed := t.transition(StatusOnline)
	t.mu.Unlock()

	t.logger.Debug().Msg("Network status tracker reset")
	if changed {
		t.notify(seq, StatusOnline)
	}
}

// OnStatusChange registers fn to be called synchronously after every status
// transition. The returned func unsubscribes fn.
//
// Listeners receive transitions one at a time and in order, even when
// outcomes are recorded from several goroutines, so the last status a
// listener saw is the tracker's current one. A listener may read the
// tracker but must not record outcomes or Reset it, since that would wait
// on its own delivery.
//
// A listener that panics is recovered and logged; the remaining listeners
// still run and the tracker is unaffected.
func (t *Tracker) OnStatusChange(fn Listener) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}

	t.listenersMu.Lock()
	t.nextID++
	id := t.nextID
	t.listeners = append(t.listeners, subscription{id: id, fn: fn})
	t.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.listenersMu.Lock()
			defer t.listenersMu.Unlock()
			for i, s := range t.listeners {
				if s.id == id {
					t.listeners = append(t.listeners[:i:i], t.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// transition moves to status and reports whether it changed, along with
// the transition's sequence number. Caller must hold t.mu.
func (t *Tracker) transition(to Status) (uint64, bool) {
	if to == t.status {
		return 0, false
	}
	t.status = to
	t.changedAt = time.Now()
	t.seq++

	networkStatus.Set(to.gaugeValue())
	networkTransitionsTotal.WithLabelValues(string(to)).Inc()
	return t.seq, true
}

// notify runs the listeners for transition seq once every earlier
// transition has been delivered. It runs outside t.mu so listeners may
// read the tracker.
func (t *Tracker) notify(seq uint64, status Status) {
	t.dispatch.L.Lock()
	for t.delivered != seq-1 {
		t.dispatch.Wait()
	}
	t.dispatch.L.Unlock()

	defer func() {
		t.dispatch.L.Lock()
		t.delivered = seq
		t.dispatch.Broadcast()
		t.dispatch.L.Unlock()
	}()

	t.listenersMu.Lock()
	subs := make([]subscription, len(t.listeners))
	copy(subs, t.listeners)
	t.listenersMu.Unlock()

	for _, s := range subs {
		t.safeCall(s.fn, status)
	}
}

func (t *Tracker) safeCall(fn Listener, status Status) {
	defer func() {
		if r := recover(); r != nil {
			listenerPanicsTotal.Inc()
			t.logger.Error().
				Err(fmt.Errorf("%v", r)).
				Str("status", string(status)).
				Msg("Status change listener panicked")
		}
	}()
	fn(status)
}

var (
	defaultOnce    sync.Once
	defaultTracker *Tracker
	defaultMu      sync.Mutex
)

// Default returns the process-wide tracker, creating it on first use.
// Prefer passing a *Tracker explicitly; Default exists for simple embeddings.
func Default() *Tracker {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	defaultOnce.Do(func() {
		defaultTracker = NewTracker(DefaultConfig(), log.With().Str("component", "netstatus").Logger())
	})
	return defaultTracker
}

// ResetDefault discards the process-wide tracker so the next Default call
// builds a fresh one. Intended for tests.
func ResetDefault() {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	defaultOnce = sync.Once{}
	defaultTracker = nil
}
