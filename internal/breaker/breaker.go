// Package breaker implements the per-chain circuit breaker fleet. One
// chain's RPC collapse must never block execution on another chain; each
// chain owns an independent state machine and transitions are serialized
// per chain only.
package breaker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/sonicx222/arbitrage-new-sub003/internal/events"
	"github.com/sonicx222/arbitrage-new-sub003/internal/metrics"
	"github.com/sonicx222/arbitrage-new-sub003/internal/model"
	"github.com/sonicx222/arbitrage-new-sub003/internal/stats"
)

// State is the breaker state machine position.
type State int

const (
	StateClosed   State = iota // traffic allowed
	StateOpen                  // traffic blocked
	StateHalfOpen              // limited probe traffic
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config tunes the fleet. When Enabled is false, CanExecute always returns
// true (fail-open for execution).
type Config struct {
	Enabled             bool
	FailureThreshold    int
	CooldownPeriod      time.Duration
	HalfOpenMaxAttempts int
}

// DefaultConfig matches the production tuning: trip after 3 consecutive
// failures, 5 minute cooldown, a single half-open probe at a time.
func DefaultConfig() Config {
	return Config{
		Enabled:             true,
		FailureThreshold:    3,
		CooldownPeriod:      5 * time.Minute,
		HalfOpenMaxAttempts: 1,
	}
}

// CircuitBreaker is the per-chain state machine. All methods are O(1): one
// mutex acquisition plus a few integer fields, no I/O, no allocation.
type CircuitBreaker struct {
	chain model.Chain
	cfg   Config

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	openedAt            time.Time
	halfOpenInFlight    int
}

func newCircuitBreaker(chain model.Chain, cfg Config) *CircuitBreaker {
	return &CircuitBreaker{chain: chain, cfg: cfg, state: StateClosed}
}

// transition captures a state change for the manager to publish.
type transition struct {
	from, to State
	reason   string
	failures int
	cooldown time.Duration
}

// canExecute reports whether traffic is admitted, applying the OPEN →
// HALF_OPEN cooldown check and the half-open probe cap.
func (cb *CircuitBreaker) canExecute(now time.Time) (bool, *transition) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true, nil
	case StateOpen:
		if now.Sub(cb.openedAt) < cb.cfg.CooldownPeriod {
			return false, nil
		}
		tr := &transition{from: StateOpen, to: StateHalfOpen, reason: "cooldown elapsed", failures: cb.consecutiveFailures}
		cb.state = StateHalfOpen
		cb.halfOpenInFlight = 1
		return true, tr
	case StateHalfOpen:
		if cb.halfOpenInFlight >= cb.cfg.HalfOpenMaxAttempts {
			return false, nil
		}
		cb.halfOpenInFlight++
		return true, nil
	}
	return false, nil
}

// releaseProbe hands back a half-open probe slot when the admitted attempt
// ended without a success or failure record. No-op in any other state.
func (cb *CircuitBreaker) releaseProbe() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen && cb.halfOpenInFlight > 0 {
		cb.halfOpenInFlight--
	}
}

// recordSuccess closes the breaker after a successful half-open probe.
func (cb *CircuitBreaker) recordSuccess() *transition {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.consecutiveFailures = 0
	case StateHalfOpen:
		tr := &transition{from: StateHalfOpen, to: StateClosed, reason: "probe succeeded"}
		cb.state = StateClosed
		cb.consecutiveFailures = 0
		cb.halfOpenInFlight = 0
		return tr
	}
	return nil
}

// recordFailure trips the breaker on the Nth consecutive failure, or
// immediately while half-open.
func (cb *CircuitBreaker) recordFailure(now time.Time) *transition {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.consecutiveFailures++
		if cb.consecutiveFailures >= cb.cfg.FailureThreshold {
			tr := &transition{from: StateClosed, to: StateOpen, reason: "failure threshold reached",
				failures: cb.consecutiveFailures, cooldown: cb.cfg.CooldownPeriod}
			cb.state = StateOpen
			cb.openedAt = now
			return tr
		}
	case StateHalfOpen:
		cb.consecutiveFailures++
		tr := &transition{from: StateHalfOpen, to: StateOpen, reason: "probe failed",
			failures: cb.consecutiveFailures, cooldown: cb.cfg.CooldownPeriod}
		cb.state = StateOpen
		cb.openedAt = now
		cb.halfOpenInFlight = 0
		return tr
	case StateOpen:
		cb.consecutiveFailures++
	}
	return nil
}

// force sets the state unconditionally (admin path).
func (cb *CircuitBreaker) force(to State, now time.Time, reason string) *transition {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == to {
		return nil
	}
	tr := &transition{from: cb.state, to: to, reason: reason, failures: cb.consecutiveFailures}
	cb.state = to
	cb.halfOpenInFlight = 0
	switch to {
	case StateOpen:
		cb.openedAt = now
		tr.cooldown = cb.cfg.CooldownPeriod
	case StateClosed:
		cb.consecutiveFailures = 0
	}
	return tr
}

// snapshot returns the current state and failure count.
func (cb *CircuitBreaker) snapshot() (State, int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state, cb.consecutiveFailures
}

// StateEvent is the record published to the circuit-breaker stream on every
// real transition.
type StateEvent struct {
	Chain               model.Chain `json:"chain"`
	PreviousState       string      `json:"previousState"`
	NewState            string      `json:"newState"`
	Reason              string      `json:"reason"`
	ConsecutiveFailures int         `json:"consecutiveFailures"`
	CooldownRemainingMs int64       `json:"cooldownRemainingMs"`
	Timestamp           int64       `json:"timestamp"`
	InstanceID          string      `json:"instanceId"`
}

// Manager lazily creates one breaker per chain and publishes state
// transitions. Map insertion takes the manager lock; per-breaker updates
// take only that breaker's own lock, preserving chain isolation.
type Manager struct {
	cfg       Config
	stats     *stats.ExecutionStats
	publisher *events.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.RWMutex
	breakers map[model.Chain]*CircuitBreaker
}

// NewManager wires the fleet. publisher may be nil (events are skipped).
func NewManager(cfg Config, st *stats.ExecutionStats, publisher *events.Publisher, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:       cfg,
		stats:     st,
		publisher: publisher,
		logger:    logger.With("component", "breaker"),
		now:       time.Now,
		breakers:  make(map[model.Chain]*CircuitBreaker),
	}
}

// SetMetrics installs the Prometheus mirror for state gauges and trip
// counters. Install during wiring, before traffic.
func (m *Manager) SetMetrics(pm *metrics.Metrics) {
	m.metrics = pm
}

// get returns the chain's breaker, creating it in CLOSED state on first use.
func (m *Manager) get(chain model.Chain) *CircuitBreaker {
	m.mu.RLock()
	cb, ok := m.breakers[chain]
	m.mu.RUnlock()
	if ok {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok = m.breakers[chain]; ok {
		return cb
	}
	cb = newCircuitBreaker(chain, m.cfg)
	m.breakers[chain] = cb
	return cb
}

// CanExecute reports whether traffic to chain is admitted. Disabled
// breakers fail open.
func (m *Manager) CanExecute(chain model.Chain) bool {
	if !m.cfg.Enabled {
		return true
	}
	ok, tr := m.get(chain).canExecute(m.now())
	if tr != nil {
		m.publish(chain, tr)
	}
	if !ok && m.stats != nil {
		m.stats.CircuitBreakerBlocks.Add(1)
	}
	return ok
}

// ReleaseProbe returns chain's half-open probe slot. Callers that admit an
// attempt through CanExecute but abandon it before RecordSuccess or
// RecordFailure must call this, or the slot stays occupied and the chain
// wedges half-open.
func (m *Manager) ReleaseProbe(chain model.Chain) {
	if !m.cfg.Enabled {
		return
	}
	m.get(chain).releaseProbe()
}

// RecordSuccess reports a successful execution on chain.
func (m *Manager) RecordSuccess(chain model.Chain) {
	if !m.cfg.Enabled {
		return
	}
	if tr := m.get(chain).recordSuccess(); tr != nil {
		m.publish(chain, tr)
	}
}

// RecordFailure reports a failed execution on chain.
func (m *Manager) RecordFailure(chain model.Chain) {
	if !m.cfg.Enabled {
		return
	}
	if tr := m.get(chain).recordFailure(m.now()); tr != nil {
		if tr.to == StateOpen && m.stats != nil {
			m.stats.CircuitBreakerTrips.Add(1)
		}
		m.publish(chain, tr)
	}
}

// ForceOpen trips the chain's breaker immediately (admin).
func (m *Manager) ForceOpen(chain model.Chain, reason string) {
	if tr := m.get(chain).force(StateOpen, m.now(), reason); tr != nil {
		if m.stats != nil {
			m.stats.CircuitBreakerTrips.Add(1)
		}
		m.publish(chain, tr)
	}
}

// ForceClose resets the chain's breaker immediately (admin).
func (m *Manager) ForceClose(chain model.Chain) {
	if tr := m.get(chain).force(StateClosed, m.now(), "forced close"); tr != nil {
		m.publish(chain, tr)
	}
}

// StateOf returns the chain's current state without creating a breaker.
func (m *Manager) StateOf(chain model.Chain) State {
	m.mu.RLock()
	cb, ok := m.breakers[chain]
	m.mu.RUnlock()
	if !ok {
		return StateClosed
	}
	st, _ := cb.snapshot()
	return st
}

// States returns a snapshot of every tracked chain, for health reporting.
func (m *Manager) States() map[model.Chain]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[model.Chain]string, len(m.breakers))
	for chain, cb := range m.breakers {
		st, _ := cb.snapshot()
		out[chain] = st.String()
	}
	return out
}

// publish emits the transition to the circuit-breaker stream. Fire and
// forget; a detached publisher drops the event.
func (m *Manager) publish(chain model.Chain, tr *transition) {
	m.logger.Info("circuit breaker transition",
		"chain", chain, "from", tr.from.String(), "to", tr.to.String(), "reason", tr.reason)
	if m.metrics != nil {
		// The gauge encoding matches the State iota order.
		m.metrics.BreakerState.WithLabelValues(string(chain)).Set(float64(tr.to))
		if tr.to == StateOpen {
			m.metrics.BreakerTrips.WithLabelValues(string(chain)).Inc()
		}
	}
	if m.publisher == nil {
		return
	}
	var remaining int64
	if tr.to == StateOpen {
		remaining = tr.cooldown.Milliseconds()
	}
	m.publisher.Emit(events.StreamCircuitBreaker, "circuit-breaker.transition", StateEvent{
		Chain:               chain,
		PreviousState:       tr.from.String(),
		NewState:            tr.to.String(),
		Reason:              tr.reason,
		ConsecutiveFailures: tr.failures,
		CooldownRemainingMs: remaining,
		Timestamp:           m.now().UnixMilli(),
		InstanceID:          m.publisher.InstanceID(),
	})
}
