// Package queue implements the bounded opportunity queue with hysteresis
// backpressure. The queue couples the upstream stream consumer to the worker
// pool: when depth crosses the high water mark the pause callback fires and
// the consumer stops pulling from the broker; it resumes only after depth
// falls back to the low water mark.
package queue

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/sonicx222/arbitrage-new-sub003/internal/model"
)

// Config bounds the queue. Invariant: 0 < LowWaterMark < HighWaterMark <= MaxSize.
type Config struct {
	MaxSize       int `yaml:"max_size"`
	HighWaterMark int `yaml:"high_water_mark"`
	LowWaterMark  int `yaml:"low_water_mark"`
}

// Validate checks the water-mark invariant.
func (c Config) Validate() error {
	if c.LowWaterMark <= 0 || c.LowWaterMark >= c.HighWaterMark || c.HighWaterMark > c.MaxSize {
		return fmt.Errorf("queue config requires 0 < low (%d) < high (%d) <= max (%d)",
			c.LowWaterMark, c.HighWaterMark, c.MaxSize)
	}
	return nil
}

// Service is a single-owner FIFO with two-threshold backpressure. Manual
// standby (Pause/Resume) is tracked on a separate flag from backpressure;
// the effective paused state is the OR of both, and the registered callback
// fires exactly once per effective transition.
type Service struct {
	cfg Config

	mu       sync.Mutex
	items    []*model.Opportunity
	engaged  bool // backpressure hysteresis state
	manual   bool // externally triggered standby, never auto-released
	onChange func(paused bool)
	logger   *slog.Logger
}

// NewService constructs the queue. The config must already be validated.
func NewService(cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:    cfg,
		items:  make([]*model.Opportunity, 0, cfg.MaxSize),
		logger: logger.With("component", "queue"),
	}
}

// OnPauseStateChange registers the single pause listener. Exactly one
// listener is supported; registering replaces any previous one.
func (s *Service) OnPauseStateChange(cb func(paused bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = cb
}

// Enqueue appends an opportunity. It returns false when the queue is full,
// backpressure is engaged, or the queue is in manual standby.
func (s *Service) Enqueue(opp *model.Opportunity) bool {
	s.mu.Lock()

	if len(s.items) >= s.cfg.MaxSize || s.engaged || s.manual {
		s.mu.Unlock()
		return false
	}

	s.items = append(s.items, opp)
	var notify func(bool)
	// High threshold wins if a degenerate config makes one insert cross
	// both marks.
	if !s.engaged && len(s.items) >= s.cfg.HighWaterMark {
		s.engaged = true
		notify = s.notifyLocked(true)
	}
	s.mu.Unlock()

	if notify != nil {
		notify(true)
	}
	return true
}

// Dequeue removes and returns the oldest opportunity, or nil when empty.
// Dequeue is always permitted, even while paused, so that workers can drain
// the backlog and release backpressure.
func (s *Service) Dequeue() *model.Opportunity {
	s.mu.Lock()

	if len(s.items) == 0 {
		s.mu.Unlock()
		return nil
	}
	opp := s.items[0]
	s.items[0] = nil
	s.items = s.items[1:]

	var notify func(bool)
	if s.engaged && len(s.items) <= s.cfg.LowWaterMark {
		s.engaged = false
		if !s.manual {
			notify = s.notifyLocked(false)
		}
	}
	s.mu.Unlock()

	if notify != nil {
		notify(false)
	}
	return opp
}

// notifyLocked captures the callback while the lock is held. The actual
// invocation happens after unlock so listeners may call back into the queue.
func (s *Service) notifyLocked(paused bool) func(bool) {
	s.logger.Info("queue pause state changed", "paused", paused, "size", len(s.items))
	if s.onChange == nil {
		return nil
	}
	return s.onChange
}

// Size returns the current depth.
func (s *Service) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// IsPaused reports the effective paused state (backpressure OR standby).
func (s *Service) IsPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engaged || s.manual
}

// Pause puts the queue into manual standby. If backpressure is already
// engaged the listener is not re-notified.
func (s *Service) Pause() {
	s.mu.Lock()
	already := s.engaged || s.manual
	s.manual = true
	var notify func(bool)
	if !already {
		notify = s.notifyLocked(true)
	}
	s.mu.Unlock()

	if notify != nil {
		notify(true)
	}
}

// Resume releases manual standby. If backpressure is still engaged the
// queue stays paused and no "unpaused" notification fires.
func (s *Service) Resume() {
	s.mu.Lock()
	wasPaused := s.engaged || s.manual
	s.manual = false
	nowPaused := s.engaged
	var notify func(bool)
	if wasPaused && !nowPaused {
		notify = s.notifyLocked(false)
	}
	s.mu.Unlock()

	if notify != nil {
		notify(false)
	}
}

// Clear drops all queued opportunities. An empty queue is below the low
// water mark, so backpressure releases; manual standby is left untouched.
// Clear is idempotent.
func (s *Service) Clear() {
	s.mu.Lock()
	for i := range s.items {
		s.items[i] = nil
	}
	s.items = s.items[:0]

	var notify func(bool)
	if s.engaged {
		s.engaged = false
		if !s.manual {
			notify = s.notifyLocked(false)
		}
	}
	s.mu.Unlock()

	if notify != nil {
		notify(false)
	}
}
