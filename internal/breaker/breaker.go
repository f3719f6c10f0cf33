// Package breaker implements a per-dependency circuit breaker: a
// persisted consecutive-failure/cooldown state machine (N consecutive
// failures opens the circuit; after a cooldown it moves to half-open;
// M consecutive successes there closes it again). State survives
// process restarts via JSON persistence under a state directory.
package breaker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/alphabridge/runtime/internal/corelog"
)

// State is the circuit's current mode.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// MetricsCollector receives state-change and outcome notifications.
// A breaker works fine with a nil collector.
type MetricsCollector interface {
	RecordStateChange(name string, from, to State)
	RecordRejection(name string)
}

// Config tunes one breaker.
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	Cooldown         time.Duration
}

// DefaultConfig returns sane defaults for a dependency with no special
// tuning.
func DefaultConfig() Config {
	return Config{FailureThreshold: 5, SuccessThreshold: 2, Cooldown: 300 * time.Second}
}

// persistedState is the on-disk shape of a breaker's state record.
type persistedState struct {
	Name                string    `json:"name"`
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	ConsecutiveSuccess  int       `json:"consecutive_successes"`
	TotalFailures       int64     `json:"total_failures"`
	TotalSuccesses      int64     `json:"total_successes"`
	LastFailureTime     time.Time `json:"last_failure_time,omitempty"`
	OpenedAt            time.Time `json:"opened_at,omitempty"`
}

// Breaker is one named circuit, persisted to stateDir/<name>.json.
type Breaker struct {
	mu sync.Mutex

	name     string
	cfg      Config
	stateDir string
	logger   corelog.Logger
	metrics  MetricsCollector
	nowFn    func() time.Time

	state               State
	consecutiveFailures int
	consecutiveSuccess  int
	totalFailures       int64
	totalSuccesses      int64
	lastFailureTime     time.Time
	openedAt            time.Time
}

// New creates a Breaker named `name`, persisting to
// stateDir/<name>.json. Existing persisted state is loaded immediately
// so counters survive restarts.
func New(name string, cfg Config, stateDir string, logger corelog.Logger) *Breaker {
	if logger == nil {
		logger = corelog.NoOpLogger{}
	}
	b := &Breaker{
		name:     name,
		cfg:      cfg,
		stateDir: stateDir,
		logger:   logger,
		nowFn:    time.Now,
	}
	b.load()
	return b
}

// SetMetrics attaches a metrics collector.
func (b *Breaker) SetMetrics(m MetricsCollector) { b.metrics = m }

// SetClock overrides the breaker's time source; tests only.
func (b *Breaker) SetClock(fn func() time.Time) { b.nowFn = fn }

func (b *Breaker) statePath() string {
	return filepath.Join(b.stateDir, b.name+".json")
}

func (b *Breaker) load() {
	data, err := os.ReadFile(b.statePath())
	if err != nil {
		return
	}
	var p persistedState
	if err := json.Unmarshal(data, &p); err != nil {
		b.logger.Warn("circuit breaker state file malformed, starting fresh", map[string]interface{}{
			"breaker": b.name,
			"error":   err.Error(),
		})
		return
	}
	switch p.State {
	case "open":
		b.state = StateOpen
	case "half_open":
		b.state = StateHalfOpen
	default:
		b.state = StateClosed
	}
	b.consecutiveFailures = p.ConsecutiveFailures
	b.consecutiveSuccess = p.ConsecutiveSuccess
	b.totalFailures = p.TotalFailures
	b.totalSuccesses = p.TotalSuccesses
	b.lastFailureTime = p.LastFailureTime
	b.openedAt = p.OpenedAt
}

func (b *Breaker) persist() {
	if b.stateDir == "" {
		return
	}
	if err := os.MkdirAll(b.stateDir, 0o755); err != nil {
		b.logger.Warn("could not create circuit breaker state dir", map[string]interface{}{"error": err.Error()})
		return
	}
	p := persistedState{
		Name:                b.name,
		State:               b.state.String(),
		ConsecutiveFailures: b.consecutiveFailures,
		ConsecutiveSuccess:  b.consecutiveSuccess,
		TotalFailures:       b.totalFailures,
		TotalSuccesses:      b.totalSuccesses,
		LastFailureTime:     b.lastFailureTime,
		OpenedAt:            b.openedAt,
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(b.statePath(), data, 0o644)
}

// transition moves to `to`, notifying metrics and resetting per-state
// counters.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	switch to {
	case StateOpen:
		b.openedAt = b.nowFn()
	case StateHalfOpen:
		b.consecutiveSuccess = 0
	case StateClosed:
		b.consecutiveFailures = 0
		b.openedAt = time.Time{}
	}
	if b.metrics != nil {
		b.metrics.RecordStateChange(b.name, from, to)
	}
	b.logger.Info("circuit breaker state transition", map[string]interface{}{
		"breaker": b.name,
		"from":    from.String(),
		"to":      to.String(),
	})
}

// maybeHalfOpen applies the open->half_open cooldown rule before reads
// and writes observe state, so an idle breaker still recovers over time.
func (b *Breaker) maybeHalfOpen() {
	if b.state == StateOpen && b.nowFn().Sub(b.openedAt) >= b.cfg.Cooldown {
		b.transition(StateHalfOpen)
	}
}

// CanCall reports whether a call should be attempted: true in closed and
// half-open, false in open.
func (b *Breaker) CanCall() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	allowed := b.state != StateOpen
	if !allowed && b.metrics != nil {
		b.metrics.RecordRejection(b.name)
	}
	return allowed
}

// RecordSuccess records a successful call. Any state other than
// half-open closes immediately; half-open requires SuccessThreshold
// consecutive successes.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()

	b.totalSuccesses++
	b.consecutiveFailures = 0

	if b.state == StateHalfOpen {
		b.consecutiveSuccess++
		if b.consecutiveSuccess >= b.cfg.SuccessThreshold {
			b.transition(StateClosed)
		}
	} else if b.state != StateClosed {
		b.transition(StateClosed)
	}
	b.persist()
}

// RecordFailure records a failed call, opening the circuit once
// consecutive failures reach FailureThreshold.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()

	b.totalFailures++
	b.lastFailureTime = b.nowFn()
	b.consecutiveFailures++
	b.consecutiveSuccess = 0

	if b.state == StateHalfOpen {
		b.transition(StateOpen)
	} else if b.consecutiveFailures >= b.cfg.FailureThreshold {
		b.transition(StateOpen)
	}
	b.persist()
}

// Reset force-closes the breaker and clears counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.consecutiveFailures = 0
	b.consecutiveSuccess = 0
	b.openedAt = time.Time{}
	b.persist()
}

// State returns the current state, applying the cooldown rule first.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	return b.state
}

// Snapshot returns a point-in-time view for status tooling
// (cmd/bridgectl circuit_breaker).
func (b *Breaker) Snapshot() map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	return map[string]interface{}{
		"name":                 b.name,
		"state":                b.state.String(),
		"consecutive_failures": b.consecutiveFailures,
		"consecutive_successes": b.consecutiveSuccess,
		"total_failures":       b.totalFailures,
		"total_successes":      b.totalSuccesses,
	}
}

// Execute runs fn under circuit-breaker protection, raising
// corelog.ErrCircuitOpen (a connection-class error) when the breaker is
// open.
func Execute(ctx context.Context, b *Breaker, fn func(ctx context.Context) error) error {
	if !b.CanCall() {
		return fmt.Errorf("breaker %s: %w", b.name, corelog.ErrCircuitOpen)
	}
	err := fn(ctx)
	if err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}
