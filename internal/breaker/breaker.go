package breaker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/iamadamzc/TLDW-sub001/internal/logging"
)

// Registry holds one circuit breaker per stage name. It is process-wide and
// shared by every concurrent job, but always injected explicitly so tests
// can substitute a fresh instance.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.TwoStepCircuitBreaker
	logger   *slog.Logger
}

// NewRegistry constructs an empty breaker registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		breakers: make(map[string]*gobreaker.TwoStepCircuitBreaker),
		logger:   logging.NewComponentLogger(logger, "breaker"),
	}
}

// Configure installs a breaker for the stage: it opens after threshold
// consecutive failures and probes again (half-open, single request) once the
// recovery window elapses. Reconfiguring a stage replaces its breaker.
func (r *Registry) Configure(stage string, threshold int, recovery time.Duration) {
	if stage == "" || threshold <= 0 {
		return
	}
	if recovery <= 0 {
		recovery = time.Minute
	}
	settings := gobreaker.Settings{
		Name:        stage,
		MaxRequests: 1,
		Timeout:     recovery,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(threshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Info("circuit breaker state change",
				logging.String(logging.FieldStage, name),
				logging.String("from", from.String()),
				logging.String("to", to.String()),
			)
		},
	}
	r.mu.Lock()
	r.breakers[stage] = gobreaker.NewTwoStepCircuitBreaker(settings)
	r.mu.Unlock()
}

// Allow consults the stage's breaker before an attempt. When the breaker is
// open it returns ok=false and the orchestrator must skip the stage outright
// (no retry). Otherwise the returned done callback reports the attempt's
// outcome; callers must invoke it exactly once.
func (r *Registry) Allow(stage string) (done func(success bool), ok bool) {
	r.mu.Lock()
	cb := r.breakers[stage]
	r.mu.Unlock()
	if cb == nil {
		// Unconfigured stages are never tripped.
		return func(bool) {}, true
	}
	cbDone, err := cb.Allow()
	if err != nil {
		return nil, false
	}
	return cbDone, true
}

// State reports the stage's breaker state for status output.
func (r *Registry) State(stage string) string {
	r.mu.Lock()
	cb := r.breakers[stage]
	r.mu.Unlock()
	if cb == nil {
		return "closed"
	}
	return cb.State().String()
}
