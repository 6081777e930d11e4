package registry

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quantfleet/quantfleet/types"
)

// BreakerState is the circuit breaker state for one service.
type BreakerState int

const (
	// BreakerClosed allows calls through.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects calls until the cooldown elapses.
	BreakerOpen
	// BreakerHalfOpen allows a single trial call to decide recovery.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures per-service circuit breaking.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// breaker.
	FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold"`
	// Cooldown is how long an open breaker rejects calls before allowing a
	// half-open trial.
	Cooldown time.Duration `yaml:"cooldown" json:"cooldown"`
}

// DefaultBreakerConfig matches the documented defaults: 5 consecutive
// failures, 60s cooldown.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, Cooldown: 60 * time.Second}
}

// BreakerEvent describes one breaker state change.
type BreakerEvent struct {
	ServiceID string       `json:"service_id"`
	From      BreakerState `json:"from"`
	To        BreakerState `json:"to"`
	Failures  int          `json:"failures"`
	Reason    string       `json:"reason"`
	At        time.Time    `json:"at"`
}

// Breaker is the circuit breaker guarding calls to one service.
type Breaker struct {
	serviceID string
	config    BreakerConfig
	onChange  func(BreakerEvent)
	logger    *zap.Logger

	mu          sync.Mutex
	state       BreakerState
	failures    int
	lastFailure time.Time
	probing     bool
}

// NewBreaker creates a closed breaker for serviceID. onChange, when non-nil,
// is invoked asynchronously on every state transition.
func NewBreaker(serviceID string, config BreakerConfig, onChange func(BreakerEvent), logger *zap.Logger) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{
		serviceID: serviceID,
		config:    config,
		onChange:  onChange,
		logger:    logger.With(zap.String("service_id", serviceID)),
	}
}

// Allow reports whether a call may proceed right now.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil

	case BreakerOpen:
		if time.Since(b.lastFailure) >= b.config.Cooldown {
			b.transition(BreakerHalfOpen, "cooldown elapsed")
			b.probing = true
			return nil
		}
		return types.Errorf(types.ErrCircuitOpen,
			"circuit open for %s after %d consecutive failures, retry in %v",
			b.serviceID, b.failures, b.config.Cooldown-time.Since(b.lastFailure)).
			WithService(b.serviceID)

	case BreakerHalfOpen:
		if !b.probing {
			b.probing = true
			return nil
		}
		return types.Errorf(types.ErrCircuitOpen,
			"circuit half-open for %s, trial call in flight", b.serviceID).
			WithService(b.serviceID)

	default:
		return types.Errorf(types.ErrCircuitOpen, "unknown breaker state %d", b.state)
	}
}

// RecordSuccess closes the breaker after a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.failures = 0
	case BreakerHalfOpen:
		b.probing = false
		b.failures = 0
		b.transition(BreakerClosed, "trial call succeeded")
	}
}

// RecordFailure counts a failed call, opening the breaker at the threshold.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = time.Now()

	switch b.state {
	case BreakerClosed:
		if b.failures >= b.config.FailureThreshold {
			b.transition(BreakerOpen, "failure threshold reached")
		}
	case BreakerHalfOpen:
		b.probing = false
		b.transition(BreakerOpen, "trial call failed")
	}
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset force-closes the breaker. The health loop calls this when a service
// passes its health check, so recovery does not wait out the cooldown.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != BreakerClosed {
		b.transition(BreakerClosed, "reset")
	}
	b.failures = 0
	b.probing = false
}

// transition must be called with the mutex held.
func (b *Breaker) transition(to BreakerState, reason string) {
	from := b.state
	b.state = to

	b.logger.Info("circuit breaker state change",
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.String("reason", reason),
		zap.Int("failures", b.failures),
	)

	if b.onChange != nil {
		ev := BreakerEvent{
			ServiceID: b.serviceID,
			From:      from,
			To:        to,
			Failures:  b.failures,
			Reason:    reason,
			At:        time.Now(),
		}
		// async so a handler touching the breaker never deadlocks
		go b.onChange(ev)
	}
}

// breakerGroup manages one breaker per service.
type breakerGroup struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	config   BreakerConfig
	onChange func(BreakerEvent)
	logger   *zap.Logger
}

func newBreakerGroup(config BreakerConfig, onChange func(BreakerEvent), logger *zap.Logger) *breakerGroup {
	return &breakerGroup{
		breakers: make(map[string]*Breaker),
		config:   config,
		onChange: onChange,
		logger:   logger,
	}
}

func (g *breakerGroup) get(serviceID string) *Breaker {
	g.mu.RLock()
	if b, ok := g.breakers[serviceID]; ok {
		g.mu.RUnlock()
		return b
	}
	g.mu.RUnlock()

	g.mu.Lock()
	defer g.mu.Unlock()
	if b, ok := g.breakers[serviceID]; ok {
		return b
	}
	b := NewBreaker(serviceID, g.config, g.onChange, g.logger)
	g.breakers[serviceID] = b
	return b
}
