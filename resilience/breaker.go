package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without calling through while a Breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerState is the position of a Breaker.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// CircuitBreakerConfig configures a Breaker.
type CircuitBreakerConfig struct {
	Name string
	// MaxFailures consecutive failures open the breaker.
	MaxFailures int
	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration
	// Probes is the number of calls let through while half-open. All of them
	// must succeed to close the breaker.
	Probes int
	// OnStateChange is called with the lock held; it must not call back into
	// the breaker.
	OnStateChange func(name string, from, to BreakerState)
}

// DefaultCircuitBreakerConfig opens after 5 failures for 30s.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{Name: name, MaxFailures: 5, Cooldown: 30 * time.Second, Probes: 1}
}

// Breaker fails fast after repeated failures of the protected call.
type Breaker struct {
	cfg CircuitBreakerConfig
	now func() time.Time

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	// inFlight and passed count half-open probes.
	inFlight int
	passed   int
}

// NewBreaker creates a closed Breaker.
func NewBreaker(cfg CircuitBreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 1
	}
	return &Breaker{cfg: cfg, now: time.Now, state: BreakerClosed}
}

// Execute calls fn unless the breaker is open.
func (b *Breaker) Execute(fn func() error) error {
	if !b.admit() {
		return ErrCircuitOpen
	}
	err := fn()
	b.record(err == nil)
	return err
}

// State returns the current state, moving open to half-open once the
// cooldown has passed.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tick()
	return b.state
}

func (b *Breaker) admit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tick()
	switch b.state {
	case BreakerClosed:
		return true
	case BreakerHalfOpen:
		if b.inFlight < b.cfg.Probes {
			b.inFlight++
			return true
		}
	}
	return false
}

func (b *Breaker) record(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerClosed:
		if ok {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.cfg.MaxFailures {
			b.moveTo(BreakerOpen)
		}
	case BreakerHalfOpen:
		if !ok {
			b.moveTo(BreakerOpen)
			return
		}
		b.passed++
		if b.passed >= b.cfg.Probes {
			b.moveTo(BreakerClosed)
		}
	}
}

func (b *Breaker) tick() {
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		b.moveTo(BreakerHalfOpen)
	}
}

func (b *Breaker) moveTo(to BreakerState) {
	from := b.state
	b.state = to
	b.failures, b.inFlight, b.passed = 0, 0, 0
	if to == BreakerOpen {
		b.openedAt = b.now()
	}
	if b.cfg.OnStateChange != nil && from != to {
		b.cfg.OnStateChange(b.cfg.Name, from, to)
	}
}
