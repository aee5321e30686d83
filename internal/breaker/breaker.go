// Package breaker stops calling a failing collaborator after a run of
// consecutive failures and lets a single trial call through once a cooldown has
// passed.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// State is the position of a Breaker.
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

// ErrOpen is returned without calling the guarded function while the breaker is open.
var ErrOpen = errors.New("breaker open")

// Settings configures a Breaker.
type Settings struct {
	Name string
	// Threshold is the number of consecutive failures that opens the breaker.
	Threshold int
	// Cooldown is how long the breaker stays open before allowing a trial call.
	Cooldown time.Duration
	// OnStateChange, if set, is called with the lock held.
	OnStateChange func(name string, from, to State)
	// Now replaces time.Now in tests.
	Now func() time.Time
}

// Breaker counts consecutive failures of a collaborator.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	onChange  func(name string, from, to State)
	now       func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// New creates a closed Breaker. A zero Threshold means 5, a zero Cooldown 30s.
func New(st Settings) *Breaker {
	b := &Breaker{
		name:      st.Name,
		threshold: st.Threshold,
		cooldown:  st.Cooldown,
		onChange:  st.OnStateChange,
		now:       st.Now,
	}
	if b.threshold <= 0 {
		b.threshold = 5
	}
	if b.cooldown <= 0 {
		b.cooldown = 30 * time.Second
	}
	if b.now == nil {
		b.now = time.Now
	}
	return b
}

// Name returns the breaker name.
func (b *Breaker) Name() string { return b.name }

// State returns the current state, moving an expired open breaker to half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()
	return b.state
}

// Failures returns the current run of consecutive failures.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

func (b *Breaker) advance() {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		b.transition(StateHalfOpen)
	}
}

func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	if to == StateOpen {
		b.openedAt = b.now()
	}
	if to != StateHalfOpen {
		b.probing = false
	}
	if b.onChange != nil {
		b.onChange(b.name, from, to)
	}
}

func (b *Breaker) acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()
	switch b.state {
	case StateOpen:
		return ErrOpen
	case StateHalfOpen:
		if b.probing {
			return ErrOpen
		}
		b.probing = true
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		b.failures = 0
		b.transition(StateClosed)
		return
	}
	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.threshold {
		b.transition(StateOpen)
	}
}

// Do calls fn unless the breaker is open and records its outcome.
func (b *Breaker) Do(fn func() error) error {
	if err := b.acquire(); err != nil {
		return err
	}
	err := fn()
	b.record(err)
	return err
}
