package circuit

import (
	"errors"
	"sync"
	"time"
)

var ErrOpen = errors.New("circuit open")

type State int

const (
	Closed   State = iota // normal operation
	Open                  // calls rejected until openTimeout elapses
	HalfOpen              // limited trial calls decide the next state
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

type Settings struct {
	Threshold   int
	OpenTimeout time.Duration
	MaxHalfOpen int
}

// Breaker opens after Threshold consecutive failures and lets MaxHalfOpen
// trial calls through once OpenTimeout has passed. Outcomes are reported
// explicitly with Success and Failure.
type Breaker struct {
	mu          sync.Mutex
	state       State
	errs        int
	threshold   int
	openTimeout time.Duration
	trial       int
	maxHalfOpen int
	lastChange  time.Time
	now         func() time.Time
	onChange    func(from, to State)
}

func New(s Settings) *Breaker {
	if s.Threshold < 1 {
		s.Threshold = 1
	}
	if s.MaxHalfOpen < 1 {
		s.MaxHalfOpen = 1
	}
	return &Breaker{
		state:       Closed,
		threshold:   s.Threshold,
		openTimeout: s.OpenTimeout,
		maxHalfOpen: s.MaxHalfOpen,
		now:         time.Now,
		lastChange:  time.Now(),
	}
}

// WithClock replaces the time source. Intended for tests.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
	b.lastChange = now()
	return b
}

// OnStateChange registers fn to be called (under the breaker lock) on every transition.
func (b *Breaker) OnStateChange(fn func(from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onChange = fn
}

// Allow returns ErrOpen while the circuit is open or the half-open trial budget is spent.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if b.now().Sub(b.lastChange) < b.openTimeout {
			return ErrOpen
		}
		b.transitionTo(HalfOpen)
		b.trial++
		return nil
	case HalfOpen:
		if b.trial >= b.maxHalfOpen {
			return ErrOpen
		}
		b.trial++
		return nil
	default:
		return nil
	}
}

func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.transitionTo(Closed)
	case Closed:
		b.errs = 0
	}
}

func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.transitionTo(Open)
	case Closed:
		b.errs++
		if b.errs >= b.threshold {
			b.transitionTo(Open)
		}
	}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) transitionTo(next State) {
	prev := b.state
	b.state = next
	b.lastChange = b.now()
	b.trial = 0
	if next == Closed {
		b.errs = 0
	}
	if b.onChange != nil && prev != next {
		b.onChange(prev, next)
	}
}
