package resilience

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// ErrCircuitOpen is returned when a site has failed too often recently.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// Breaker is a consecutive-failure circuit breaker for one site. After
// Threshold failures in a row it rejects calls until Cooldown has elapsed,
// then lets a single trial call through.
type Breaker struct {
	Threshold int
	Cooldown  time.Duration

	mu       sync.Mutex
	failures int
	openedAt time.Time
	now      func() time.Time
}

// Allow returns ErrCircuitOpen while the breaker is open.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures < b.threshold() {
		return nil
	}
	if b.clock()().Sub(b.openedAt) >= b.Cooldown {
		// Half-open: one more failure re-opens immediately.
		b.failures = b.threshold() - 1
		return nil
	}
	return ErrCircuitOpen
}

// Record updates the breaker with a call result.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		b.failures = 0
		return
	}
	b.failures++
	if b.failures >= b.threshold() {
		b.openedAt = b.clock()()
	}
}

// Open reports whether calls are currently rejected.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures >= b.threshold() && b.clock()().Sub(b.openedAt) < b.Cooldown
}

func (b *Breaker) threshold() int {
	if b.Threshold <= 0 {
		return 5
	}
	return b.Threshold
}

func (b *Breaker) clock() func() time.Time {
	if b.now == nil {
		return time.Now
	}
	return b.now
}

// Breakers hands out one Breaker per key.
type Breakers struct {
	Threshold int
	Cooldown  time.Duration

	mu sync.Mutex
	m  map[string]*Breaker
}

// Get returns the breaker for key, creating it on first use.
func (bs *Breakers) Get(key string) *Breaker {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if bs.m == nil {
		bs.m = make(map[string]*Breaker)
	}
	b, ok := bs.m[key]
	if !ok {
		b = &Breaker{Threshold: bs.Threshold, Cooldown: bs.Cooldown}
		bs.m[key] = b
	}
	return b
}
