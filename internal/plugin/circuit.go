package plugin

import (
	"sync"
	"time"
)

// CircuitBreaker tracks consecutive failures per plugin name (spec §4.5).
// A successful run resets the counter; reaching Threshold opens the
// circuit for Cooldown, during which Allow reports false without the
// caller ever spawning a worker.
type CircuitBreaker struct {
	Threshold int
	Cooldown  time.Duration

	mu    sync.Mutex
	state map[string]*breakerState
}

type breakerState struct {
	consecutiveFailures int
	openUntil           time.Time
}

// NewCircuitBreaker returns a breaker with the spec's defaults (threshold
// 3, cooldown 60s) when either argument is zero.
func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}
	return &CircuitBreaker{Threshold: threshold, Cooldown: cooldown, state: make(map[string]*breakerState)}
}

// Allow reports whether pluginName may run now.
func (b *CircuitBreaker) Allow(pluginName string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.state[pluginName]
	if !ok {
		return true
	}
	return time.Now().After(st.openUntil)
}

// RecordSuccess resets pluginName's failure counter.
func (b *CircuitBreaker) RecordSuccess(pluginName string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.state, pluginName)
}

// RecordFailure increments pluginName's consecutive-failure counter,
// opening the circuit once it reaches Threshold.
func (b *CircuitBreaker) RecordFailure(pluginName string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.state[pluginName]
	if !ok {
		st = &breakerState{}
		b.state[pluginName] = st
	}
	st.consecutiveFailures++
	if st.consecutiveFailures >= b.Threshold {
		st.openUntil = time.Now().Add(b.Cooldown)
	}
}

// Reset clears all breaker state, for test isolation.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = make(map[string]*breakerState)
}
