// Package circuit throttles engine bootstraps that keep failing.
package circuit

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrOpen = errors.New("circuit open")

// CooldownError reports how long the breaker stays open.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%s: retry in %s", ErrOpen, e.Remaining.Round(time.Second))
}

func (e *CooldownError) Unwrap() error {
	return ErrOpen
}

// Breaker opens for a cooldown once threshold consecutive failures have
// been recorded. A success closes it and clears the count.
type Breaker struct {
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	failures int
	openTill time.Time
	trips    int
}

func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 1
	}
	return &Breaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

// Allow returns a *CooldownError while the breaker is open.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if now := b.now(); now.Before(b.openTill) {
		return &CooldownError{Remaining: b.openTill.Sub(now)}
	}
	return nil
}

// Failure records a failure and reports whether it opened the breaker.
func (b *Breaker) Failure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures < b.threshold {
		return false
	}
	b.failures = 0
	b.trips++
	b.openTill = b.now().Add(b.cooldown)
	return true
}

func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.openTill = time.Time{}
}

// Remaining is the cooldown left, or zero when closed.
func (b *Breaker) Remaining() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if now := b.now(); now.Before(b.openTill) {
		return b.openTill.Sub(now)
	}
	return 0
}

func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Trips counts how often the breaker has opened.
func (b *Breaker) Trips() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.trips
}
