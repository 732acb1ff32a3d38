package llm

import (
	"sync"
	"time"
)

// breaker fast-fails provider calls after repeated exhausted retries.
// Closed: calls flow and consecutive failures are counted. Open: calls
// are refused until the cooldown passes. Half-open: one probe call is
// admitted; its outcome closes or re-opens the breaker.
type breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	consecutive int
	openedAt    time.Time
	probing     bool
}

func newBreaker(threshold int, cooldown time.Duration) *breaker {
	return &breaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

// allow reports whether a call may proceed. Every admitted call must be
// settled with success, failure or release.
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.consecutive < b.threshold {
		return true
	}
	if b.now().Sub(b.openedAt) < b.cooldown {
		return false
	}
	if b.probing {
		return false
	}
	b.probing = true
	return true
}

// success closes the breaker.
func (b *breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutive = 0
	b.probing = false
}

// failure counts one exhausted call. Reaching the threshold opens the
// breaker; a failed probe re-opens it for another cooldown.
func (b *breaker) failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutive++
	b.probing = false
	if b.consecutive >= b.threshold {
		b.openedAt = b.now()
	}
}

// release settles an admitted call that ended without a provider
// verdict, such as a canceled context.
func (b *breaker) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
}
