package dispatch

import (
	"sync"
	"time"

	"github.com/jordanhubbard/chorus/internal/clock"
)

// blackoutList tracks time-boxed suppression windows per
// persona/user/channel key. Blackout is advisory: it never blocks
// provider calls, it only throttles user-visible failure noise and
// feeds monitoring. Expired entries are evicted lazily on check.
type blackoutList struct {
	clock clock.Clock

	mu      sync.Mutex
	entries map[string]time.Time // key -> expiry
}

func newBlackoutList(clk clock.Clock) *blackoutList {
	return &blackoutList{
		clock:   clk,
		entries: make(map[string]time.Time),
	}
}

// add sets (or extends) the blackout window for key.
func (b *blackoutList) add(key string, duration time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[key] = b.clock.Now().Add(duration)
}

// active reports whether key has an unexpired entry. An expired entry
// is deleted as a side effect.
func (b *blackoutList) active(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	expiry, ok := b.entries[key]
	if !ok {
		return false
	}
	if !b.clock.Now().Before(expiry) {
		delete(b.entries, key)
		return false
	}
	return true
}

// snapshot returns the current unexpired entries, for the admin API.
func (b *blackoutList) snapshot() map[string]time.Time {
	now := b.clock.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]time.Time, len(b.entries))
	for k, expiry := range b.entries {
		if now.Before(expiry) {
			out[k] = expiry
		}
	}
	return out
}
