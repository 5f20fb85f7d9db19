package clock

import "sync"

var (
	defaultMu    sync.Mutex
	defaultClock *MarketClock
)

// Default returns the process-wide clock, lazily created as LIVE.
// Engine and test code should prefer an explicitly injected clock; this
// accessor exists only for the process boundary.
func Default() *MarketClock {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultClock == nil {
		defaultClock = NewLive()
	}
	return defaultClock
}

// SetDefault replaces the process-wide clock.
func SetDefault(c *MarketClock) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultClock = c
}

// ResetDefault clears the process-wide clock for test isolation.
func ResetDefault() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultClock = nil
}
