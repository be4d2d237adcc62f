package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrStalePrice indicates the upstream quote is older than the
	// configured timeout. Valuation-dependent operations must fail
	// closed when this is returned.
	ErrStalePrice = errors.New("oracle: stale price")
	// ErrNoQuote indicates the upstream feed returned an empty round.
	ErrNoQuote = errors.New("oracle: no quote available")
)

// DefaultTimeout is the staleness window applied when a guard is
// constructed without an explicit override.
const DefaultTimeout = 3 * time.Hour

// Guard wraps a price feed and rejects quotes whose age meets or
// exceeds the timeout. The check runs on every read: staleness is
// relative to the call instant, so results are never cached.
type Guard struct {
	feed    PriceFeed
	timeout time.Duration
	now     func() time.Time
}

// NewGuard wraps the provided feed. A non-positive timeout falls back
// to DefaultTimeout.
func NewGuard(feed PriceFeed, timeout time.Duration) *Guard {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Guard{feed: feed, timeout: timeout, now: time.Now}
}

// SetClock overrides the time source. Intended for tests exercising the
// staleness boundary.
func (g *Guard) SetClock(now func() time.Time) {
	if g == nil || now == nil {
		return
	}
	g.now = now
}

// Timeout returns the configured staleness window.
func (g *Guard) Timeout() time.Duration {
	if g == nil {
		return 0
	}
	return g.timeout
}

// LatestRoundData fetches a fresh quote from the wrapped feed. It fails
// with ErrStalePrice when now - UpdatedAt >= timeout; the boundary is
// inclusive so a quote exactly at the window edge is already rejected.
func (g *Guard) LatestRoundData(ctx context.Context) (RoundData, error) {
	if g == nil || g.feed == nil {
		return RoundData{}, fmt.Errorf("oracle: guard not configured")
	}
	round, err := g.feed.LatestRoundData(ctx)
	if err != nil {
		return RoundData{}, err
	}
	if round.Price == nil || round.UpdatedAt.IsZero() {
		return RoundData{}, ErrNoQuote
	}
	age := g.now().Sub(round.UpdatedAt)
	if age >= g.timeout {
		return RoundData{}, fmt.Errorf("%w: quote is %s old (timeout %s)", ErrStalePrice, age, g.timeout)
	}
	return round.Clone(), nil
}

// Age reports how old the current quote is without enforcing the
// staleness window. Health endpoints use this to surface feed lag.
func (g *Guard) Age(ctx context.Context) (time.Duration, error) {
	if g == nil || g.feed == nil {
		return 0, fmt.Errorf("oracle: guard not configured")
	}
	round, err := g.feed.LatestRoundData(ctx)
	if err != nil {
		return 0, err
	}
	if round.UpdatedAt.IsZero() {
		return 0, ErrNoQuote
	}
	return g.now().Sub(round.UpdatedAt), nil
}
