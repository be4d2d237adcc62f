package oracle

import (
	"context"
	"math/big"
	"time"
)

// RoundData captures a single price observation from an upstream feed
// along with the timestamp reported by the feed itself.
type RoundData struct {
	// Price is the quoted price in the feed's native fixed-point
	// precision (FeedDecimals digits).
	Price *big.Int
	// UpdatedAt is the instant the upstream feed last refreshed the
	// quote. Staleness is always judged against this value, never
	// against the time the quote was fetched.
	UpdatedAt time.Time
}

// Clone returns a deep copy of the round so callers cannot mutate
// shared state.
func (r RoundData) Clone() RoundData {
	clone := RoundData{UpdatedAt: r.UpdatedAt}
	if r.Price != nil {
		clone.Price = new(big.Int).Set(r.Price)
	}
	return clone
}

// PriceFeed resolves the latest price observation for a single asset
// pair. Implementations must not cache beyond what the upstream source
// reports; the staleness guard relies on honest UpdatedAt values.
type PriceFeed interface {
	LatestRoundData(ctx context.Context) (RoundData, error)
}
