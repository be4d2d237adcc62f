package oracle

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"
)

// ManualFeed provides an in-memory feed implementation used for tests
// and manual overrides during incident response.
type ManualFeed struct {
	mu    sync.RWMutex
	round RoundData
	set   bool
}

// NewManualFeed constructs an empty manual feed.
func NewManualFeed() *ManualFeed {
	return &ManualFeed{}
}

// Set stores the supplied price and timestamp as the current round.
func (m *ManualFeed) Set(price *big.Int, updatedAt time.Time) {
	if m == nil || price == nil {
		return
	}
	m.mu.Lock()
	m.round = RoundData{Price: new(big.Int).Set(price), UpdatedAt: updatedAt}
	m.set = true
	m.mu.Unlock()
}

// SetDecimal parses a base-10 integer price string and stores it.
func (m *ManualFeed) SetDecimal(price string, updatedAt time.Time) error {
	if m == nil {
		return fmt.Errorf("manual feed not configured")
	}
	parsed, ok := new(big.Int).SetString(price, 10)
	if !ok {
		return fmt.Errorf("manual feed: invalid price %q", price)
	}
	m.Set(parsed, updatedAt)
	return nil
}

// LatestRoundData returns the stored round.
func (m *ManualFeed) LatestRoundData(context.Context) (RoundData, error) {
	if m == nil {
		return RoundData{}, fmt.Errorf("manual feed not configured")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.set {
		return RoundData{}, ErrNoQuote
	}
	return m.round.Clone(), nil
}
