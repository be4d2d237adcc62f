package cdp

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"cdpcore/oracle"
)

var (
	errNoAssets       = errors.New("cdp registry: at least one collateral asset required")
	errMissingFeed    = errors.New("cdp registry: collateral asset requires a price feed")
	errMissingToken   = errors.New("cdp registry: collateral asset requires a token handle")
	errDuplicateAsset = errors.New("cdp registry: duplicate collateral asset")
	errFeedPrecision  = errors.New("cdp registry: feed decimals exceed unit precision")
	errMissingAddress = errors.New("cdp registry: collateral asset requires an address")
)

// Asset describes one registered collateral token: its identity, the
// staleness-guarded price feed used to value it, and the token handle
// used to move it in and out of custody.
type Asset struct {
	Symbol       string
	Address      common.Address
	FeedDecimals uint8
	Feed         *oracle.Guard
	Token        CollateralToken

	// feedScale lifts the feed's native precision to the 18-decimal
	// unit of account, computed once at registration.
	feedScale *big.Int
}

// Registry is the immutable set of allowed collateral assets, populated
// once at construction. There is no add/remove path: membership is a
// construction-time decision.
type Registry struct {
	ordered []Asset
	index   map[common.Address]int
}

// NewRegistry validates and freezes the collateral set. Every asset
// must carry a non-nil price feed and token handle.
func NewRegistry(assets []Asset) (*Registry, error) {
	if len(assets) == 0 {
		return nil, errNoAssets
	}
	reg := &Registry{
		ordered: make([]Asset, 0, len(assets)),
		index:   make(map[common.Address]int, len(assets)),
	}
	for _, asset := range assets {
		symbol := strings.ToUpper(strings.TrimSpace(asset.Symbol))
		if asset.Address == (common.Address{}) {
			return nil, fmt.Errorf("%w: %s", errMissingAddress, symbol)
		}
		if asset.Feed == nil {
			return nil, fmt.Errorf("%w: %s", errMissingFeed, symbol)
		}
		if asset.Token == nil {
			return nil, fmt.Errorf("%w: %s", errMissingToken, symbol)
		}
		if asset.FeedDecimals > unitDecimals {
			return nil, fmt.Errorf("%w: %s has %d", errFeedPrecision, symbol, asset.FeedDecimals)
		}
		if _, exists := reg.index[asset.Address]; exists {
			return nil, fmt.Errorf("%w: %s", errDuplicateAsset, symbol)
		}
		entry := asset
		entry.Symbol = symbol
		entry.feedScale = new(big.Int).Exp(
			big.NewInt(10), big.NewInt(int64(unitDecimals-asset.FeedDecimals)), nil)
		reg.index[entry.Address] = len(reg.ordered)
		reg.ordered = append(reg.ordered, entry)
	}
	return reg, nil
}

// Contains reports whether the asset is registered.
func (r *Registry) Contains(asset common.Address) bool {
	if r == nil {
		return false
	}
	_, ok := r.index[asset]
	return ok
}

// Lookup returns the registered asset entry.
func (r *Registry) Lookup(asset common.Address) (Asset, bool) {
	if r == nil {
		return Asset{}, false
	}
	idx, ok := r.index[asset]
	if !ok {
		return Asset{}, false
	}
	return r.ordered[idx], true
}

// Assets returns the registered assets in registration order.
func (r *Registry) Assets() []Asset {
	if r == nil {
		return nil
	}
	return append([]Asset(nil), r.ordered...)
}
