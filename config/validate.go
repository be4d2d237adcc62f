package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Validate rejects configurations the daemon cannot start with. Call
// after Normalise.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config: nil configuration")
	}
	if c.EngineAddress != "" && !common.IsHexAddress(c.EngineAddress) {
		return fmt.Errorf("config: invalid EngineAddress %q", c.EngineAddress)
	}
	if c.AdminAddress != "" && !common.IsHexAddress(c.AdminAddress) {
		return fmt.Errorf("config: invalid AdminAddress %q", c.AdminAddress)
	}
	if _, err := c.OracleTimeout(); err != nil {
		return err
	}
	if c.Synth.Decimals > 18 {
		return fmt.Errorf("config: Synth.Decimals %d exceeds 18", c.Synth.Decimals)
	}

	seen := make(map[common.Address]string, len(c.Assets))
	for _, asset := range c.Assets {
		if strings.TrimSpace(asset.Symbol) == "" {
			return fmt.Errorf("config: collateral asset missing Symbol")
		}
		if !common.IsHexAddress(asset.Address) {
			return fmt.Errorf("config: collateral %s has invalid Address %q", asset.Symbol, asset.Address)
		}
		addr := common.HexToAddress(asset.Address)
		if prev, dup := seen[addr]; dup {
			return fmt.Errorf("config: collateral %s duplicates address of %s", asset.Symbol, prev)
		}
		seen[addr] = asset.Symbol
		if asset.FeedDecimals > 18 {
			return fmt.Errorf("config: collateral %s has FeedDecimals %d, max 18", asset.Symbol, asset.FeedDecimals)
		}
	}
	return nil
}
