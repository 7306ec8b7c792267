package config

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

const bpsDenominator = 10_000

// Validate checks every settlement parameter before the daemon starts.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RPCAddress) == "" {
		return fmt.Errorf("config: RPCAddress must be set")
	}
	if c.WindowSeconds == 0 {
		return fmt.Errorf("config: WindowSeconds must be positive")
	}
	if c.MaxTradeRatioBps > bpsDenominator {
		return fmt.Errorf("config: MaxTradeRatioBps exceeds %d", bpsDenominator)
	}
	if c.ToleranceBps > bpsDenominator {
		return fmt.Errorf("config: ToleranceBps exceeds %d", bpsDenominator)
	}
	if c.HookQueueCapacity < 0 {
		return fmt.Errorf("config: HookQueueCapacity must not be negative")
	}
	if _, err := parseAmount(c.BondAmount); err != nil {
		return fmt.Errorf("config: invalid BondAmount: %w", err)
	}
	for i, pool := range c.Pools {
		if pool.AssetA == pool.AssetB {
			return fmt.Errorf("config: pool %d assets must differ", pool.ID)
		}
		if pool.FeeBps >= bpsDenominator {
			return fmt.Errorf("config: pool %d fee out of range", pool.ID)
		}
		if _, err := parseAmount(pool.ReserveA); err != nil {
			return fmt.Errorf("config: pool %d ReserveA: %w", pool.ID, err)
		}
		if _, err := parseAmount(pool.ReserveB); err != nil {
			return fmt.Errorf("config: pool %d ReserveB: %w", pool.ID, err)
		}
		for _, other := range c.Pools[:i] {
			if other.ID == pool.ID {
				return fmt.Errorf("config: duplicate pool id %d", pool.ID)
			}
		}
	}
	for _, balance := range c.Balances {
		if _, err := ParseAccount(balance.Account); err != nil {
			return fmt.Errorf("config: balance account %q: %w", balance.Account, err)
		}
		if _, err := parseAmount(balance.Amount); err != nil {
			return fmt.Errorf("config: balance amount for %q: %w", balance.Account, err)
		}
	}
	return nil
}

// ParseAmount parses a non-negative decimal amount string.
func ParseAmount(s string) (*big.Int, error) {
	return parseAmount(s)
}

func parseAmount(s string) (*big.Int, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, fmt.Errorf("empty amount")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("malformed amount %q", s)
	}
	return amount, nil
}

// ParseAccount parses a 0x-prefixed hex account address.
func ParseAccount(s string) ([20]byte, error) {
	if !common.IsHexAddress(s) {
		return [20]byte{}, fmt.Errorf("malformed account %q", s)
	}
	return [20]byte(common.HexToAddress(s)), nil
}
