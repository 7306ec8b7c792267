package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadParsesSettlementSettings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `RPCAddress = "0.0.0.0:9000"
DataDir = "./data"
WindowSeconds = 6
MaxIntentDurationSecs = 3600
BondAmount = "5000000000000"
MaxTradeRatioBps = 500
ToleranceBps = 50
HookQueueCapacity = 256
RPCRatePerSecond = 25.0
RPCRateBurst = 50
SolverEnabled = true
ServiceName = "settled-test"

[[Pools]]
ID = 1
AssetA = 0
AssetB = 7
ReserveA = "1000000000000000"
ReserveB = "2000000000000000"
FeeBps = 30

[[Balances]]
Account = "0x4242424242424242424242424242424242424242"
Asset = 0
Amount = "123456789"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.RPCAddress != "0.0.0.0:9000" {
		t.Fatalf("unexpected RPCAddress %q", cfg.RPCAddress)
	}
	if cfg.WindowSeconds != 6 {
		t.Fatalf("unexpected WindowSeconds %d", cfg.WindowSeconds)
	}
	if cfg.MaxTradeRatioBps != 500 || cfg.ToleranceBps != 50 {
		t.Fatalf("unexpected bps settings %d/%d", cfg.MaxTradeRatioBps, cfg.ToleranceBps)
	}
	bond, err := cfg.Bond()
	if err != nil {
		t.Fatalf("parse bond: %v", err)
	}
	if bond.Cmp(big.NewInt(5_000_000_000_000)) != 0 {
		t.Fatalf("unexpected bond %s", bond)
	}
	if len(cfg.Pools) != 1 || cfg.Pools[0].AssetB != 7 {
		t.Fatalf("unexpected pools %+v", cfg.Pools)
	}
	if len(cfg.Balances) != 1 || cfg.Balances[0].Amount != "123456789" {
		t.Fatalf("unexpected balances %+v", cfg.Balances)
	}
}

func TestLoadCreatesDefaultConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if _, statErr := os.Stat(path); statErr != nil {
		t.Fatalf("default config not written: %v", statErr)
	}
	if cfg.RPCAddress == "" || cfg.WindowSeconds == 0 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if !cfg.SolverEnabled {
		t.Fatalf("default config should enable the solver")
	}
}

func TestValidateRejectsBadSettings(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero window", func(c *Config) { c.WindowSeconds = 0 }},
		{"ratio overflow", func(c *Config) { c.MaxTradeRatioBps = 10_001 }},
		{"bad bond", func(c *Config) { c.BondAmount = "12.5" }},
		{"pool same assets", func(c *Config) {
			c.Pools = []PoolSeed{{ID: 1, AssetA: 3, AssetB: 3, ReserveA: "1", ReserveB: "1"}}
		}},
		{"duplicate pool id", func(c *Config) {
			c.Pools = []PoolSeed{
				{ID: 1, AssetA: 0, AssetB: 1, ReserveA: "1", ReserveB: "1"},
				{ID: 1, AssetA: 0, AssetB: 2, ReserveA: "1", ReserveB: "1"},
			}
		}},
		{"bad balance account", func(c *Config) {
			c.Balances = []BalanceSeed{{Account: "not-an-address", Amount: "1"}}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.applyDefaults()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
