package config

import (
	"math/big"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// PoolSeed declares one constant-product pool the daemon registers at start.
// Reserves are decimal strings so TOML carries full 128-bit amounts.
type PoolSeed struct {
	ID       uint32 `toml:"ID"`
	AssetA   uint32 `toml:"AssetA"`
	AssetB   uint32 `toml:"AssetB"`
	ReserveA string `toml:"ReserveA"`
	ReserveB string `toml:"ReserveB"`
	FeeBps   uint32 `toml:"FeeBps"`
}

// BalanceSeed credits an account at start, mainly for local networks.
type BalanceSeed struct {
	Account string `toml:"Account"`
	Asset   uint32 `toml:"Asset"`
	Amount  string `toml:"Amount"`
}

type Config struct {
	RPCAddress string `toml:"RPCAddress"`
	DataDir    string `toml:"DataDir"`
	LogFile    string `toml:"LogFile"`

	// Settlement parameters.
	WindowSeconds         uint64 `toml:"WindowSeconds"`
	MaxIntentDurationSecs uint64 `toml:"MaxIntentDurationSecs"`
	BondAmount            string `toml:"BondAmount"`
	MaxTradeRatioBps      uint32 `toml:"MaxTradeRatioBps"`
	ToleranceBps          uint32 `toml:"ToleranceBps"`
	HookQueueCapacity     int    `toml:"HookQueueCapacity"`

	// RPC admission.
	RPCRatePerSecond float64 `toml:"RPCRatePerSecond"`
	RPCRateBurst     int    `toml:"RPCRateBurst"`

	// Built-in solver loop. Operators running external solvers disable it.
	SolverEnabled bool `toml:"SolverEnabled"`

	// Telemetry. Empty OTLPEndpoint disables the exporter. OTLPHeaders is a
	// comma-separated key=value list forwarded to the collector.
	ServiceName  string `toml:"ServiceName"`
	OTLPEndpoint string `toml:"OTLPEndpoint"`
	OTLPHeaders  string `toml:"OTLPHeaders"`

	Pools    []PoolSeed    `toml:"Pools"`
	Balances []BalanceSeed `toml:"Balances"`
}

// Load reads the configuration at path, creating a default file when none
// exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.RPCAddress == "" {
		c.RPCAddress = ":8645"
	}
	if c.DataDir == "" {
		c.DataDir = "./settle-data"
	}
	if c.WindowSeconds == 0 {
		c.WindowSeconds = 12
	}
	if c.MaxIntentDurationSecs == 0 {
		c.MaxIntentDurationSecs = 86_400
	}
	if c.BondAmount == "" {
		c.BondAmount = "1000000000000"
	}
	if c.ToleranceBps == 0 {
		c.ToleranceBps = 100
	}
	if c.HookQueueCapacity == 0 {
		c.HookQueueCapacity = 1024
	}
	if c.RPCRatePerSecond == 0 {
		c.RPCRatePerSecond = 50
	}
	if c.RPCRateBurst == 0 {
		c.RPCRateBurst = 100
	}
	if c.ServiceName == "" {
		c.ServiceName = "settled"
	}
}

// Bond parses the configured bond amount.
func (c *Config) Bond() (*big.Int, error) {
	return parseAmount(c.BondAmount)
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:    ":8645",
		DataDir:       "./settle-data",
		SolverEnabled: true,
	}
	cfg.applyDefaults()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
