// Copyright 2025 Palisade Chain
//
// Node configuration. Loaded once at process start from a YAML file with
// environment-variable overrides, validated, then treated as immutable and
// threaded through subsystem constructors.

package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// BlockLimit is the width of the transaction validity / duplicate window in
// blocks.
const BlockLimit = 100

// Config is the process-wide immutable configuration.
type Config struct {
	// Chain identity
	ChainID uint32 `yaml:"chain_id"`
	Version uint32 `yaml:"version"`

	// Data directories
	DataDir string `yaml:"data_dir"`

	// Validator key (hex secp256k1 private key); empty for observer nodes.
	SignerKey string `yaml:"signer_key"`

	// Genesis validators, hex addresses in proposer order.
	Validators []string `yaml:"validators"`

	// Quota limits
	BlockQuotaLimit   uint64 `yaml:"block_quota_limit"`
	AccountQuotaLimit uint64 `yaml:"account_quota_limit"`
	QuotaPrice        uint64 `yaml:"quota_price"`
	CheckQuota        bool   `yaml:"check_quota"`

	// Economics
	ChargeMode      bool   `yaml:"charge_mode"`
	FeeBackPlatform bool   `yaml:"fee_back_platform"`
	PlatformAddress string `yaml:"platform_address"`

	// Permission enforcement
	CheckPermission bool `yaml:"check_permission"`

	// Mempool
	PoolCapacity    int    `yaml:"pool_capacity"`
	PoolFlowLimit   int    `yaml:"pool_flow_limit"`
	PackageLimit    int    `yaml:"package_limit"`
	BatchCount      int    `yaml:"batch_count"`
	BatchDurationNs int64  `yaml:"batch_duration_ns"`
	WALPath         string `yaml:"wal_path"`
	FilterWALPath   string `yaml:"filter_wal_path"`

	// Consensus
	ProposeTimeoutMs int64 `yaml:"propose_timeout_ms"`

	// Sync
	SyncWindow uint64 `yaml:"sync_window"`

	// Listeners
	MetricsAddr string `yaml:"metrics_addr"`
}

// Default returns a configuration with development defaults.
func Default() *Config {
	return &Config{
		ChainID:           1,
		Version:           0,
		DataDir:           "./data",
		BlockQuotaLimit:   1073741824,
		AccountQuotaLimit: 268435456,
		QuotaPrice:        1,
		CheckQuota:        true,
		ChargeMode:        true,
		CheckPermission:   false,
		PoolCapacity:      50000,
		PoolFlowLimit:     30000,
		PackageLimit:      30000,
		BatchCount:        30,
		BatchDurationNs:   30_000_000,
		ProposeTimeoutMs:  3000,
		SyncWindow:        100,
		MetricsAddr:       "127.0.0.1:9090",
	}
}

// Load reads the YAML file at path (when non-empty), applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.DataDir = getEnv("NODE_DATA_DIR", c.DataDir)
	c.SignerKey = getEnv("NODE_SIGNER_KEY", c.SignerKey)
	c.MetricsAddr = getEnv("NODE_METRICS_ADDR", c.MetricsAddr)
	if v, ok := getEnvUint32("NODE_CHAIN_ID"); ok {
		c.ChainID = v
	}
}

// Validate rejects configurations the node cannot run with.
func (c *Config) Validate() error {
	if c.BlockQuotaLimit == 0 {
		return fmt.Errorf("block_quota_limit must be positive")
	}
	if c.AccountQuotaLimit == 0 || c.AccountQuotaLimit > c.BlockQuotaLimit {
		return fmt.Errorf("account_quota_limit must be in (0, block_quota_limit]")
	}
	if c.PoolCapacity <= 0 || c.PackageLimit <= 0 {
		return fmt.Errorf("pool_capacity and package_limit must be positive")
	}
	if c.FeeBackPlatform && !common.IsHexAddress(c.PlatformAddress) {
		return fmt.Errorf("fee_back_platform requires a valid platform_address")
	}
	for _, v := range c.Validators {
		if !common.IsHexAddress(v) {
			return fmt.Errorf("invalid validator address %q", v)
		}
	}
	return nil
}

// GenesisValidators parses the configured validator addresses.
func (c *Config) GenesisValidators() []common.Address {
	out := make([]common.Address, 0, len(c.Validators))
	for _, v := range c.Validators {
		out = append(out, common.HexToAddress(v))
	}
	return out
}

// Platform returns the platform fee address.
func (c *Config) Platform() common.Address {
	return common.HexToAddress(c.PlatformAddress)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvUint32(key string) (uint32, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}
