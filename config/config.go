// Package config loads the daemon configuration from a TOML file, writing a
// commented default file on first run.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	ChainID        uint64 `toml:"ChainID"`
	NetworkName    string `toml:"NetworkName"`
	RPCAddress     string `toml:"RPCAddress"`
	GatewayAddress string `toml:"GatewayAddress"`
	Environment    string `toml:"Environment"`

	Sheet  SheetConfig  `toml:"sheet"`
	Claim  ClaimConfig  `toml:"claim"`
	Bridge BridgeConfig `toml:"bridge"`
}

// SheetConfig points at the external tabular store backing the ledger.
type SheetConfig struct {
	Endpoint      string `toml:"Endpoint"`
	SpreadsheetID string `toml:"SpreadsheetID"`
	Token         string `toml:"Token"`
}

// ClaimConfig parameterises the simulated airdrop contract.
type ClaimConfig struct {
	Amount       string `toml:"Amount"`
	MaxClaimants int    `toml:"MaxClaimants"`
}

// BridgeConfig carries the cross-chain relayer settings.
type BridgeConfig struct {
	Address        string `toml:"Address"`
	DatabasePath   string `toml:"DatabasePath"`
	PollIntervalMS int    `toml:"PollIntervalMS"`

	SolanaRPCURL      string `toml:"SolanaRPCURL"`
	SolanaLockProgram string `toml:"SolanaLockProgram"`
	SolanaTokenMint   string `toml:"SolanaTokenMint"`
	SolanaRelayerKey  string `toml:"SolanaRelayerKey"`

	BSCRPCURL       string `toml:"BSCRPCURL"`
	BSCLockContract string `toml:"BSCLockContract"`
	BSCRelayerKey   string `toml:"BSCRelayerKey"`

	SheetRPCURL     string `toml:"SheetRPCURL"`
	SheetRelayerKey string `toml:"SheetRelayerKey"`
}

// Load reads the configuration at path, creating a default file when none
// exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ChainID == 0 {
		c.ChainID = 12345
	}
	if strings.TrimSpace(c.NetworkName) == "" {
		c.NetworkName = "SheetChain"
	}
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = ":8545"
	}
	if strings.TrimSpace(c.GatewayAddress) == "" {
		c.GatewayAddress = ":8088"
	}
	if strings.TrimSpace(c.Claim.Amount) == "" {
		c.Claim.Amount = "1000000000000000000"
	}
	if c.Claim.MaxClaimants == 0 {
		c.Claim.MaxClaimants = 1000
	}
	if strings.TrimSpace(c.Bridge.DatabasePath) == "" {
		c.Bridge.DatabasePath = "bridge.db"
	}
	if c.Bridge.PollIntervalMS == 0 {
		c.Bridge.PollIntervalMS = 10000
	}
}

// ValidateNode checks the fields the RPC daemon cannot run without.
func (c *Config) ValidateNode() error {
	if strings.TrimSpace(c.Sheet.Endpoint) == "" {
		return fmt.Errorf("config: sheet.Endpoint is required")
	}
	if strings.TrimSpace(c.Sheet.SpreadsheetID) == "" {
		return fmt.Errorf("config: sheet.SpreadsheetID is required")
	}
	return nil
}

// ValidateRelayer checks the fields the bridge daemon cannot run without.
func (c *Config) ValidateRelayer() error {
	if err := c.ValidateNode(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Bridge.DatabasePath) == "" {
		return fmt.Errorf("config: bridge.DatabasePath is required")
	}
	return nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create config directory: %w", err)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create config %s: %w", path, err)
	}
	defer file.Close()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, fmt.Errorf("write default config: %w", err)
	}
	return cfg, nil
}
