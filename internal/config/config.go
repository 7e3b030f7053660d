// Package config loads node configuration from YAML, .env files and the
// environment, in that order of precedence (later wins).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/signal_bridge/internal/app/storage/backend"
	"github.com/R3E-Network/signal_bridge/internal/chain"
	"github.com/R3E-Network/signal_bridge/internal/proof"
	"github.com/R3E-Network/signal_bridge/internal/relayer"
	"github.com/R3E-Network/signal_bridge/pkg/logger"
)

// Config is the full node configuration.
type Config struct {
	Log     logger.Config  `yaml:"log" json:"log"`
	HTTP    HTTPConfig     `yaml:"http" json:"http"`
	Storage backend.Config `yaml:"storage" json:"storage"`
	Relayer relayer.Config `yaml:"relayer" json:"relayer"`
	Chains  []ChainConfig  `yaml:"chains" json:"chains"`
}

// HTTPConfig configures the read API server.
type HTTPConfig struct {
	Enabled         bool          `yaml:"enabled" json:"enabled" env:"BRIDGE_HTTP_ENABLED"`
	Addr            string        `yaml:"addr" json:"addr" env:"BRIDGE_HTTP_ADDR"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins" json:"cors_origins"`
	// RateLimit is requests per second per client; 0 disables limiting.
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit" env:"BRIDGE_HTTP_RATE_LIMIT"`
	Burst     int     `yaml:"burst" json:"burst"`
	// JWTSecret enables bearer-token auth on /v1 routes when set.
	JWTSecret string `yaml:"jwt_secret" json:"-" env:"BRIDGE_HTTP_JWT_SECRET"`
	JWTIssuer string `yaml:"jwt_issuer" json:"jwt_issuer" env:"BRIDGE_HTTP_JWT_ISSUER"`
}

// ChainConfig describes one chain and the bridge deployed on it.
type ChainConfig struct {
	chain.Config `yaml:",inline"`

	Bridge string `yaml:"bridge" json:"bridge"`
	// Vault is the custody contract address. Empty means the bridge holds
	// escrowed value itself.
	Vault          string `yaml:"vault" json:"vault"`
	VaultLiquidity string `yaml:"vault_liquidity" json:"vault_liquidity"`
	// AttestorKey is the hex secp256k1 key signing this chain's signals.
	AttestorKey string           `yaml:"attestor_key" json:"-"`
	Genesis     []GenesisAccount `yaml:"genesis" json:"genesis"`
}

// GenesisAccount is a balance minted when the chain starts.
type GenesisAccount struct {
	Address string `yaml:"address" json:"address"`
	Balance string `yaml:"balance" json:"balance"`
}

// Default returns a two-chain devnet configuration.
func Default() *Config {
	return &Config{
		Log: logger.Config{Level: "info", Format: "text"},
		HTTP: HTTPConfig{
			Enabled:         true,
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimit:       50,
			Burst:           100,
		},
		Storage: backend.Config{Driver: backend.DriverMemory},
		Relayer: relayer.DefaultConfig(),
		Chains: []ChainConfig{
			devnetChain(1, "alpha", "0x1111111111111111111111111111111111111111111111111111111111111111"),
			devnetChain(2, "beta", "0x2222222222222222222222222222222222222222222222222222222222222222"),
		},
	}
}

func devnetChain(id uint64, name, key string) ChainConfig {
	return ChainConfig{
		Config:         chain.Config{ID: id, Name: name, DefaultGasLimit: 1_000_000},
		Bridge:         "0x00000000000000000000000000000000000b1d6e",
		Vault:          "0x0000000000000000000000000000000000000a17",
		VaultLiquidity: "1000000000000000000000",
		AttestorKey:    key,
		Genesis: []GenesisAccount{
			{Address: "0x000000000000000000000000000000000000a11c", Balance: "1000000000000000000000"},
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// non-empty), the given .env files (missing files are skipped) and the
// environment.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env (%s): %w", f, err)
		}
	}
	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Chains) == 0 {
		errs = append(errs, errors.New("at least one chain is required"))
	}
	seen := make(map[uint64]bool, len(c.Chains))
	for i, ch := range c.Chains {
		if ch.ID == 0 {
			errs = append(errs, fmt.Errorf("chains[%d]: id is required", i))
		}
		if seen[ch.ID] {
			errs = append(errs, fmt.Errorf("chains[%d]: duplicate id %d", i, ch.ID))
		}
		seen[ch.ID] = true
		if err := ch.validate(); err != nil {
			errs = append(errs, fmt.Errorf("chains[%d] (%d): %w", i, ch.ID, err))
		}
	}
	if err := c.Storage.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Relayer.Enabled {
		if err := c.Relayer.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.HTTP.Enabled {
		if strings.TrimSpace(c.HTTP.Addr) == "" {
			errs = append(errs, errors.New("http: addr is required"))
		}
		if c.HTTP.JWTSecret != "" && len(c.HTTP.JWTSecret) < 32 {
			errs = append(errs, errors.New("http: jwt_secret must be at least 32 bytes"))
		}
		if c.HTTP.RateLimit < 0 {
			errs = append(errs, errors.New("http: rate_limit must not be negative"))
		}
	}
	return errors.Join(errs...)
}

func (c ChainConfig) validate() error {
	if !common.IsHexAddress(c.Bridge) {
		return fmt.Errorf("invalid bridge address %q", c.Bridge)
	}
	if c.Vault != "" {
		if !common.IsHexAddress(c.Vault) {
			return fmt.Errorf("invalid vault address %q", c.Vault)
		}
		if c.VaultAddress() == c.BridgeAddress() {
			return errors.New("vault and bridge must differ")
		}
		if _, err := ParseAmount(c.VaultLiquidity); err != nil {
			return fmt.Errorf("vault_liquidity: %w", err)
		}
	}
	if _, err := proof.ParseKey(c.AttestorKey); err != nil {
		return fmt.Errorf("attestor_key: %w", err)
	}
	for i, g := range c.Genesis {
		if !common.IsHexAddress(g.Address) {
			return fmt.Errorf("genesis[%d]: invalid address %q", i, g.Address)
		}
		if _, err := ParseAmount(g.Balance); err != nil {
			return fmt.Errorf("genesis[%d]: %w", i, err)
		}
	}
	return nil
}

// BridgeAddress returns the parsed bridge address.
func (c ChainConfig) BridgeAddress() common.Address { return common.HexToAddress(c.Bridge) }

// VaultAddress returns the parsed vault address, or the zero address when no
// vault is configured.
func (c ChainConfig) VaultAddress() common.Address {
	if c.Vault == "" {
		return common.Address{}
	}
	return common.HexToAddress(c.Vault)
}

// ParseAmount parses a non-negative decimal or 0x-hex integer. Empty is zero.
func ParseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 0)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative amount %q", s)
	}
	return v, nil
}
