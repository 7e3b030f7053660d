// Package backend opens a storage.Store by driver name.
package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/R3E-Network/signal_bridge/internal/app/storage"
	"github.com/R3E-Network/signal_bridge/internal/app/storage/memory"
	"github.com/R3E-Network/signal_bridge/internal/app/storage/postgres"
	"github.com/R3E-Network/signal_bridge/internal/app/storage/redis"
)

// Supported drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Config selects and configures a storage driver.
type Config struct {
	Driver        string `yaml:"driver" json:"driver" env:"BRIDGE_STORE_DRIVER"`
	DSN           string `yaml:"dsn" json:"dsn" env:"BRIDGE_POSTGRES_DSN"`
	RedisAddr     string `yaml:"redis_addr" json:"redis_addr" env:"BRIDGE_REDIS_ADDR"`
	RedisPassword string `yaml:"redis_password" json:"-" env:"BRIDGE_REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" json:"redis_db" env:"BRIDGE_REDIS_DB"`
}

// Validate checks that the selected driver has what it needs.
func (c Config) Validate() error {
	switch normalize(c.Driver) {
	case DriverMemory:
		return nil
	case DriverPostgres:
		if c.DSN == "" {
			return fmt.Errorf("storage: postgres driver requires dsn")
		}
		return nil
	case DriverRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("storage: redis driver requires redis_addr")
		}
		return nil
	default:
		return fmt.Errorf("storage: unknown driver %q", c.Driver)
	}
}

// Open returns a store holding the state of chainID.
func Open(ctx context.Context, cfg Config, chainID uint64) (storage.Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch normalize(cfg.Driver) {
	case DriverPostgres:
		return postgres.Open(ctx, cfg.DSN, chainID)
	case DriverRedis:
		return redis.Open(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, chainID)
	default:
		return memory.New(), nil
	}
}

func normalize(driver string) string {
	d := strings.ToLower(strings.TrimSpace(driver))
	if d == "" {
		return DriverMemory
	}
	return d
}
