// Package config loads static store lists and tuning knobs from the
// process environment using caarlos0/env struct tags, replacing the
// DI-container configuration binding the original source relied on with
// the explicit, typed construction Design Note §9 calls for
// ("cyclic references... replace container-driven wiring with an explicit
// builder").
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// StoreConfig describes one database backend, loaded from
// OUTBOXKIT_STORE_* environment variables.
type StoreConfig struct {
	Identifier             string `env:"OUTBOXKIT_STORE_IDENTIFIER" envDefault:"default"`
	ConnectionString       string `env:"OUTBOXKIT_STORE_DSN,required"`
	SchemaName             string `env:"OUTBOXKIT_STORE_SCHEMA" envDefault:"infra"`
	EnableSchemaDeployment bool   `env:"OUTBOXKIT_STORE_ENABLE_SCHEMA_DEPLOYMENT" envDefault:"true"`
}

// TuningConfig carries the poll/lease/claim knobs every background loop
// accepts, matching the defaults spec.md §5 names (30s scheduler poll,
// 250ms-and-up inbox poll, 100ms floor, 30s claim lease).
type TuningConfig struct {
	ClaimBatchSize     int           `env:"OUTBOXKIT_CLAIM_BATCH_SIZE" envDefault:"100"`
	ClaimLeaseDuration time.Duration `env:"OUTBOXKIT_CLAIM_LEASE_DURATION" envDefault:"30s"`

	InboxPollInterval time.Duration `env:"OUTBOXKIT_INBOX_POLL_INTERVAL" envDefault:"250ms"`
	OutboxPollInterval time.Duration `env:"OUTBOXKIT_OUTBOX_POLL_INTERVAL" envDefault:"1s"`

	SchedulerMinSleep time.Duration `env:"OUTBOXKIT_SCHEDULER_MIN_SLEEP" envDefault:"100ms"`
	SchedulerMaxSleep time.Duration `env:"OUTBOXKIT_SCHEDULER_MAX_SLEEP" envDefault:"30s"`

	MaxAttempts uint32 `env:"OUTBOXKIT_MAX_ATTEMPTS" envDefault:"10"`

	ReaperInterval time.Duration `env:"OUTBOXKIT_REAPER_INTERVAL" envDefault:"15s"`

	DiscoveryRefreshInterval time.Duration `env:"OUTBOXKIT_DISCOVERY_REFRESH_INTERVAL" envDefault:"5m"`
}

// Config is the top-level environment-loaded configuration: a single
// store plus shared tuning, the StaticProvider case of spec.md §4.7.
// Multi-store, discovery-driven deployments load TuningConfig the same
// way but supply their own ports.DatabaseDiscovery rather than a fixed
// StoreConfig.
type Config struct {
	Store   StoreConfig
	Tuning  TuningConfig
}

// Load parses Config from the process environment.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg.Store); err != nil {
		return nil, fmt.Errorf("config: parse store: %w", err)
	}
	if err := env.Parse(&cfg.Tuning); err != nil {
		return nil, fmt.Errorf("config: parse tuning: %w", err)
	}
	return &cfg, nil
}
