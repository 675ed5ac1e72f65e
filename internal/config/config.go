// Package config loads the sync engine's tunable constants (spec §4.8,
// §4.1), overlaying environment variables on top of the spec's defaults
// via struct tags (caarlos0/env).
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Sync groups the Sync Engine's round-shape and out-of-sync thresholds.
type Sync struct {
	// UpLimit is how many dirty payloads one sync round uploads per
	// request (spec §4.8: "pops upLimit (default 150) payloads per round").
	UpLimit int `env:"SYNC_UP_LIMIT" envDefault:"150"`

	// MajorChangeThreshold is the item count at or above which a
	// completed sync emits MajorDataChange (spec §4.8, default 15).
	MajorChangeThreshold int `env:"SYNC_MAJOR_CHANGE_THRESHOLD" envDefault:"15"`

	// MaxDiscordance is how many consecutive integrity-hash mismatches
	// trigger EnterOutOfSync (spec §4.8, default 5).
	MaxDiscordance int `env:"SYNC_MAX_DISCORDANCE" envDefault:"5"`
}

// KDFCostFloors are the per-version minimum KDF costs a Protocol Operator
// must never derive below (spec §4.1). 004 is an Argon2id time-cost
// index; 001-003 are PBKDF2 iteration counts.
type KDFCostFloors struct {
	V004 int `env:"KDF_COST_FLOOR_004" envDefault:"5"`
	V003 int `env:"KDF_COST_FLOOR_003" envDefault:"110000"`
	V002 int `env:"KDF_COST_FLOOR_002" envDefault:"60000"`
	V001 int `env:"KDF_COST_FLOOR_001" envDefault:"3000"`
}

// Config is the top-level configuration container for this module.
type Config struct {
	Sync          Sync          `envPrefix:""`
	KDFCostFloors KDFCostFloors `envPrefix:""`
}

// Load builds a Config from the spec's defaults overlaid by any matching
// environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}
