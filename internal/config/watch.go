package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

// WatchConfig holds configuration for the live watch loop.
type WatchConfig struct {
	Config
	PollInterval     time.Duration
	RefreshEvery     uint64
	Cursor           string
	PendingTx        string
	ConfirmMaxErrors int
	MetricsAddr      string
}

// LoadWatch merges config file, environment variables, and flags into WatchConfig.
func LoadWatch(cfgFile string, flags *pflag.FlagSet) (WatchConfig, error) {
	v, err := newViper(cfgFile, flags)
	if err != nil {
		return WatchConfig{}, err
	}

	cfg := WatchConfig{
		Config:           fromViper(v),
		PollInterval:     v.GetDuration("poll-interval"),
		RefreshEvery:     v.GetUint64("refresh-every"),
		Cursor:           v.GetString("cursor"),
		PendingTx:        v.GetString("pending-tx"),
		ConfirmMaxErrors: v.GetInt("confirm-max-errors"),
		MetricsAddr:      v.GetString("metrics-addr"),
	}
	return cfg, nil
}

// Validate checks the watch settings.
func (c WatchConfig) Validate() error {
	if err := c.Config.Validate(); err != nil {
		return err
	}
	if len(c.Accounts) != 1 {
		return fmt.Errorf("watch follows exactly one account, got %d", len(c.Accounts))
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	return nil
}
