package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestLoadMergesFlagsAndEnv(t *testing.T) {
	t.Setenv("CLAIMS_RPC", "http://localhost:8545")
	t.Setenv("CLAIMS_BATCH_SIZE", "250")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("contract", "", "")
	flags.StringSlice("account", nil, "")
	if err := flags.Parse([]string{
		"--contract", "0x00000000000000000000000000000000000000f1",
		"--account", "0x1111111111111111111111111111111111111111, 0x2222222222222222222222222222222222222222",
	}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load(filepath.Join(t.TempDir(), "missing-ok.yaml"), nil)
	if err == nil {
		t.Fatalf("expected error for explicit missing config file, got %+v", cfg)
	}

	cfg, err = Load("", flags)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCURL != "http://localhost:8545" || cfg.BatchSize != 250 {
		t.Fatalf("env values not applied: %+v", cfg)
	}
	if len(cfg.Accounts) != 2 || cfg.Accounts[1] != "0x2222222222222222222222222222222222222222" {
		t.Fatalf("accounts mismatch: %v", cfg.Accounts)
	}
	if cfg.MaxRetries != 3 || cfg.RetryBackoff != 500*time.Millisecond {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadWatchFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "claims.yaml")
	content := []byte(`rpc: http://node:8545
contract: "0x00000000000000000000000000000000000000f1"
account: "0x1111111111111111111111111111111111111111"
poll-interval: 2s
refresh-every: 20
pending-tx: "0xabc"
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadWatch(path, nil)
	if err != nil {
		t.Fatalf("load watch: %v", err)
	}
	if cfg.PollInterval != 2*time.Second || cfg.RefreshEvery != 20 || cfg.PendingTx != "0xabc" {
		t.Fatalf("watch values mismatch: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	cfg.Accounts = append(cfg.Accounts, "0x2222222222222222222222222222222222222222")
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for multiple watch accounts")
	}
}

func TestValidateRequiresContract(t *testing.T) {
	cfg := Config{RPCURL: "http://node", Accounts: []string{"0x1"}, BatchSize: 1}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error without contract")
	}
}
