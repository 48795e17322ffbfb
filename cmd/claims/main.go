package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "claims",
		Short:        "Facilitator claim lifecycle reconciler",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	reconcileCmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Rebuild claim history for accounts and write reports",
		RunE:  runReconcile,
	}
	addChainFlags(reconcileCmd.Flags())
	reconcileCmd.Flags().String("out", "./data/claims.jsonl", "output JSONL path (empty disables)")
	reconcileCmd.Flags().String("pg-dsn", "", "Postgres DSN")

	root.AddCommand(reconcileCmd)

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow live Facilitator events for one account",
		RunE:  runWatch,
	}
	addChainFlags(watchCmd.Flags())
	watchCmd.Flags().String("out", "./data/claims.jsonl", "output JSONL path (empty disables)")
	watchCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	watchCmd.Flags().Duration("poll-interval", 4*time.Second, "new block poll interval")
	watchCmd.Flags().Uint64("refresh-every", 0, "full refresh every N observed blocks, 0 disables")
	watchCmd.Flags().String("cursor", "", "watch cursor file path (empty disables)")
	watchCmd.Flags().String("pending-tx", "", "funding transaction to confirm and record as pending claim")
	watchCmd.Flags().Int("confirm-max-errors", 10, "receipt errors tolerated while confirming")
	watchCmd.Flags().String("metrics-addr", "", "Prometheus listen address (e.g. :9102)")

	root.AddCommand(watchCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Print the claim log and contract values of an account",
		RunE:  runStatus,
	}
	addChainFlags(statusCmd.Flags())

	root.AddCommand(statusCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addChainFlags(flags *pflag.FlagSet) {
	flags.String("rpc", "", "EVM RPC URL")
	flags.String("contract", "", "Facilitator contract address")
	flags.StringSlice("account", nil, "account addresses (comma-separated)")
	flags.Uint64("from", 0, "first block to query")
	flags.Uint64("batch-size", 5000, "blocks per log filter")
	flags.Duration("query-timeout", 20*time.Second, "timeout per RPC attempt")
	flags.Int("max-retries", 3, "maximum retry attempts")
	flags.Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	flags.String("redis-addr", "", "Redis address for the shared block timestamp cache")
	flags.String("redis-password", "", "Redis password")
	flags.Int("redis-db", 0, "Redis database")
	flags.Duration("redis-ttl", 24*time.Hour, "block timestamp cache TTL")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
