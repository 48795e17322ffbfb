package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"claimScope/internal/config"
)

func runReconcile(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := newEngine(ctx, cfg, true, logger, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")

	for _, account := range cfg.Accounts {
		id, err := e.login(account)
		if err != nil {
			return err
		}
		if err := e.refresher.Refresh(ctx); err != nil {
			return fmt.Errorf("reconcile %s: %w", id.Address, err)
		}

		report, ok := e.refresher.LastReport()
		if !ok || report.Account != id.Address {
			return fmt.Errorf("reconcile %s: no report produced", id.Address)
		}
		if err := encoder.Encode(report); err != nil {
			return fmt.Errorf("write report: %w", err)
		}

		logger.Info("account reconciled",
			zap.String("account", id.Address),
			zap.Int("finalized", len(report.State.Claims)),
			zap.Bool("pending", report.State.Pending != nil),
			zap.Bool("snapshot", report.Snapshot != nil),
		)
	}

	return nil
}
