package main

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"claimScope/internal/claims"
	"claimScope/internal/config"
	"claimScope/internal/model"
)

func runStatus(cmd *cobra.Command, _ []string) error {
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

	e, err := newEngine(ctx, cfg, false, logger, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	for _, account := range cfg.Accounts {
		id, err := e.login(account)
		if err != nil {
			return err
		}
		if err := e.refresher.Refresh(ctx); err != nil {
			return fmt.Errorf("status %s: %w", id.Address, err)
		}
		report, ok := e.refresher.LastReport()
		if !ok || report.Account != id.Address {
			return fmt.Errorf("status %s: no report produced", id.Address)
		}
		if err := printStatus(cmd.OutOrStdout(), report, e.store.NextClaimNumber()); err != nil {
			return err
		}
	}
	return nil
}

func printStatus(out io.Writer, report model.ClaimReport, nextClaim int) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "account\t%s\n", report.Account)
	fmt.Fprintf(w, "chain\t%d\n", report.ChainID)
	if snap := report.Snapshot; snap != nil {
		fmt.Fprintf(w, "block\t%d\n", snap.BlockNumber)
		fmt.Fprintf(w, "allocated\t%s\n", formatUnits(snap.TokenAllocation))
		fmt.Fprintf(w, "claimed\t%s\n", formatUnits(snap.ClaimedTokens))
		fmt.Fprintf(w, "gas budget\t%s available, %s used\n", formatUnits(snap.GasAvailable), formatUnits(snap.GasUsed))
		fmt.Fprintf(w, "oracle fee\t%s wei\n", snap.OracleWeiRequired)
	}
	fmt.Fprintf(w, "next claim\t#%d\n", nextClaim)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "claim\tphase\tamount\trequested\tclaimed")
	for _, claim := range report.State.ClaimLog() {
		fmt.Fprintf(w, "#%d\t%s\t%s\t%s\t%s\n",
			claim.ClaimNumber,
			claim.Phase(),
			valueOr(claim.Amount, "-"),
			refTime(claim.RequestingUpdate),
			refTime(claim.AllocationClaimed),
		)
	}
	fmt.Fprintln(w)

	return w.Flush()
}

func formatUnits(value string) string {
	n, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return value
	}
	return claims.FormatAmount(n)
}

func refTime(ref *model.TxRef) string {
	if ref == nil {
		return "-"
	}
	return ref.Time().Format("2006-01-02 15:04:05")
}

func valueOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
