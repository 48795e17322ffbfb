package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"claimScope/internal/config"
	"claimScope/internal/facilitator"
	"claimScope/internal/metrics"
)

func runWatch(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadWatch(cfgFile, cmd.Flags())
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

	var m *metrics.Metrics
	if cfg.MetricsAddr != "" {
		m = metrics.Init()
	}

	e, err := newEngine(ctx, cfg.Config, true, logger, m)
	if err != nil {
		return err
	}
	defer e.Close()

	id, err := e.login(cfg.Accounts[0])
	if err != nil {
		return err
	}
	head, err := e.source.LatestBlock(ctx)
	if err != nil {
		return fmt.Errorf("latest block: %w", err)
	}
	if err := e.refresher.Refresh(ctx); err != nil {
		logger.Warn("initial refresh failed", zap.String("account", id.Address), zap.Error(err))
	}

	watcher := facilitator.NewWatcher(watcherConfig(cfg, head), e.source, e.session, e.store, e.refresher, logger, m)

	logger.Info("watch start",
		zap.String("account", id.Address),
		zap.Uint64("head", head),
		zap.Duration("poll_interval", cfg.PollInterval),
		zap.Uint64("refresh_every", cfg.RefreshEvery),
		zap.String("cursor", cfg.Cursor),
		zap.String("pending_tx", cfg.PendingTx),
		zap.String("metrics_addr", cfg.MetricsAddr),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return watcher.Run(gctx)
	})

	if cfg.PendingTx != "" {
		confirmer := facilitator.NewConfirmer(e.chain, e.store, cfg.PollInterval, cfg.ConfirmMaxErrors, logger)
		g.Go(func() error {
			added, err := confirmer.WaitFunded(gctx, cfg.PendingTx)
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				logger.Error("confirm funding transaction", zap.String("tx_hash", cfg.PendingTx), zap.Error(err))
				return nil
			}
			if !added {
				logger.Info("funding transaction already known or another claim is in flight", zap.String("tx_hash", cfg.PendingTx))
			}
			return nil
		})
	}

	if cfg.MetricsAddr != "" {
		srv := newMetricsServer(cfg.MetricsAddr, e)
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		logger.Info("watch stopped")
		return nil
	}
	return err
}

// watcherConfig starts the live feed at the block after head, the head read before the initial
// refresh. Blocks mined while the refresh runs are then seen by both; the store drops replays.
func watcherConfig(cfg config.WatchConfig, head uint64) facilitator.WatchConfig {
	return facilitator.WatchConfig{
		FromBlock:    head + 1,
		PollInterval: cfg.PollInterval,
		RefreshEvery: cfg.RefreshEvery,
		CursorPath:   cfg.Cursor,
	}
}

func newMetricsServer(addr string, e *engine) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		status := map[string]interface{}{"status": "ok"}
		code := http.StatusOK
		if _, err := e.chain.LatestBlockNumber(ctx); err != nil {
			status["rpc"] = "fail"
			code = http.StatusServiceUnavailable
		} else {
			status["rpc"] = "ok"
		}
		status["pending_claim"] = e.store.HasPendingClaim()
		status["next_claim_number"] = e.store.NextClaimNumber()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	})

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
