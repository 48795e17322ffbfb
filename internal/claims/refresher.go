package claims

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"claimScope/internal/metrics"
	"claimScope/internal/model"
	"claimScope/internal/storage"
)

// SnapshotReader reads the contract view values of an account.
type SnapshotReader interface {
	Snapshot(ctx context.Context, account string) (model.FacilitatorSnapshot, error)
}

// RefresherConfig identifies the deployment a report belongs to.
type RefresherConfig struct {
	ChainID  uint64
	Contract string
}

// Refresher re-reads everything for the authenticated account: contract views and claim history.
// Only one refresh runs at a time; overlapping requests are dropped.
type Refresher struct {
	cfg      RefresherConfig
	store    *Store
	reader   SnapshotReader
	sink     storage.Storage
	identity IdentityProvider
	logger   *zap.Logger
	metrics  *metrics.Metrics
	gate     Gate

	mu      sync.Mutex
	last    model.ClaimReport
	hasLast bool
}

// NewRefresher builds a Refresher. reader and sink may be nil.
func NewRefresher(cfg RefresherConfig, store *Store, reader SnapshotReader, sink storage.Storage, identity IdentityProvider, logger *zap.Logger, m *metrics.Metrics) *Refresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if identity == nil {
		identity = anonymous{}
	}
	return &Refresher{
		cfg:      cfg,
		store:    store,
		reader:   reader,
		sink:     sink,
		identity: identity,
		logger:   logger.With(zap.String("component", "refresher")),
		metrics:  m,
	}
}

// Refresh reads the snapshot and reconciles claims concurrently, then writes the report to the sink.
// A snapshot failure is logged and leaves the report without a snapshot.
func (r *Refresher) Refresh(ctx context.Context) error {
	if r.store == nil {
		return fmt.Errorf("refresh: %w", errStoreMissing)
	}
	ran, err := r.gate.TryRun(ctx, r.refresh)
	if !ran {
		r.logger.Debug("refresh already in flight, skipping")
		r.metrics.RefreshSkipped("refresh")
		return nil
	}
	return err
}

// Cancel aborts an in-flight refresh.
func (r *Refresher) Cancel() {
	r.gate.Cancel()
}

// LastReport returns the report of the latest successful refresh.
func (r *Refresher) LastReport() (model.ClaimReport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last, r.hasLast
}

func (r *Refresher) refresh(ctx context.Context) error {
	id, authed := r.identity.Current()

	var snapshot *model.FacilitatorSnapshot
	g, gctx := errgroup.WithContext(ctx)
	if authed && r.reader != nil {
		g.Go(func() error {
			snap, err := r.reader.Snapshot(gctx, id.Address)
			if err != nil {
				r.logger.Warn("facilitator snapshot failed", zap.String("account", id.Address), zap.Error(err))
				return nil
			}
			snapshot = &snap
			return nil
		})
	}
	g.Go(func() error {
		return r.store.QueryEventsForAuthedUser(gctx)
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("refresh: %w", err)
	}

	state := r.store.Snapshot()
	if state.Account == "" {
		return nil
	}
	if snapshot != nil && !strings.EqualFold(snapshot.Account, state.Account) {
		snapshot = nil
	}

	report := model.ClaimReport{
		ChainID:     r.cfg.ChainID,
		Contract:    r.cfg.Contract,
		Account:     state.Account,
		State:       state,
		Snapshot:    snapshot,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}

	r.mu.Lock()
	r.last = report
	r.hasLast = true
	r.mu.Unlock()

	if r.sink != nil {
		if err := r.sink.SaveState(ctx, report); err != nil {
			return fmt.Errorf("save claim report: %w", err)
		}
	}
	return nil
}
