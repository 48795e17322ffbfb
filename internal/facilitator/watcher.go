package facilitator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"claimScope/internal/metrics"
	"claimScope/internal/model"
	"claimScope/internal/session"
)

// watchKinds are the events the live feed subscribes to.
var watchKinds = []model.EventKind{
	model.KindRequestingUpdate,
	model.KindAllocationUpdated,
	model.KindAllocationClaimed,
	model.KindGasBudgetUpdated,
}

// LiveSource is the part of Source the watcher polls.
type LiveSource interface {
	QueryKinds(ctx context.Context, kinds []model.EventKind, account string, from, to uint64) ([]model.Event, error)
	LatestBlock(ctx context.Context) (uint64, error)
}

// EventHandler consumes live claim events.
type EventHandler interface {
	OnRequestingUpdate(ctx context.Context, event model.RequestingUpdate) error
	OnAllocationClaimed(ctx context.Context, event model.AllocationClaimed) error
}

// RefreshTrigger re-reads everything from chain.
type RefreshTrigger interface {
	Refresh(ctx context.Context) error
}

// AccountProvider exposes the authenticated account.
type AccountProvider interface {
	Current() (session.Identity, bool)
}

// WatchConfig holds settings for the live event feed.
type WatchConfig struct {
	// FromBlock is where a fresh watch starts. Zero means the block after the current head.
	FromBlock    uint64
	PollInterval time.Duration
	// RefreshEvery triggers a full refresh after that many observed blocks. Zero disables it.
	RefreshEvery uint64
	CursorPath   string
}

// Watcher polls new blocks for Facilitator events of the authenticated account and forwards them
// to the handler. It is driven by a single goroutine and is not safe for concurrent use.
type Watcher struct {
	cfg      WatchConfig
	source   LiveSource
	identity AccountProvider
	handler  EventHandler
	refresh  RefreshTrigger
	cursor   *CursorStore
	metrics  *metrics.Metrics
	logger   *zap.Logger

	tracking     bool
	account      string
	next         uint64
	sinceRefresh uint64
}

// NewWatcher builds a Watcher. refresh may be nil.
func NewWatcher(cfg WatchConfig, source LiveSource, identity AccountProvider, handler EventHandler, refresh RefreshTrigger, logger *zap.Logger, m *metrics.Metrics) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 4 * time.Second
	}
	return &Watcher{
		cfg:      cfg,
		source:   source,
		identity: identity,
		handler:  handler,
		refresh:  refresh,
		cursor:   NewCursorStore(cfg.CursorPath),
		metrics:  m,
		logger:   logger.With(zap.String("component", "watcher")),
	}
}

// Run polls until ctx is done. Poll failures are logged and retried on the next tick.
func (w *Watcher) Run(ctx context.Context) error {
	if w.source == nil || w.handler == nil || w.identity == nil {
		return ErrNotInitialized
	}

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := w.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Warn("watch poll failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll dispatches the events of every block mined since the previous poll.
func (w *Watcher) Poll(ctx context.Context) error {
	latest, err := w.source.LatestBlock(ctx)
	if err != nil {
		return err
	}

	id, ok := w.identity.Current()
	if !ok {
		if w.tracking {
			w.logger.Info("no authenticated account, pausing watch", zap.String("previous", w.account))
		}
		w.tracking = false
		w.account = ""
		return nil
	}
	if !w.tracking || !sameAccount(w.account, id.Address) {
		w.start(id.Address, latest)
	}
	if latest < w.next {
		return nil
	}

	from := w.next
	events, err := w.source.QueryKinds(ctx, watchKinds, w.account, from, latest)
	if err != nil {
		return err
	}
	for _, event := range events {
		w.dispatch(ctx, event)
	}

	observed := latest - from + 1
	w.metrics.BlocksObserved(observed)
	if err := w.cursor.Save(w.account, latest); err != nil {
		w.logger.Warn("save watch cursor failed", zap.Error(err))
	}
	w.next = latest + 1
	w.sinceRefresh += observed

	w.logger.Debug("blocks observed",
		zap.String("account", w.account),
		zap.Uint64("from", from),
		zap.Uint64("to", latest),
		zap.Int("events", len(events)),
	)

	if w.refresh != nil && w.cfg.RefreshEvery > 0 && w.sinceRefresh >= w.cfg.RefreshEvery {
		w.sinceRefresh = 0
		if err := w.refresh.Refresh(ctx); err != nil {
			w.logger.Warn("periodic refresh failed", zap.Error(err))
		}
	}
	return nil
}

// Next returns the first block the next poll will inspect.
func (w *Watcher) Next() uint64 {
	return w.next
}

func (w *Watcher) start(account string, latest uint64) {
	w.tracking = true
	w.account = account
	w.sinceRefresh = 0

	switch cursor, ok, err := w.cursor.Load(account); {
	case err != nil:
		w.logger.Warn("load watch cursor failed", zap.Error(err))
		w.next = w.initialBlock(latest)
	case ok:
		w.next = cursor.LastObservedBlock + 1
	default:
		w.next = w.initialBlock(latest)
	}

	w.logger.Info("watching facilitator events",
		zap.String("account", account),
		zap.Uint64("from", w.next),
	)
}

func (w *Watcher) initialBlock(latest uint64) uint64 {
	if w.cfg.FromBlock > 0 {
		return w.cfg.FromBlock
	}
	return latest + 1
}

func (w *Watcher) dispatch(ctx context.Context, event model.Event) {
	meta := event.Meta()
	fields := []zap.Field{
		zap.Stringer("kind", event.Kind()),
		zap.String("tx_hash", meta.TxHash),
		zap.Uint64("block", meta.BlockNumber),
	}

	var err error
	switch typed := event.(type) {
	case model.RequestingUpdate:
		err = w.handler.OnRequestingUpdate(ctx, typed)
	case model.AllocationClaimed:
		err = w.handler.OnAllocationClaimed(ctx, typed)
	case model.AllocationUpdated:
		w.logger.Info("allocation updated", append(fields, zap.String("amount", typed.Amount.String()))...)
	case model.GasBudgetUpdated:
		w.logger.Info("gas budget updated", append(fields, zap.String("amount", typed.Amount.String()))...)
	}
	if err != nil {
		w.logger.Warn("live event handler failed", append(fields, zap.Error(err))...)
	}
}
