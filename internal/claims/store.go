package claims

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"claimScope/internal/facilitator"
	"claimScope/internal/metrics"
	"claimScope/internal/model"
	"claimScope/internal/session"
)

// EventSource queries Facilitator events for one account. A zero to means latest.
type EventSource interface {
	Query(ctx context.Context, kind model.EventKind, account string, from, to uint64) ([]model.Event, error)
}

// TimestampResolver resolves the timestamp of a block.
type TimestampResolver interface {
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
}

// IdentityProvider exposes the authenticated account.
type IdentityProvider interface {
	Current() (session.Identity, bool)
}

type anonymous struct{}

func (anonymous) Current() (session.Identity, bool) { return session.Identity{}, false }

var (
	// errAllQueriesFailed means no event kind could be queried; the previous state is kept.
	errAllQueriesFailed = errors.New("all event queries failed")
	errStoreMissing     = errors.New("claim store is nil")
)

// Store owns the facilitator claim state of the authenticated account.
//
// Reconciliation replaces the state wholesale and is the source of truth. AddPendingClaim and the
// live event handlers are an optimistic overlay that the next reconciliation corrects. All
// mutations are serialized; state owned by a previous session is dropped before any operation.
type Store struct {
	source     EventSource
	timestamps TimestampResolver
	identity   IdentityProvider
	logger     *zap.Logger
	metrics    *metrics.Metrics
	gate       Gate

	mu       sync.Mutex
	state    model.FacilitatorState
	owner    session.Identity
	hasOwner bool
}

// NewStore builds a Store with its dependencies.
func NewStore(source EventSource, timestamps TimestampResolver, identity IdentityProvider, logger *zap.Logger, m *metrics.Metrics) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if identity == nil {
		identity = anonymous{}
	}
	return &Store{
		source:     source,
		timestamps: timestamps,
		identity:   identity,
		logger:     logger.With(zap.String("component", "claim-store")),
		metrics:    m,
		state:      model.FacilitatorState{Claims: []model.ClaimRecord{}},
	}
}

// QueryEventsForAuthedUser reconciles the claim history of the authenticated account from chain
// events. Without an authenticated account the store is reset. A call made while another
// reconciliation is in flight is dropped.
func (s *Store) QueryEventsForAuthedUser(ctx context.Context) error {
	if s.source == nil {
		return facilitator.ErrNotInitialized
	}

	id, ok := s.identity.Current()
	if !ok {
		s.Reset()
		return nil
	}

	ran, err := s.gate.TryRun(ctx, func(ctx context.Context) error {
		return s.reconcile(ctx, id)
	})
	if !ran {
		s.logger.Debug("reconciliation already in flight, skipping", zap.String("account", id.Address))
		s.metrics.RefreshSkipped("reconcile")
		return nil
	}
	return err
}

func (s *Store) reconcile(ctx context.Context, id session.Identity) error {
	s.mu.Lock()
	var from uint64
	if s.hasOwner && s.owner.Same(id) {
		from = s.state.LastQueriedBlockHeight
	}
	s.mu.Unlock()

	events, err := s.queryAll(ctx, id.Address, from)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("reconciliation failed, keeping previous state",
				zap.String("account", id.Address),
				zap.Error(err),
			)
		}
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	finalized, pending := Reconcile(events, 1)

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.identity.Current()
	if !ok || !current.Same(id) {
		s.logger.Info("discarding reconciliation for stale session",
			zap.String("account", id.Address),
			zap.Uint64("epoch", id.Epoch),
		)
		s.metrics.StaleDiscarded()
		return nil
	}

	s.syncOwnerLocked(current, true)
	s.state.Claims = finalized
	s.state.Pending = pending
	// LastQueriedBlockHeight stays put, so every pass renumbers from the first claim.

	s.metrics.Reconciled()
	s.metrics.ObserveState(len(s.state.Claims), s.state.Pending != nil)
	s.logger.Info("claims reconciled",
		zap.String("account", id.Address),
		zap.Int("events", len(events)),
		zap.Int("finalized", len(finalized)),
		zap.Bool("pending", pending != nil),
	)
	return nil
}

// queryAll fetches every claim event kind concurrently. A failed kind contributes no events.
func (s *Store) queryAll(ctx context.Context, account string, from uint64) ([]model.Event, error) {
	results := make([][]model.Event, len(model.ClaimEventKinds))
	failed := make([]bool, len(model.ClaimEventKinds))

	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range model.ClaimEventKinds {
		i, kind := i, kind
		g.Go(func() error {
			events, err := s.source.Query(gctx, kind, account, from, 0)
			if err != nil {
				if errors.Is(err, facilitator.ErrNotInitialized) {
					return err
				}
				s.logger.Warn("event query failed, treating as empty",
					zap.Stringer("kind", kind),
					zap.String("account", account),
					zap.Error(err),
				)
				s.metrics.QueryError(kind.String())
				failed[i] = true
				return nil
			}
			results[i] = events
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	allFailed := true
	for _, f := range failed {
		allFailed = allFailed && f
	}
	if allFailed {
		return nil, fmt.Errorf("reconcile %s: %w", account, errAllQueriesFailed)
	}

	combined := make([]model.Event, 0)
	for _, events := range results {
		combined = append(combined, events...)
	}
	return combined, nil
}

// AddPendingClaim records the caller's own confirmed funding transaction as the in-flight claim.
// It returns false without changing state when the transaction is already known or another claim
// is in flight.
func (s *Store) AddPendingClaim(txHash string, blockTimestamp uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.identity.Current()
	if !ok {
		s.logger.Warn("add pending claim without authenticated account", zap.String("tx_hash", txHash))
		return false
	}
	s.syncOwnerLocked(id, true)

	if s.knowsRequestingUpdateLocked(txHash) {
		s.logger.Info("add pending claim duplicate", zap.String("tx_hash", txHash))
		return false
	}
	if s.state.Pending != nil {
		s.logger.Warn("add pending claim while another claim is in flight",
			zap.String("tx_hash", txHash),
			zap.Int("pending_claim", s.state.Pending.ClaimNumber),
		)
		return false
	}

	claim := model.ClaimRecord{
		ClaimNumber:      s.nextClaimNumberLocked(),
		RequestingUpdate: &model.TxRef{TxHash: txHash, Timestamp: blockTimestamp},
	}
	s.state.Pending = &claim
	s.metrics.ObserveState(len(s.state.Claims), true)
	s.logger.Info("pending claim added",
		zap.String("account", id.Address),
		zap.Int("claim_number", claim.ClaimNumber),
		zap.String("tx_hash", txHash),
	)
	return true
}

// OnRequestingUpdate handles a live RequestingUpdate event for the authenticated account.
func (s *Store) OnRequestingUpdate(ctx context.Context, event model.RequestingUpdate) error {
	id, ok := s.identity.Current()
	if !ok || !strings.EqualFold(event.Account, id.Address) {
		return nil
	}

	ts, err := s.eventTimestamp(ctx, event.LogMeta)
	if err != nil {
		return err
	}
	s.AddPendingClaim(event.TxHash, ts)
	return nil
}

// OnAllocationClaimed finalizes the pending claim from a live AllocationClaimed event. Events with
// no pending claim come from activity outside this session and are dropped.
func (s *Store) OnAllocationClaimed(ctx context.Context, event model.AllocationClaimed) error {
	s.mu.Lock()
	id, ok := s.identity.Current()
	if !ok || !strings.EqualFold(event.Account, id.Address) {
		s.mu.Unlock()
		return nil
	}
	s.syncOwnerLocked(id, true)

	if s.knowsAllocationClaimedLocked(event.TxHash) {
		s.mu.Unlock()
		return nil
	}
	if s.state.Pending == nil || s.state.Pending.AllocationClaimed != nil {
		s.mu.Unlock()
		s.logger.Warn("allocation claimed without pending claim, dropping",
			zap.String("account", event.Account),
			zap.String("tx_hash", event.TxHash),
			zap.Uint64("block", event.BlockNumber),
		)
		s.metrics.StrayEvent()
		return nil
	}
	pendingTx := s.state.Pending.RequestingUpdate.TxHash
	s.mu.Unlock()

	ts, err := s.eventTimestamp(ctx, event.LogMeta)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.identity.Current()
	if !ok || !current.Same(id) || s.state.Pending == nil || !s.state.Pending.HasRequestingUpdate(pendingTx) {
		s.logger.Info("pending claim changed while resolving timestamp, dropping event", zap.String("tx_hash", event.TxHash))
		return nil
	}

	claim := s.state.Pending.Clone()
	claim.AllocationClaimed = &model.TxRef{
		TxHash:      event.TxHash,
		BlockNumber: event.BlockNumber,
		Timestamp:   ts,
	}
	claim.Amount = FormatAmount(event.Amount)

	s.state.Claims = append([]model.ClaimRecord{claim}, s.state.Claims...)
	s.state.Pending = nil

	s.metrics.ClaimFinalized()
	s.metrics.ObserveState(len(s.state.Claims), false)
	s.logger.Info("pending claim finalized",
		zap.String("account", id.Address),
		zap.Int("claim_number", claim.ClaimNumber),
		zap.String("amount", claim.Amount),
		zap.String("tx_hash", event.TxHash),
	)
	return nil
}

// Reset clears all state and cancels an in-flight reconciliation.
func (s *Store) Reset() {
	s.mu.Lock()
	s.resetLocked()
	s.mu.Unlock()
	s.gate.Cancel()
}

// Snapshot returns a copy of the state of the authenticated account.
func (s *Store) Snapshot() model.FacilitatorState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncOwnerLocked(s.identity.Current())
	return s.state.Clone()
}

// ClaimLog returns finalized claims followed by the pending claim.
func (s *Store) ClaimLog() []model.ClaimRecord {
	return s.Snapshot().ClaimLog()
}

// HasPendingClaim reports whether a claim is in flight.
func (s *Store) HasPendingClaim() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncOwnerLocked(s.identity.Current())
	return s.state.Pending != nil
}

// NextClaimNumber returns the number the next new claim would get.
func (s *Store) NextClaimNumber() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncOwnerLocked(s.identity.Current())
	return s.nextClaimNumberLocked()
}

func (s *Store) eventTimestamp(ctx context.Context, meta model.LogMeta) (uint64, error) {
	if meta.Timestamp != 0 {
		return meta.Timestamp, nil
	}
	if s.timestamps == nil {
		return 0, facilitator.ErrNotInitialized
	}
	ts, err := s.timestamps.BlockTimestamp(ctx, meta.BlockNumber)
	if err != nil {
		return 0, fmt.Errorf("resolve timestamp for %s: %w", meta.TxHash, err)
	}
	return ts, nil
}

// syncOwnerLocked drops state that belongs to a different session than id.
func (s *Store) syncOwnerLocked(id session.Identity, authed bool) {
	if !authed {
		if s.hasOwner {
			s.resetLocked()
		}
		return
	}
	if s.hasOwner && s.owner.Same(id) {
		return
	}
	if s.hasOwner {
		s.logger.Info("session changed, discarding claims",
			zap.String("previous", s.owner.Address),
			zap.String("account", id.Address),
		)
	}
	s.resetLocked()
	s.owner = id
	s.hasOwner = true
	s.state.Account = id.Address
}

func (s *Store) resetLocked() {
	s.state = model.FacilitatorState{Claims: []model.ClaimRecord{}}
	s.owner = session.Identity{}
	s.hasOwner = false
	s.metrics.ObserveState(0, false)
}

func (s *Store) nextClaimNumberLocked() int {
	next := len(s.state.Claims) + 1
	if len(s.state.Claims) > 0 && s.state.Claims[0].ClaimNumber >= next {
		next = s.state.Claims[0].ClaimNumber + 1
	}
	return next
}

func (s *Store) knowsRequestingUpdateLocked(txHash string) bool {
	if s.state.Pending != nil && s.state.Pending.HasRequestingUpdate(txHash) {
		return true
	}
	for _, claim := range s.state.Claims {
		if claim.HasRequestingUpdate(txHash) {
			return true
		}
	}
	return false
}

func (s *Store) knowsAllocationClaimedLocked(txHash string) bool {
	for _, claim := range s.state.Claims {
		if claim.AllocationClaimed != nil && strings.EqualFold(claim.AllocationClaimed.TxHash, txHash) {
			return true
		}
	}
	return false
}
