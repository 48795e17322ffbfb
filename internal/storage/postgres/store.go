package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"claimScope/internal/model"
)

// Schema creates the tables SaveState writes to.
const Schema = `
CREATE TABLE IF NOT EXISTS claim_records (
	chain_id BIGINT NOT NULL,
	contract TEXT NOT NULL,
	account TEXT NOT NULL,
	claim_number INTEGER NOT NULL,
	phase TEXT NOT NULL,
	amount TEXT,
	requesting_tx_hash TEXT,
	requesting_block BIGINT,
	requesting_ts BIGINT,
	claimed_tx_hash TEXT,
	claimed_block BIGINT,
	claimed_ts BIGINT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (chain_id, contract, account, claim_number)
);

CREATE TABLE IF NOT EXISTS facilitator_snapshots (
	chain_id BIGINT NOT NULL,
	contract TEXT NOT NULL,
	account TEXT NOT NULL,
	block_number BIGINT NOT NULL,
	token_allocation NUMERIC(78, 0) NOT NULL,
	claimed_tokens NUMERIC(78, 0) NOT NULL,
	gas_available NUMERIC(78, 0) NOT NULL,
	gas_used NUMERIC(78, 0) NOT NULL,
	gas_cost NUMERIC(78, 0) NOT NULL,
	gas_price NUMERIC(78, 0) NOT NULL,
	oracle_wei_required NUMERIC(78, 0) NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (chain_id, contract, account, block_number)
);
`

// Store provides Postgres persistence for claim reports.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates missing tables.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// SaveState upserts every claim of the report and records its snapshot, if present.
func (s *Store) SaveState(ctx context.Context, report model.ClaimReport) error {
	if report.Account == "" {
		return fmt.Errorf("report account required")
	}

	batch := &pgx.Batch{}
	queued := 0
	for _, claim := range report.State.ClaimLog() {
		queueClaim(batch, report, claim)
		queued++
	}
	if report.Snapshot != nil {
		queueSnapshot(batch, report, *report.Snapshot)
		queued++
	}
	if queued == 0 {
		return nil
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < queued; i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("save claim report: %w", err)
		}
	}
	return nil
}

// upsertClaim never touches a row already stored as finalized: a later pass that lost the
// AllocationClaimed query would otherwise downgrade it to pending.
const upsertClaim = `
	INSERT INTO claim_records (
		chain_id, contract, account, claim_number, phase, amount,
		requesting_tx_hash, requesting_block, requesting_ts,
		claimed_tx_hash, claimed_block, claimed_ts, created_at, updated_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,now(),now())
	ON CONFLICT (chain_id, contract, account, claim_number)
	DO UPDATE SET
		phase = EXCLUDED.phase,
		amount = EXCLUDED.amount,
		requesting_tx_hash = EXCLUDED.requesting_tx_hash,
		requesting_block = COALESCE(EXCLUDED.requesting_block, claim_records.requesting_block),
		requesting_ts = EXCLUDED.requesting_ts,
		claimed_tx_hash = EXCLUDED.claimed_tx_hash,
		claimed_block = EXCLUDED.claimed_block,
		claimed_ts = EXCLUDED.claimed_ts,
		updated_at = now()
	WHERE claim_records.phase <> 'finalized'
`

func queueClaim(batch *pgx.Batch, report model.ClaimReport, claim model.ClaimRecord) {
	batch.Queue(upsertClaim, claimArgs(report, claim)...)
}

// claimArgs returns the upsertClaim parameters. Missing refs and amounts become NULL.
func claimArgs(report model.ClaimReport, claim model.ClaimRecord) []any {
	var (
		requestingHash, claimedHash   *string
		requestingBlock, claimedBlock *int64
		requestingTS, claimedTS       *int64
		amount                        *string
	)
	if ref := claim.RequestingUpdate; ref != nil {
		requestingHash, requestingBlock, requestingTS = refColumns(ref)
	}
	if ref := claim.AllocationClaimed; ref != nil {
		claimedHash, claimedBlock, claimedTS = refColumns(ref)
	}
	if claim.Amount != "" {
		amount = &claim.Amount
	}

	return []any{
		int64(report.ChainID),
		report.Contract,
		report.Account,
		claim.ClaimNumber,
		string(claim.Phase()),
		amount,
		requestingHash,
		requestingBlock,
		requestingTS,
		claimedHash,
		claimedBlock,
		claimedTS,
	}
}

func queueSnapshot(batch *pgx.Batch, report model.ClaimReport, snap model.FacilitatorSnapshot) {
	batch.Queue(`
		INSERT INTO facilitator_snapshots (
			chain_id, contract, account, block_number,
			token_allocation, claimed_tokens, gas_available, gas_used,
			gas_cost, gas_price, oracle_wei_required, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,now())
		ON CONFLICT (chain_id, contract, account, block_number) DO NOTHING
	`,
		int64(report.ChainID),
		report.Contract,
		report.Account,
		int64(snap.BlockNumber),
		snap.TokenAllocation,
		snap.ClaimedTokens,
		snap.GasAvailable,
		snap.GasUsed,
		snap.GasCost,
		snap.GasPrice,
		snap.OracleWeiRequired,
	)
}

func refColumns(ref *model.TxRef) (*string, *int64, *int64) {
	hash := ref.TxHash
	ts := int64(ref.Timestamp)
	var block *int64
	if ref.BlockNumber != 0 {
		n := int64(ref.BlockNumber)
		block = &n
	}
	return &hash, block, &ts
}
