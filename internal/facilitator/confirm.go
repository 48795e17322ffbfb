package facilitator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// ErrTxReverted is returned when the funding transaction was mined but failed.
var ErrTxReverted = errors.New("funding transaction reverted")

// ReceiptClient is the subset of chain.Client used to confirm a transaction.
type ReceiptClient interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
}

// PendingClaimer records a confirmed funding transaction.
type PendingClaimer interface {
	AddPendingClaim(txHash string, blockTimestamp uint64) bool
}

// Confirmer waits for a funding transaction sent by this client and records it as the pending claim.
type Confirmer struct {
	client       ReceiptClient
	claimer      PendingClaimer
	pollInterval time.Duration
	maxErrors    int
	logger       *zap.Logger
}

func NewConfirmer(client ReceiptClient, claimer PendingClaimer, pollInterval time.Duration, maxErrors int, logger *zap.Logger) *Confirmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Confirmer{
		client:       client,
		claimer:      claimer,
		pollInterval: pollInterval,
		maxErrors:    maxErrors,
		logger:       logger.With(zap.String("component", "confirmer")),
	}
}

// WaitFunded blocks until txHash is mined, then adds it as the pending claim. added is false when
// the store already knew the transaction or another claim is in flight.
func (c *Confirmer) WaitFunded(ctx context.Context, txHash string) (added bool, err error) {
	if c == nil || c.client == nil || c.claimer == nil {
		return false, ErrNotInitialized
	}
	hash, err := ParseTxHash(txHash)
	if err != nil {
		return false, err
	}

	receipt, err := c.waitReceipt(ctx, hash)
	if err != nil {
		return false, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return false, fmt.Errorf("%s: %w", hash.Hex(), ErrTxReverted)
	}
	if receipt.BlockNumber == nil {
		return false, fmt.Errorf("receipt %s has no block number", hash.Hex())
	}

	block := receipt.BlockNumber.Uint64()
	ts, err := c.client.BlockTimestamp(ctx, block)
	if err != nil {
		return false, fmt.Errorf("block timestamp %d: %w", block, err)
	}

	added = c.claimer.AddPendingClaim(hash.Hex(), ts)
	c.logger.Info("funding transaction confirmed",
		zap.String("tx_hash", hash.Hex()),
		zap.Uint64("block", block),
		zap.Bool("added", added),
	)
	return added, nil
}

func (c *Confirmer) waitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	failures := 0
	for {
		receipt, err := c.client.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && receipt != nil:
			return receipt, nil
		case err == nil, errors.Is(err, ethereum.NotFound):
			c.logger.Debug("funding transaction not mined yet", zap.String("tx_hash", hash.Hex()))
		default:
			failures++
			if c.maxErrors > 0 && failures > c.maxErrors {
				return nil, fmt.Errorf("receipt %s: %w", hash.Hex(), err)
			}
			c.logger.Warn("receipt fetch failed", zap.Error(err), zap.String("tx_hash", hash.Hex()))
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
