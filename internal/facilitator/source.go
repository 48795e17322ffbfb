package facilitator

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"claimScope/internal/model"
)

// LogClient is the subset of chain.Client the event source needs.
type LogClient interface {
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topics [][]common.Hash) ([]types.Log, error)
	LatestBlockNumber(ctx context.Context) (uint64, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
}

// SourceConfig holds query settings for the event source.
type SourceConfig struct {
	Contract common.Address
	// StartBlock is the contract deployment block; queries never start earlier.
	StartBlock   uint64
	BatchSize    uint64
	MaxRetries   int
	RetryBackoff time.Duration
	QueryTimeout time.Duration
}

// Source queries Facilitator event logs for a single account.
type Source struct {
	cfg     SourceConfig
	client  LogClient
	decoder *Decoder
	logger  *zap.Logger
}

// NewSource builds a Source with its dependencies.
func NewSource(cfg SourceConfig, client LogClient, logger *zap.Logger) (*Source, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 5000
	}
	decoder, err := NewDecoder()
	if err != nil {
		return nil, err
	}
	return &Source{
		cfg:     cfg,
		client:  client,
		decoder: decoder,
		logger:  logger,
	}, nil
}

// Query returns the events of one kind emitted for account in [from, to]. A zero to means latest.
// Events come back in chain order with block timestamps resolved.
func (s *Source) Query(ctx context.Context, kind model.EventKind, account string, from, to uint64) ([]model.Event, error) {
	if s == nil || s.client == nil || s.decoder == nil {
		return nil, ErrNotInitialized
	}

	events, err := s.query(ctx, []model.EventKind{kind}, account, from, to)
	if err != nil {
		return nil, &QueryError{Kind: kind, Account: account, Err: err}
	}
	return events, nil
}

// QueryKinds returns the events of several kinds for account in [from, to] with a single filter per
// range. Events come back in log order.
func (s *Source) QueryKinds(ctx context.Context, kinds []model.EventKind, account string, from, to uint64) ([]model.Event, error) {
	if s == nil || s.client == nil || s.decoder == nil {
		return nil, ErrNotInitialized
	}
	if len(kinds) == 0 {
		return nil, nil
	}
	return s.query(ctx, kinds, account, from, to)
}

func (s *Source) query(ctx context.Context, kinds []model.EventKind, account string, from, to uint64) ([]model.Event, error) {
	accountAddr, err := ParseAddress(account)
	if err != nil {
		return nil, err
	}
	topic0s := make([]common.Hash, 0, len(kinds))
	for _, kind := range kinds {
		topic0, err := s.decoder.Topic0(kind)
		if err != nil {
			return nil, err
		}
		topic0s = append(topic0s, topic0)
	}

	if from < s.cfg.StartBlock {
		from = s.cfg.StartBlock
	}
	if to == 0 {
		to, err = s.latestBlockWithRetry(ctx)
		if err != nil {
			return nil, fmt.Errorf("get latest block: %w", err)
		}
	}
	if from > to {
		return nil, nil
	}

	ranges, err := SplitRange(from, to, s.cfg.BatchSize)
	if err != nil {
		return nil, err
	}

	topics := [][]common.Hash{topic0s, {topicFromAddress(accountAddr)}}
	events := make([]model.Event, 0)
	for _, blockRange := range ranges {
		logs, err := s.filterLogsWithRetry(ctx, blockRange, topics)
		if err != nil {
			return nil, fmt.Errorf("filter logs %d-%d: %w", blockRange.From, blockRange.To, err)
		}

		for _, log := range logs {
			if log.Removed || !s.decoder.CanDecode(log) {
				continue
			}
			event, err := s.decoder.Decode(log)
			if err != nil {
				s.logger.Warn("skip undecodable log",
					zap.Error(err),
					zap.String("tx_hash", log.TxHash.Hex()),
					zap.Uint("log_index", log.Index),
				)
				continue
			}
			event, err = s.withTimestamp(ctx, event)
			if err != nil {
				return nil, err
			}
			events = append(events, event)
		}
	}

	s.logger.Debug("queried events",
		zap.Int("kinds", len(kinds)),
		zap.String("account", accountAddr.Hex()),
		zap.Uint64("from", from),
		zap.Uint64("to", to),
		zap.Int("events", len(events)),
	)
	return events, nil
}

// BlockTimestamp resolves a block's timestamp with the source's retry and timeout policy.
func (s *Source) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	if s == nil || s.client == nil {
		return 0, ErrNotInitialized
	}
	var ts uint64
	err := withRetry(ctx, s.cfg.MaxRetries, s.cfg.RetryBackoff, s.cfg.QueryTimeout, func(ctx context.Context) error {
		var err error
		ts, err = s.client.BlockTimestamp(ctx, number)
		if err != nil {
			s.logger.Warn("block timestamp fetch failed", zap.Error(err), zap.Uint64("block_number", number))
		}
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("block timestamp %d: %w", number, err)
	}
	return ts, nil
}

func (s *Source) withTimestamp(ctx context.Context, event model.Event) (model.Event, error) {
	meta := event.Meta()
	ts, err := s.BlockTimestamp(ctx, meta.BlockNumber)
	if err != nil {
		return nil, err
	}

	switch typed := event.(type) {
	case model.RequestingUpdate:
		typed.Timestamp = ts
		return typed, nil
	case model.AllocationUpdated:
		typed.Timestamp = ts
		return typed, nil
	case model.AllocationClaimed:
		typed.Timestamp = ts
		return typed, nil
	case model.GasBudgetUpdated:
		typed.Timestamp = ts
		return typed, nil
	default:
		return nil, fmt.Errorf("unsupported event type %T", event)
	}
}

func (s *Source) filterLogsWithRetry(ctx context.Context, blockRange BlockRange, topics [][]common.Hash) ([]types.Log, error) {
	var logs []types.Log
	err := withRetry(ctx, s.cfg.MaxRetries, s.cfg.RetryBackoff, s.cfg.QueryTimeout, func(ctx context.Context) error {
		var err error
		logs, err = s.client.FilterLogs(ctx, blockRange.From, blockRange.To, []common.Address{s.cfg.Contract}, topics)
		if err != nil {
			s.logger.Warn("filter logs failed", zap.Error(err), zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To))
		}
		return err
	})
	return logs, err
}

func (s *Source) latestBlockWithRetry(ctx context.Context) (uint64, error) {
	var latest uint64
	err := withRetry(ctx, s.cfg.MaxRetries, s.cfg.RetryBackoff, s.cfg.QueryTimeout, func(ctx context.Context) error {
		var err error
		latest, err = s.client.LatestBlockNumber(ctx)
		return err
	})
	return latest, err
}

// LatestBlock returns the chain head with the source's retry and timeout policy.
func (s *Source) LatestBlock(ctx context.Context) (uint64, error) {
	if s == nil || s.client == nil {
		return 0, ErrNotInitialized
	}
	latest, err := s.latestBlockWithRetry(ctx)
	if err != nil {
		return 0, fmt.Errorf("get latest block: %w", err)
	}
	return latest, nil
}
