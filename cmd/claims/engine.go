package main

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"claimScope/internal/cache"
	"claimScope/internal/chain"
	"claimScope/internal/claims"
	"claimScope/internal/config"
	"claimScope/internal/facilitator"
	"claimScope/internal/metrics"
	"claimScope/internal/session"
	"claimScope/internal/storage"
	"claimScope/internal/storage/postgres"
)

// engine wires the chain client, the claim store and its sinks for one contract.
type engine struct {
	chainID   uint64
	contract  common.Address
	chain     *chain.Client
	tsCache   *cache.RedisTimestampCache
	source    *facilitator.Source
	reader    *facilitator.Reader
	session   *session.Session
	store     *claims.Store
	refresher *claims.Refresher
	pg        *postgres.Store
	logger    *zap.Logger
}

func newEngine(ctx context.Context, cfg config.Config, withSinks bool, logger *zap.Logger, m *metrics.Metrics) (*engine, error) {
	contract, err := facilitator.ParseAddress(cfg.Contract)
	if err != nil {
		return nil, err
	}

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("connect rpc: %w", err)
	}
	e := &engine{contract: contract, chain: chainClient, logger: logger}

	chainID, err := chainClient.GetChainID(ctx)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("get chain id: %w", err)
	}
	if !chainID.IsUint64() {
		e.Close()
		return nil, fmt.Errorf("chain id does not fit in uint64: %s", chainID)
	}
	e.chainID = chainID.Uint64()

	if cfg.Redis.Addr != "" {
		tsCache, err := cache.NewRedisTimestampCache(cache.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: fmt.Sprintf("claims:%d:", e.chainID),
			TTL:       cfg.Redis.TTL,
		})
		if err != nil {
			e.Close()
			return nil, err
		}
		e.tsCache = tsCache
		chainClient.WithTimestampCache(tsCache)
	}

	e.source, err = facilitator.NewSource(facilitator.SourceConfig{
		Contract:     contract,
		StartBlock:   cfg.FromBlock,
		BatchSize:    cfg.BatchSize,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
		QueryTimeout: cfg.QueryTimeout,
	}, chainClient, logger)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.reader, err = facilitator.NewReader(contract, chainClient, logger)
	if err != nil {
		e.Close()
		return nil, err
	}

	sinks := storage.Multi{}
	if withSinks {
		if cfg.Out != "" {
			sinks = append(sinks, storage.NewJsonlStorage(cfg.Out))
		}
		if cfg.PGDSN != "" {
			pg, err := postgres.NewStore(ctx, cfg.PGDSN)
			if err != nil {
				e.Close()
				return nil, fmt.Errorf("connect postgres: %w", err)
			}
			e.pg = pg
			if err := pg.EnsureSchema(ctx); err != nil {
				e.Close()
				return nil, err
			}
			sinks = append(sinks, pg)
		}
	}

	e.session = session.New()
	e.store = claims.NewStore(e.source, e.source, e.session, logger, m)
	e.refresher = claims.NewRefresher(claims.RefresherConfig{
		ChainID:  e.chainID,
		Contract: contract.Hex(),
	}, e.store, e.reader, sinks, e.session, logger, m)

	e.session.OnChange(func() {
		e.refresher.Cancel()
		e.store.Reset()
	})

	logger.Info("engine ready",
		zap.Uint64("chain_id", e.chainID),
		zap.String("contract", contract.Hex()),
		zap.Uint64("start_block", cfg.FromBlock),
		zap.Bool("redis_cache", e.tsCache != nil),
		zap.Int("sinks", len(sinks)),
	)
	return e, nil
}

// login makes account the authenticated account.
func (e *engine) login(account string) (session.Identity, error) {
	addr, err := facilitator.ParseAddress(account)
	if err != nil {
		return session.Identity{}, err
	}
	return e.session.Login(addr), nil
}

func (e *engine) Close() {
	if e.pg != nil {
		e.pg.Close()
	}
	if e.tsCache != nil {
		if err := e.tsCache.Close(); err != nil {
			e.logger.Warn("close redis cache", zap.Error(err))
		}
	}
	if e.chain != nil {
		e.chain.Close()
	}
}
