package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"shameScope/internal/chain"
	"shameScope/internal/config"
	"shameScope/internal/events"
	"shameScope/internal/feed"
	"shameScope/internal/identity"
	"shameScope/internal/leaderboard"
	"shameScope/internal/provider/neynar"
	"shameScope/internal/provider/onchain"
	"shameScope/internal/storage/postgres"
)

// buildProviders returns the configured identity providers, highest trust first.
func buildProviders(cfg config.IdentityConfig, chainClient *chain.Client, logger *zap.Logger) ([]identity.Provider, error) {
	var providers []identity.Provider

	if cfg.NameResolver != "" {
		if !common.IsHexAddress(cfg.NameResolver) {
			return nil, fmt.Errorf("invalid name resolver address: %s", cfg.NameResolver)
		}
		providers = append(providers, onchain.New(onchain.Config{
			Resolver:      common.HexToAddress(cfg.NameResolver),
			ReverseSuffix: cfg.ReverseSuffix,
			Platform:      cfg.NamePlatform,
			MaxBatch:      cfg.BatchSize,
			MinInterval:   cfg.NameMinInterval,
		}, chainClient, logger.Named("onchain")))
	}

	if cfg.NeynarAPIKey != "" {
		client, err := neynar.New(neynar.Config{
			APIKey:      cfg.NeynarAPIKey,
			BaseURL:     cfg.NeynarBaseURL,
			MaxBatch:    cfg.BatchSize,
			MinInterval: cfg.NeynarMinInterval,
		}, &http.Client{Timeout: cfg.CallTimeout}, logger.Named("neynar"))
		if err != nil {
			return nil, err
		}
		providers = append(providers, client)
	} else {
		logger.Info("social-graph provider disabled: no neynar api key")
	}

	return providers, nil
}

func newResolver(cfg config.IdentityConfig, providers []identity.Provider, hub *events.Hub, logger *zap.Logger) *identity.Resolver {
	return identity.NewResolver(identity.Config{
		CacheSize: cfg.CacheSize,
		TTL:       identity.TTLPolicy{Min: cfg.MinTTL, Max: cfg.MaxTTL},
		Queue: identity.QueueConfig{
			FlushInterval: cfg.FlushInterval,
			MaxBatch:      cfg.BatchSize,
			CallTimeout:   cfg.CallTimeout,
		},
		SweepInterval: cfg.SweepInterval,
	}, providers, hub, logger.Named("identity"))
}

func pollerConfig(chainCfg config.ChainConfig, feedCfg config.FeedConfig) (feed.Config, error) {
	if !common.IsHexAddress(chainCfg.Token) {
		return feed.Config{}, fmt.Errorf("invalid token address: %s", chainCfg.Token)
	}
	cfg := feed.DefaultConfig(common.HexToAddress(chainCfg.Token))
	cfg.Lookback = feedCfg.Lookback
	cfg.Overlap = feedCfg.Overlap
	cfg.MaxBlockRange = feedCfg.MaxBlockRange
	cfg.PollInterval = feedCfg.PollInterval
	cfg.HistorySize = feedCfg.HistorySize
	cfg.NativeHistory = feedCfg.NativeHistory
	cfg.MaxRetries = chainCfg.MaxRetries
	cfg.RetryBackoff = chainCfg.RetryBackoff
	cfg.Filter = feed.AmountFilter{
		Min:         decimal.NewFromInt(feedCfg.MinShame),
		Max:         decimal.NewFromInt(feedCfg.MaxShame),
		Exceptional: decimal.NewFromInt(feedCfg.ExceptionalShame),
	}
	return cfg, nil
}

// buildSource picks the aggregation backend. The returned close func releases
// backend connections.
func buildSource(ctx context.Context, cfg config.LeaderboardConfig, history leaderboard.HistoryReader) (leaderboard.Source, func(), error) {
	queryCfg := leaderboard.QueryConfig{
		SentQueryID:     cfg.SentQueryID,
		ReceivedQueryID: cfg.ReceivedQueryID,
		CacheTTL:        cfg.QueryCacheTTL,
	}

	switch cfg.Backend {
	case config.BackendDune:
		client, err := leaderboard.NewDuneClient(cfg.DuneAPIKey, cfg.DuneBaseURL, &http.Client{Timeout: 30 * time.Second})
		if err != nil {
			return nil, nil, err
		}
		return leaderboard.NewQuerySource(queryCfg, client), func() {}, nil
	case config.BackendPostgres:
		store, err := postgres.NewStore(ctx, postgres.Config{
			DSN:             cfg.PGDSN,
			Table:           cfg.PGTable,
			SentQueryID:     cfg.SentQueryID,
			ReceivedQueryID: cfg.ReceivedQueryID,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := store.Ping(ctx); err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		return leaderboard.NewQuerySource(queryCfg, store), store.Close, nil
	default:
		return leaderboard.NewHistorySource(history, nil), func() {}, nil
	}
}
