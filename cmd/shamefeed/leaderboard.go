package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"shameScope/internal/chain"
	"shameScope/internal/config"
	"shameScope/internal/events"
	"shameScope/internal/feed"
	"shameScope/internal/leaderboard"
	"shameScope/internal/model"
	"shameScope/internal/storage"
)

type boardRow struct {
	Direction model.Direction `json:"direction"`
	model.LeaderboardEntry
}

func runLeaderboard(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadLeaderboard(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	period, err := model.ParsePeriod(cfg.Period)
	if err != nil {
		return err
	}
	directions := []model.Direction{model.DirectionSent, model.DirectionReceived}
	if cfg.Direction != "" {
		dir, err := model.ParseDirection(cfg.Direction)
		if err != nil {
			return err
		}
		directions = []model.Direction{dir}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	hub := events.NewHub(logger)
	providers, err := buildProviders(cfg.Identity, chainClient, logger)
	if err != nil {
		return err
	}
	resolver := newResolver(cfg.Identity, providers, hub, logger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- resolver.Run(runCtx) }()

	var history leaderboard.HistoryReader
	if cfg.Leaderboard.Backend == config.BackendHistory {
		pollerCfg, err := pollerConfig(cfg.Chain, cfg.Feed)
		if err != nil {
			return err
		}
		poller, err := feed.NewPoller(pollerCfg, chainClient, resolver, hub, logger.Named("feed"))
		if err != nil {
			return err
		}
		if err := poller.Start(ctx); err != nil {
			return fmt.Errorf("load history: %w", err)
		}
		defer poller.Stop()
		history = poller
	}

	source, closeSource, err := buildSource(ctx, cfg.Leaderboard, history)
	if err != nil {
		return err
	}
	defer closeSource()
	aggregator := leaderboard.NewAggregator(source, resolver, cfg.Leaderboard.Limit, logger.Named("leaderboard"))

	// One pass to queue every ranked address, a flush, then the resolved pass.
	for _, dir := range directions {
		if _, err := aggregator.GetLeaderboard(ctx, dir, period); err != nil {
			return err
		}
	}
	if _, err := resolver.ForceFlush(ctx); err != nil {
		logger.Warn("identity flush failed", zap.Error(err))
	}

	sink := storage.NewJSONL[boardRow](cfg.Out)
	for _, dir := range directions {
		entries, err := aggregator.GetLeaderboard(ctx, dir, period)
		if err != nil {
			return err
		}
		logger.Info("leaderboard", zap.String("direction", string(dir)), zap.String("period", string(period)), zap.Int("entries", len(entries)))
		rows := make([]boardRow, len(entries))
		for i, entry := range entries {
			rows[i] = boardRow{Direction: dir, LeaderboardEntry: entry}
		}
		if err := sink.PutBatch(rows); err != nil {
			return err
		}
	}

	cancel()
	<-done
	return nil
}
