package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"shameScope/internal/api"
	"shameScope/internal/chain"
	"shameScope/internal/config"
	"shameScope/internal/events"
	"shameScope/internal/feed"
	"shameScope/internal/leaderboard"
	"shameScope/internal/publish"
)

func runServe(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadServe(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Chain.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	pollerCfg, err := pollerConfig(cfg.Chain, cfg.Feed)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	hub := events.NewHub(logger.Named("events"))

	providers, err := buildProviders(cfg.Identity, chainClient, logger)
	if err != nil {
		return err
	}
	resolver := newResolver(cfg.Identity, providers, hub, logger)

	poller, err := feed.NewPoller(pollerCfg, chainClient, resolver, hub, logger.Named("feed"))
	if err != nil {
		return err
	}

	source, closeSource, err := buildSource(ctx, cfg.Leaderboard, poller)
	if err != nil {
		return err
	}
	defer closeSource()
	boards := leaderboard.NewAggregator(source, resolver, cfg.Leaderboard.Limit, logger.Named("leaderboard"))

	server := api.NewServer(poller, resolver, boards, hub, logger)

	var publisher *publish.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := publish.NewSyncProducer(cfg.KafkaBrokers)
		if err != nil {
			return fmt.Errorf("connect kafka: %w", err)
		}
		publisher, err = publish.NewPublisher(producer, cfg.KafkaTopic, publish.DefaultBuffer, logger.Named("kafka"))
		if err != nil {
			_ = producer.Close()
			return err
		}
		defer publisher.Close()
		publisher.Attach(hub)
	}

	logger.Info("shamefeed start",
		zap.String("rpc", cfg.Chain.RPCURL),
		zap.String("token", pollerCfg.Token.Hex()),
		zap.Int("providers", len(providers)),
		zap.String("leaderboard_backend", cfg.Leaderboard.Backend),
		zap.String("listen", cfg.Listen),
		zap.Bool("kafka", publisher != nil),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return resolver.Run(gctx) })
	g.Go(func() error { return poller.Run(gctx) })
	g.Go(func() error { return boards.Watch(gctx, hub) })
	g.Go(func() error { return server.Run(gctx, cfg.Listen) })
	if publisher != nil {
		g.Go(func() error { return publisher.Run(gctx) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shamefeed stopped")
	return nil
}
