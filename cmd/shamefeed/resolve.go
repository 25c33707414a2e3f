package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"shameScope/internal/chain"
	"shameScope/internal/config"
	"shameScope/internal/model"
	"shameScope/internal/storage"
)

func runResolve(cmd *cobra.Command, args []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadResolve(cfgFile, cmd.Flags(), args)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if len(cfg.Addresses) == 0 {
		return fmt.Errorf("at least one address is required")
	}
	addresses := make([]string, 0, len(cfg.Addresses))
	for _, address := range cfg.Addresses {
		if !model.IsAddress(address) {
			return fmt.Errorf("invalid address: %s", address)
		}
		addresses = append(addresses, model.CanonicalAddress(address))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	providers, err := buildProviders(cfg.Identity, chainClient, logger)
	if err != nil {
		return err
	}
	resolver := newResolver(cfg.Identity, providers, nil, logger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- resolver.Run(runCtx) }()

	resolver.ResolveBulk(addresses)
	flushed, err := resolver.ForceFlush(ctx)
	if err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	logger.Info("resolution complete", zap.Int("addresses", len(addresses)), zap.Int("flushed", flushed))

	resolved := resolver.ResolveBulk(addresses)
	records := make([]model.IdentityRecord, 0, len(resolved))
	for _, rec := range resolved {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Address < records[j].Address })

	cancel()
	<-done

	return storage.NewJSONL[model.IdentityRecord](cfg.Out).PutBatch(records)
}
