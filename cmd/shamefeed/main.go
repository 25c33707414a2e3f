package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "shamefeed",
		Short:        "Shame token feed, identity resolver and leaderboards",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Poll the token, resolve identities and serve the HTTP API",
		RunE:  runServe,
	}
	addChainFlags(serveCmd)
	addIdentityFlags(serveCmd)
	addFeedFlags(serveCmd)
	addLeaderboardFlags(serveCmd)
	serveCmd.Flags().String("listen", ":3001", "HTTP listen address")
	serveCmd.Flags().StringSlice("kafka-brokers", nil, "Kafka brokers for feed events (comma-separated, empty disables)")
	serveCmd.Flags().String("kafka-topic", "shame-feed", "Kafka topic for feed events")
	serveCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.AddCommand(serveCmd)

	resolveCmd := &cobra.Command{
		Use:   "resolve [address...]",
		Short: "Resolve display identities for addresses",
		RunE:  runResolve,
	}
	addChainFlags(resolveCmd)
	addIdentityFlags(resolveCmd)
	resolveCmd.Flags().StringSlice("address", nil, "addresses to resolve (comma-separated)")
	resolveCmd.Flags().String("out", "-", "output JSONL path, - for stdout")
	resolveCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.AddCommand(resolveCmd)

	leaderboardCmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Print ranked shamers or shamed",
		RunE:  runLeaderboard,
	}
	addChainFlags(leaderboardCmd)
	addIdentityFlags(leaderboardCmd)
	addFeedFlags(leaderboardCmd)
	addLeaderboardFlags(leaderboardCmd)
	leaderboardCmd.Flags().String("direction", "", "sent or received, empty for both")
	leaderboardCmd.Flags().String("period", "all", "all, week or day")
	leaderboardCmd.Flags().String("out", "-", "output JSONL path, - for stdout")
	leaderboardCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.AddCommand(leaderboardCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addChainFlags(cmd *cobra.Command) {
	cmd.Flags().String("rpc", "https://mainnet.base.org", "chain RPC URL")
	cmd.Flags().String("token", "0xa207c6e67cea08641503947ac05c65748bb9bb07", "shame token contract address")
	cmd.Flags().Int("max-retries", 3, "maximum retry attempts per RPC call")
	cmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
}

func addIdentityFlags(cmd *cobra.Command) {
	cmd.Flags().Int("cache-size", 50_000, "resolution cache capacity")
	cmd.Flags().Duration("min-ttl", 72*time.Hour, "minimum identity refresh interval")
	cmd.Flags().Duration("max-ttl", 144*time.Hour, "maximum identity refresh interval")
	cmd.Flags().Duration("flush-interval", 60*time.Second, "batch resolution interval")
	cmd.Flags().Int("resolve-batch-size", 50, "addresses per provider call")
	cmd.Flags().Duration("call-timeout", 15*time.Second, "timeout per provider call")
	cmd.Flags().String("name-resolver", "0xC6d566A56A1aFf6508b41f6c90ff131615583BCD", "reverse name resolver contract (empty disables)")
	cmd.Flags().String("reverse-suffix", "80002105.reverse", "reverse registrar node suffix")
	cmd.Flags().String("name-platform", "basename", "platform label for on-chain names")
	cmd.Flags().String("neynar-api-key", "", "Neynar API key (empty disables the social-graph provider)")
	cmd.Flags().Duration("neynar-min-interval", 10*time.Second, "minimum interval between Neynar calls")
}

func addFeedFlags(cmd *cobra.Command) {
	cmd.Flags().Uint64("lookback", 5000, "blocks loaded on startup")
	cmd.Flags().Uint64("overlap", 12, "blocks re-scanned on each poll")
	cmd.Flags().Uint64("max-block-range", 2000, "blocks per eth_getLogs call")
	cmd.Flags().Duration("poll-interval", 60*time.Second, "poll interval")
	cmd.Flags().Int("history-size", 100, "shame transactions kept in memory")
	cmd.Flags().Bool("native-history", true, "use the contract's getShameHistory when available")
}

func addLeaderboardFlags(cmd *cobra.Command) {
	cmd.Flags().String("leaderboard-backend", "history", "aggregation backend (history, dune, postgres)")
	cmd.Flags().Int("leaderboard-limit", 50, "entries per leaderboard")
	cmd.Flags().String("dune-api-key", "", "Dune API key")
	cmd.Flags().String("pg-dsn", "", "Postgres DSN")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
