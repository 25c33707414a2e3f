package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultRPCURL        = "https://mainnet.base.org"
	DefaultToken         = "0xa207c6e67cea08641503947ac05c65748bb9bb07"
	DefaultNameResolver  = "0xC6d566A56A1aFf6508b41f6c90ff131615583BCD"
	DefaultReverseSuffix = "80002105.reverse"
	DefaultNamePlatform  = "basename"
)

// ChainConfig selects the ledger and token.
type ChainConfig struct {
	RPCURL       string
	Token        string
	MaxRetries   int
	RetryBackoff time.Duration
}

// IdentityConfig controls the resolver and its providers.
type IdentityConfig struct {
	CacheSize     int
	MinTTL        time.Duration
	MaxTTL        time.Duration
	FlushInterval time.Duration
	BatchSize     int
	CallTimeout   time.Duration
	SweepInterval time.Duration

	NameResolver      string
	ReverseSuffix     string
	NamePlatform      string
	NameMinInterval   time.Duration
	NeynarAPIKey      string
	NeynarBaseURL     string
	NeynarMinInterval time.Duration
}

// FeedConfig controls the ingestion poller.
type FeedConfig struct {
	Lookback         uint64
	Overlap          uint64
	MaxBlockRange    uint64
	PollInterval     time.Duration
	HistorySize      int
	MinShame         int64
	MaxShame         int64
	ExceptionalShame int64
	NativeHistory    bool
}

// LeaderboardConfig selects the aggregation backend.
type LeaderboardConfig struct {
	Backend         string
	Limit           int
	SentQueryID     int
	ReceivedQueryID int
	QueryCacheTTL   time.Duration
	DuneAPIKey      string
	DuneBaseURL     string
	PGDSN           string
	PGTable         string
}

// Leaderboard backends.
const (
	BackendHistory  = "history"
	BackendDune     = "dune"
	BackendPostgres = "postgres"
)

// load merges config file, environment variables, and flags.
func load(cfgFile string, flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("SHAME")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	setChainDefaults(v)
	setIdentityDefaults(v)
	setFeedDefaults(v)
	setLeaderboardDefaults(v)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
}

func setChainDefaults(v *viper.Viper) {
	v.SetDefault("rpc", DefaultRPCURL)
	v.SetDefault("token", DefaultToken)
	v.SetDefault("max-retries", 3)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
}

func setIdentityDefaults(v *viper.Viper) {
	v.SetDefault("cache-size", 50_000)
	v.SetDefault("min-ttl", 72*time.Hour)
	v.SetDefault("max-ttl", 144*time.Hour)
	v.SetDefault("flush-interval", 60*time.Second)
	v.SetDefault("resolve-batch-size", 50)
	v.SetDefault("call-timeout", 15*time.Second)
	v.SetDefault("sweep-interval", 24*time.Hour)
	v.SetDefault("name-resolver", DefaultNameResolver)
	v.SetDefault("reverse-suffix", DefaultReverseSuffix)
	v.SetDefault("name-platform", DefaultNamePlatform)
	v.SetDefault("name-min-interval", time.Duration(0))
	v.SetDefault("neynar-min-interval", 10*time.Second)
}

func setFeedDefaults(v *viper.Viper) {
	v.SetDefault("lookback", uint64(5000))
	v.SetDefault("overlap", uint64(12))
	v.SetDefault("max-block-range", uint64(2000))
	v.SetDefault("poll-interval", 60*time.Second)
	v.SetDefault("history-size", 100)
	v.SetDefault("min-shame", 1)
	v.SetDefault("max-shame", 10)
	v.SetDefault("exceptional-shame", 69)
	v.SetDefault("native-history", true)
}

func setLeaderboardDefaults(v *viper.Viper) {
	v.SetDefault("leaderboard-backend", BackendHistory)
	v.SetDefault("leaderboard-limit", 50)
	v.SetDefault("sent-query-id", 5604868)
	v.SetDefault("received-query-id", 5604950)
	v.SetDefault("query-cache-ttl", 5*time.Minute)
	v.SetDefault("pg-table", "shame_transfers")
}

func chainConfig(v *viper.Viper) ChainConfig {
	return ChainConfig{
		RPCURL:       v.GetString("rpc"),
		Token:        v.GetString("token"),
		MaxRetries:   v.GetInt("max-retries"),
		RetryBackoff: v.GetDuration("retry-backoff"),
	}
}

func identityConfig(v *viper.Viper) IdentityConfig {
	return IdentityConfig{
		CacheSize:         v.GetInt("cache-size"),
		MinTTL:            v.GetDuration("min-ttl"),
		MaxTTL:            v.GetDuration("max-ttl"),
		FlushInterval:     v.GetDuration("flush-interval"),
		BatchSize:         v.GetInt("resolve-batch-size"),
		CallTimeout:       v.GetDuration("call-timeout"),
		SweepInterval:     v.GetDuration("sweep-interval"),
		NameResolver:      v.GetString("name-resolver"),
		ReverseSuffix:     v.GetString("reverse-suffix"),
		NamePlatform:      v.GetString("name-platform"),
		NameMinInterval:   v.GetDuration("name-min-interval"),
		NeynarAPIKey:      v.GetString("neynar-api-key"),
		NeynarBaseURL:     v.GetString("neynar-base-url"),
		NeynarMinInterval: v.GetDuration("neynar-min-interval"),
	}
}

func feedConfig(v *viper.Viper) FeedConfig {
	return FeedConfig{
		Lookback:         v.GetUint64("lookback"),
		Overlap:          v.GetUint64("overlap"),
		MaxBlockRange:    v.GetUint64("max-block-range"),
		PollInterval:     v.GetDuration("poll-interval"),
		HistorySize:      v.GetInt("history-size"),
		MinShame:         v.GetInt64("min-shame"),
		MaxShame:         v.GetInt64("max-shame"),
		ExceptionalShame: v.GetInt64("exceptional-shame"),
		NativeHistory:    v.GetBool("native-history"),
	}
}

func leaderboardConfig(v *viper.Viper) LeaderboardConfig {
	return LeaderboardConfig{
		Backend:         strings.ToLower(strings.TrimSpace(v.GetString("leaderboard-backend"))),
		Limit:           v.GetInt("leaderboard-limit"),
		SentQueryID:     v.GetInt("sent-query-id"),
		ReceivedQueryID: v.GetInt("received-query-id"),
		QueryCacheTTL:   v.GetDuration("query-cache-ttl"),
		DuneAPIKey:      v.GetString("dune-api-key"),
		DuneBaseURL:     v.GetString("dune-base-url"),
		PGDSN:           v.GetString("pg-dsn"),
		PGTable:         v.GetString("pg-table"),
	}
}

// Validate checks cross-field constraints.
func (c IdentityConfig) Validate() error {
	if c.MinTTL <= 0 || c.MaxTTL < c.MinTTL {
		return fmt.Errorf("invalid ttl range %s..%s", c.MinTTL, c.MaxTTL)
	}
	return nil
}

// Validate checks the backend name and its required settings.
func (c LeaderboardConfig) Validate() error {
	switch c.Backend {
	case BackendHistory:
	case BackendDune:
		if c.DuneAPIKey == "" {
			return fmt.Errorf("dune backend requires dune-api-key")
		}
	case BackendPostgres:
		if c.PGDSN == "" {
			return fmt.Errorf("postgres backend requires pg-dsn")
		}
	default:
		return fmt.Errorf("unknown leaderboard backend %q", c.Backend)
	}
	return nil
}

// Validate checks the amount filter bounds.
func (c FeedConfig) Validate() error {
	if c.MinShame > c.MaxShame {
		return fmt.Errorf("min-shame %d exceeds max-shame %d", c.MinShame, c.MaxShame)
	}
	return nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
