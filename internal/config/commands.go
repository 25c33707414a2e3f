package config

import (
	"github.com/spf13/pflag"
)

// ServeConfig holds configuration for the serve command.
type ServeConfig struct {
	Chain       ChainConfig
	Identity    IdentityConfig
	Feed        FeedConfig
	Leaderboard LeaderboardConfig

	Listen       string
	KafkaBrokers []string
	KafkaTopic   string
	LogLevel     string
}

// LoadServe merges config file, environment variables, and flags into ServeConfig.
func LoadServe(cfgFile string, flags *pflag.FlagSet) (ServeConfig, error) {
	v, err := load(cfgFile, flags)
	if err != nil {
		return ServeConfig{}, err
	}
	v.SetDefault("listen", ":3001")
	v.SetDefault("kafka-topic", "shame-feed")

	cfg := ServeConfig{
		Chain:        chainConfig(v),
		Identity:     identityConfig(v),
		Feed:         feedConfig(v),
		Leaderboard:  leaderboardConfig(v),
		Listen:       v.GetString("listen"),
		KafkaBrokers: getStringSlice(v, "kafka-brokers"),
		KafkaTopic:   v.GetString("kafka-topic"),
		LogLevel:     v.GetString("log-level"),
	}
	if err := cfg.Identity.Validate(); err != nil {
		return ServeConfig{}, err
	}
	if err := cfg.Feed.Validate(); err != nil {
		return ServeConfig{}, err
	}
	if err := cfg.Leaderboard.Validate(); err != nil {
		return ServeConfig{}, err
	}
	return cfg, nil
}

// ResolveConfig holds configuration for the resolve command.
type ResolveConfig struct {
	Chain     ChainConfig
	Identity  IdentityConfig
	Addresses []string
	Out       string
	LogLevel  string
}

// LoadResolve merges config file, environment variables, and flags into ResolveConfig.
func LoadResolve(cfgFile string, flags *pflag.FlagSet, args []string) (ResolveConfig, error) {
	v, err := load(cfgFile, flags)
	if err != nil {
		return ResolveConfig{}, err
	}
	v.SetDefault("out", "-")

	addresses := getStringSlice(v, "address")
	addresses = append(addresses, cleanStrings(args)...)

	cfg := ResolveConfig{
		Chain:     chainConfig(v),
		Identity:  identityConfig(v),
		Addresses: addresses,
		Out:       v.GetString("out"),
		LogLevel:  v.GetString("log-level"),
	}
	if err := cfg.Identity.Validate(); err != nil {
		return ResolveConfig{}, err
	}
	return cfg, nil
}

// LeaderboardCommandConfig holds configuration for the leaderboard command.
type LeaderboardCommandConfig struct {
	Chain       ChainConfig
	Identity    IdentityConfig
	Feed        FeedConfig
	Leaderboard LeaderboardConfig
	Direction   string
	Period      string
	Out         string
	LogLevel    string
}

// LoadLeaderboard merges config file, environment variables, and flags into LeaderboardCommandConfig.
func LoadLeaderboard(cfgFile string, flags *pflag.FlagSet) (LeaderboardCommandConfig, error) {
	v, err := load(cfgFile, flags)
	if err != nil {
		return LeaderboardCommandConfig{}, err
	}
	v.SetDefault("out", "-")
	v.SetDefault("period", "all")

	cfg := LeaderboardCommandConfig{
		Chain:       chainConfig(v),
		Identity:    identityConfig(v),
		Feed:        feedConfig(v),
		Leaderboard: leaderboardConfig(v),
		Direction:   v.GetString("direction"),
		Period:      v.GetString("period"),
		Out:         v.GetString("out"),
		LogLevel:    v.GetString("log-level"),
	}
	if err := cfg.Leaderboard.Validate(); err != nil {
		return LeaderboardCommandConfig{}, err
	}
	return cfg, nil
}
