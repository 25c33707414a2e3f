package leaderboard

import (
	"context"
	"errors"
	"sort"
	"strings"

	"go.uber.org/zap"

	"shameScope/internal/events"
	"shameScope/internal/metrics"
	"shameScope/internal/model"
)

// DefaultLimit caps the number of ranked entries returned.
const DefaultLimit = 50

// IdentityResolver resolves display names for ranked addresses.
type IdentityResolver interface {
	ResolveBulk(addresses []string) map[string]model.IdentityRecord
}

// Board holds both directions for one period.
type Board struct {
	Sent     []model.LeaderboardEntry `json:"sent"`
	Received []model.LeaderboardEntry `json:"received"`
	Period   model.Period             `json:"period"`
}

// Aggregator folds source rows into ranked, resolved leaderboards.
type Aggregator struct {
	source   Source
	resolver IdentityResolver
	limit    int
	logger   *zap.Logger

	refresh chan struct{}
}

// NewAggregator ranks rows from source. limit <= 0 uses DefaultLimit.
func NewAggregator(source Source, resolver IdentityResolver, limit int, logger *zap.Logger) *Aggregator {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		source:   source,
		resolver: resolver,
		limit:    limit,
		logger:   logger,
		refresh:  make(chan struct{}, 1),
	}
}

// GetLeaderboard returns the ranked table for dir over period. A failing
// source yields an empty table; ErrUnsupportedPeriod is returned as is.
func (a *Aggregator) GetLeaderboard(ctx context.Context, dir model.Direction, period model.Period) ([]model.LeaderboardEntry, error) {
	rows, err := a.source.Rows(ctx, dir, period)
	if err != nil {
		if errors.Is(err, ErrUnsupportedPeriod) {
			metrics.LeaderboardQueriesTotal.WithLabelValues(string(dir), "unsupported").Inc()
			return nil, err
		}
		metrics.LeaderboardQueriesTotal.WithLabelValues(string(dir), "error").Inc()
		a.logger.Warn("leaderboard source failed",
			zap.String("direction", string(dir)),
			zap.String("period", string(period)),
			zap.Error(err),
		)
		return []model.LeaderboardEntry{}, nil
	}
	metrics.LeaderboardQueriesTotal.WithLabelValues(string(dir), "ok").Inc()
	return a.rank(rows, period), nil
}

// GetLeaderboards returns sent and received tables for period.
func (a *Aggregator) GetLeaderboards(ctx context.Context, period model.Period) (Board, error) {
	sent, err := a.GetLeaderboard(ctx, model.DirectionSent, period)
	if err != nil {
		return Board{}, err
	}
	received, err := a.GetLeaderboard(ctx, model.DirectionReceived, period)
	if err != nil {
		return Board{}, err
	}
	return Board{Sent: sent, Received: received, Period: period}, nil
}

func (a *Aggregator) rank(rows []Row, period model.Period) []model.LeaderboardEntry {
	merged := make(map[string]Row, len(rows))
	for _, row := range rows {
		address := model.CanonicalAddress(row.Address)
		if existing, ok := merged[address]; ok {
			existing.Count += row.Count
			existing.Total = existing.Total.Add(row.Total)
			merged[address] = existing
			continue
		}
		row.Address = address
		merged[address] = row
	}

	sorted := make([]Row, 0, len(merged))
	for _, row := range merged {
		sorted = append(sorted, row)
	}
	sort.Slice(sorted, func(i, j int) bool {
		if cmp := sorted[i].Total.Cmp(sorted[j].Total); cmp != 0 {
			return cmp > 0
		}
		if sorted[i].Count != sorted[j].Count {
			return sorted[i].Count > sorted[j].Count
		}
		return strings.Compare(sorted[i].Address, sorted[j].Address) < 0
	})
	if len(sorted) > a.limit {
		sorted = sorted[:a.limit]
	}

	addresses := make([]string, len(sorted))
	for i, row := range sorted {
		addresses[i] = row.Address
	}
	var identities map[string]model.IdentityRecord
	if a.resolver != nil && len(addresses) > 0 {
		identities = a.resolver.ResolveBulk(addresses)
	}

	entries := make([]model.LeaderboardEntry, 0, len(sorted))
	for i, row := range sorted {
		entry := model.LeaderboardEntry{
			Rank:             i + 1,
			Address:          row.Address,
			DisplayName:      model.ShortenAddress(row.Address),
			TransactionCount: row.Count,
			TotalAmount:      row.Total,
			Period:           period,
			Source:           model.SourceFallback,
		}
		if rec, ok := identities[row.Address]; ok {
			entry.DisplayName = rec.DisplayName
			entry.Source = rec.Source
		}
		entries = append(entries, entry)
	}
	return entries
}

// Watch recomputes the all-time boards whenever the feed history changes and
// publishes them as leaderboardUpdate. Bursts of history updates coalesce
// into one recompute.
func (a *Aggregator) Watch(ctx context.Context, hub *events.Hub) error {
	id := hub.Subscribe(func(events.Event) {
		select {
		case a.refresh <- struct{}{}:
		default:
		}
	}, events.KindHistoryUpdate)
	defer hub.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.refresh:
			board, err := a.GetLeaderboards(ctx, model.PeriodAll)
			if err != nil {
				a.logger.Warn("leaderboard refresh failed", zap.Error(err))
				continue
			}
			hub.Publish(events.KindLeaderboardUpdate, board)
		}
	}
}
