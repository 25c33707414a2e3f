package leaderboard

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"shameScope/internal/cache"
	"shameScope/internal/model"
)

const (
	DefaultCacheTTL        = 5 * time.Minute
	DefaultSentQueryID     = 5604868
	DefaultReceivedQueryID = 5604950
)

// QueryRunner executes a saved aggregation query and returns its rows.
type QueryRunner interface {
	RunQuery(ctx context.Context, queryID int) ([]map[string]any, error)
}

// PeriodQueryRunner can also restrict a query to rows after since.
type PeriodQueryRunner interface {
	QueryRunner
	RunQuerySince(ctx context.Context, queryID int, since time.Time) ([]map[string]any, error)
}

// Columns names the result columns of the saved queries.
type Columns struct {
	Sender    string
	Recipient string
	Count     string
	Total     string
}

// DefaultColumns matches the saved dashboard queries.
func DefaultColumns() Columns {
	return Columns{
		Sender:    "sender",
		Recipient: "recipient",
		Count:     "times_received",
		Total:     "total_wankr_received",
	}
}

// QueryConfig selects the saved queries and result caching.
type QueryConfig struct {
	SentQueryID     int
	ReceivedQueryID int
	CacheTTL        time.Duration
	Columns         Columns
	Now             func() time.Time
}

// DefaultQueryConfig returns the dashboard query ids with a 5 minute cache.
func DefaultQueryConfig() QueryConfig {
	return QueryConfig{
		SentQueryID:     DefaultSentQueryID,
		ReceivedQueryID: DefaultReceivedQueryID,
		CacheTTL:        DefaultCacheTTL,
		Columns:         DefaultColumns(),
	}
}

// QuerySource reads aggregates from an external query service and caches
// results per query and period.
type QuerySource struct {
	cfg    QueryConfig
	runner QueryRunner
	cache  *cache.LRU[string, []Row]
	nowFn  func() time.Time
}

// NewQuerySource wraps runner.
func NewQuerySource(cfg QueryConfig, runner QueryRunner) *QuerySource {
	defaults := DefaultQueryConfig()
	if cfg.SentQueryID == 0 {
		cfg.SentQueryID = defaults.SentQueryID
	}
	if cfg.ReceivedQueryID == 0 {
		cfg.ReceivedQueryID = defaults.ReceivedQueryID
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaults.CacheTTL
	}
	if cfg.Columns == (Columns{}) {
		cfg.Columns = defaults.Columns
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	lru := cache.NewLRU[string, []Row](16, cfg.CacheTTL)
	lru.SetClock(cfg.Now)
	return &QuerySource{cfg: cfg, runner: runner, cache: lru, nowFn: cfg.Now}
}

// Rows runs (or reuses) the query for dir. Week and day periods need a
// runner that can filter by time.
func (s *QuerySource) Rows(ctx context.Context, dir model.Direction, period model.Period) ([]Row, error) {
	queryID, addressColumn := s.cfg.SentQueryID, s.cfg.Columns.Sender
	if dir == model.DirectionReceived {
		queryID, addressColumn = s.cfg.ReceivedQueryID, s.cfg.Columns.Recipient
	}

	key := fmt.Sprintf("%d:%s", queryID, period)
	if rows, ok := s.cache.Get(key); ok {
		return rows, nil
	}

	var (
		raw []map[string]any
		err error
	)
	if period == model.PeriodAll {
		raw, err = s.runner.RunQuery(ctx, queryID)
	} else {
		periodRunner, ok := s.runner.(PeriodQueryRunner)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedPeriod, period)
		}
		raw, err = periodRunner.RunQuerySince(ctx, queryID, period.Since(s.nowFn()))
	}
	if err != nil {
		return nil, fmt.Errorf("query %d: %w", queryID, err)
	}

	rows := make([]Row, 0, len(raw))
	for _, record := range raw {
		address, _ := record[addressColumn].(string)
		if !model.IsAddress(address) {
			continue
		}
		count, err := toInt(record[s.cfg.Columns.Count])
		if err != nil {
			return nil, fmt.Errorf("query %d column %s: %w", queryID, s.cfg.Columns.Count, err)
		}
		total, err := toDecimal(record[s.cfg.Columns.Total])
		if err != nil {
			return nil, fmt.Errorf("query %d column %s: %w", queryID, s.cfg.Columns.Total, err)
		}
		rows = append(rows, Row{Address: model.CanonicalAddress(address), Count: count, Total: total})
	}

	s.cache.Put(key, rows)
	return rows, nil
}

func toInt(value any) (int, error) {
	switch v := value.(type) {
	case nil:
		return 0, nil
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			f, ferr := v.Float64()
			if ferr != nil {
				return 0, err
			}
			return int(f), nil
		}
		return int(n), nil
	case string:
		if strings.TrimSpace(v) == "" {
			return 0, nil
		}
		return strconv.Atoi(strings.TrimSpace(v))
	default:
		return 0, fmt.Errorf("unsupported count type %T", value)
	}
}

func toDecimal(value any) (decimal.Decimal, error) {
	switch v := value.(type) {
	case nil:
		return decimal.Zero, nil
	case decimal.Decimal:
		return v, nil
	case float64:
		return decimal.NewFromFloat(v), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case json.Number:
		return decimal.NewFromString(v.String())
	case string:
		if strings.TrimSpace(v) == "" {
			return decimal.Zero, nil
		}
		return decimal.NewFromString(strings.TrimSpace(v))
	default:
		return decimal.Zero, fmt.Errorf("unsupported total type %T", value)
	}
}
