package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	DefaultTable = "shame_transfers"
	DefaultLimit = 500
)

// ErrUnknownQuery is returned for query ids the store has no SQL for.
var ErrUnknownQuery = errors.New("unknown aggregation query")

// Config maps the saved query ids onto the transfers table.
type Config struct {
	DSN             string
	Table           string
	SentQueryID     int
	ReceivedQueryID int
	Limit           int
}

// Store answers leaderboard aggregation queries from a transfers table with
// columns (tx_hash, sender, recipient, amount, block_time).
type Store struct {
	pool    *pgxpool.Pool
	queries map[int]aggregateQuery
	limit   int
}

type aggregateQuery struct {
	table  string
	column string
}

func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	if cfg.SentQueryID == 0 || cfg.ReceivedQueryID == 0 {
		return nil, fmt.Errorf("sent and received query ids are required")
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	return newStore(pool, cfg), nil
}

func newStore(pool *pgxpool.Pool, cfg Config) *Store {
	table := cfg.Table
	if table == "" {
		table = DefaultTable
	}
	limit := cfg.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Store{
		pool: pool,
		queries: map[int]aggregateQuery{
			cfg.SentQueryID:     {table: table, column: "sender"},
			cfg.ReceivedQueryID: {table: table, column: "recipient"},
		},
		limit: limit,
	}
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// RunQuery returns all-time aggregates for queryID.
func (s *Store) RunQuery(ctx context.Context, queryID int) ([]map[string]any, error) {
	return s.run(ctx, queryID, time.Time{})
}

// RunQuerySince returns aggregates over transfers at or after since.
func (s *Store) RunQuerySince(ctx context.Context, queryID int, since time.Time) ([]map[string]any, error) {
	return s.run(ctx, queryID, since)
}

func (s *Store) run(ctx context.Context, queryID int, since time.Time) ([]map[string]any, error) {
	query, ok := s.queries[queryID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownQuery, queryID)
	}
	sql, args := query.build(since, s.limit)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query %d: %w", queryID, err)
	}
	records, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("collect %d: %w", queryID, err)
	}
	return records, nil
}

// build renders the aggregate with the result column names the dashboard
// queries use, so the same column mapping reads both backends.
func (q aggregateQuery) build(since time.Time, limit int) (string, []any) {
	table := pgx.Identifier{q.table}.Sanitize()
	column := pgx.Identifier{q.column}.Sanitize()

	where := ""
	args := []any{limit}
	if !since.IsZero() {
		where = "WHERE block_time >= $2"
		args = append(args, since.UTC())
	}

	sql := fmt.Sprintf(`
		SELECT lower(%[2]s) AS %[2]s,
			count(*)::bigint AS times_received,
			sum(amount)::text AS total_wankr_received
		FROM %[1]s
		%[3]s
		GROUP BY lower(%[2]s)
		ORDER BY sum(amount) DESC, count(*) DESC
		LIMIT $1
	`, table, column, where)
	return sql, args
}
