package leaderboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shameScope/internal/events"
	"shameScope/internal/model"
)

const (
	addrX = "0x1111111111111111111111111111111111111111"
	addrY = "0x2222222222222222222222222222222222222222"
	addrZ = "0x3333333333333333333333333333333333333333"
)

type staticHistory []model.Transaction

func (h staticHistory) History() []model.Transaction { return h }

type fakeResolver struct {
	mu    sync.Mutex
	calls int
	known map[string]model.IdentityRecord
}

func (r *fakeResolver) ResolveBulk(addresses []string) map[string]model.IdentityRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	out := make(map[string]model.IdentityRecord, len(addresses))
	for _, address := range addresses {
		if rec, ok := r.known[address]; ok {
			out[address] = rec
			continue
		}
		out[address] = model.NewFallbackRecord(address, time.Unix(0, 0), time.Unix(0, 0).Add(time.Hour))
	}
	return out
}

type fakeRunner struct {
	mu       sync.Mutex
	calls    int
	since    []time.Time
	rows     map[int][]map[string]any
	err      error
}

func (r *fakeRunner) RunQuery(_ context.Context, queryID int) ([]map[string]any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return r.rows[queryID], nil
}

type periodRunner struct{ *fakeRunner }

func (r periodRunner) RunQuerySince(ctx context.Context, queryID int, since time.Time) ([]map[string]any, error) {
	r.mu.Lock()
	r.since = append(r.since, since)
	r.mu.Unlock()
	return r.RunQuery(ctx, queryID)
}

func tx(from, to string, amount int64, ts int64) model.Transaction {
	return model.Transaction{From: from, To: to, Amount: decimal.NewFromInt(amount), Timestamp: ts}
}

func TestHistoryLeaderboardRanksByTotal(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	history := staticHistory{
		tx(addrX, addrZ, 5, now.Unix()),
		tx(addrX, addrZ, 6, now.Unix()),
		tx(addrY, addrZ, 10, now.Unix()),
		tx(addrX, addrY, 7, now.Unix()),
	}
	resolver := &fakeResolver{known: map[string]model.IdentityRecord{
		addrX: model.NewProviderRecord(model.SourceSocialGraph, addrX, model.Profile{Handle: "xavier", DisplayName: "@xavier", Platform: "farcaster"}, now, now.Add(time.Hour)),
	}}
	agg := NewAggregator(NewHistorySource(history, func() time.Time { return now }), resolver, 0, nil)

	entries, err := agg.GetLeaderboard(context.Background(), model.DirectionSent, model.PeriodAll)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, 1, entries[0].Rank)
	assert.Equal(t, addrX, entries[0].Address)
	assert.Equal(t, 3, entries[0].TransactionCount)
	assert.True(t, entries[0].TotalAmount.Equal(decimal.NewFromInt(18)))
	assert.Equal(t, "@xavier", entries[0].DisplayName)
	assert.Equal(t, model.SourceSocialGraph, entries[0].Source)

	assert.Equal(t, 2, entries[1].Rank)
	assert.Equal(t, addrY, entries[1].Address)
	assert.Equal(t, 1, entries[1].TransactionCount)
	assert.True(t, entries[1].TotalAmount.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, "0x2222...2222", entries[1].DisplayName)
	assert.Equal(t, model.SourceFallback, entries[1].Source)

	assert.Equal(t, 1, resolver.calls)
}

func TestHistoryLeaderboardPeriodAndDirection(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	history := staticHistory{
		tx(addrX, addrY, 4, now.Add(-2*time.Hour).Unix()),
		tx(addrX, addrZ, 9, now.Add(-48*time.Hour).Unix()),
		tx(addrY, addrZ, 2, now.Add(-10*24*time.Hour).Unix()),
	}
	agg := NewAggregator(NewHistorySource(history, func() time.Time { return now }), &fakeResolver{}, 0, nil)

	day, err := agg.GetLeaderboard(context.Background(), model.DirectionReceived, model.PeriodDay)
	require.NoError(t, err)
	require.Len(t, day, 1)
	assert.Equal(t, addrY, day[0].Address)

	week, err := agg.GetLeaderboard(context.Background(), model.DirectionReceived, model.PeriodWeek)
	require.NoError(t, err)
	require.Len(t, week, 2)
	assert.Equal(t, addrZ, week[0].Address)
	assert.True(t, week[0].TotalAmount.Equal(decimal.NewFromInt(9)))

	all, err := agg.GetLeaderboard(context.Background(), model.DirectionReceived, model.PeriodAll)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.True(t, all[0].TotalAmount.Equal(decimal.NewFromInt(11)))
}

func TestLeaderboardTieBreakAndLimit(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	history := staticHistory{
		tx(addrZ, addrX, 5, now.Unix()),
		tx(addrY, addrX, 5, now.Unix()),
		tx(addrX, addrY, 2, now.Unix()),
		tx(addrX, addrY, 3, now.Unix()),
	}
	agg := NewAggregator(NewHistorySource(history, func() time.Time { return now }), &fakeResolver{}, 2, nil)

	entries, err := agg.GetLeaderboard(context.Background(), model.DirectionSent, model.PeriodAll)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	// Equal totals: more transactions first, then address order.
	assert.Equal(t, addrX, entries[0].Address)
	assert.Equal(t, addrY, entries[1].Address)
	assert.Equal(t, 2, entries[1].Rank)
}

func TestQuerySourceCachesAndParses(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	clock := now
	runner := &fakeRunner{rows: map[int][]map[string]any{
		DefaultSentQueryID: {
			{"sender": "0x1111111111111111111111111111111111111111", "times_received": json.Number("3"), "total_wankr_received": json.Number("18")},
			{"sender": "0x2222222222222222222222222222222222222222", "times_received": float64(1), "total_wankr_received": "10"},
			{"sender": "not-an-address", "times_received": 9, "total_wankr_received": 99},
		},
	}}
	source := NewQuerySource(QueryConfig{Now: func() time.Time { return clock }}, runner)
	agg := NewAggregator(source, &fakeResolver{}, 0, nil)

	entries, err := agg.GetLeaderboard(context.Background(), model.DirectionSent, model.PeriodAll)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, addrX, entries[0].Address)
	assert.Equal(t, 3, entries[0].TransactionCount)
	assert.Equal(t, addrY, entries[1].Address)

	_, err = agg.GetLeaderboard(context.Background(), model.DirectionSent, model.PeriodAll)
	require.NoError(t, err)
	assert.Equal(t, 1, runner.calls)

	clock = now.Add(DefaultCacheTTL)
	_, err = agg.GetLeaderboard(context.Background(), model.DirectionSent, model.PeriodAll)
	require.NoError(t, err)
	assert.Equal(t, 2, runner.calls)
}

func TestQuerySourcePeriods(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	runner := &fakeRunner{}

	plain := NewAggregator(NewQuerySource(QueryConfig{Now: func() time.Time { return now }}, runner), nil, 0, nil)
	_, err := plain.GetLeaderboard(context.Background(), model.DirectionSent, model.PeriodWeek)
	require.ErrorIs(t, err, ErrUnsupportedPeriod)
	_, err = plain.GetLeaderboards(context.Background(), model.PeriodDay)
	require.ErrorIs(t, err, ErrUnsupportedPeriod)

	capable := periodRunner{runner}
	agg := NewAggregator(NewQuerySource(QueryConfig{Now: func() time.Time { return now }}, capable), nil, 0, nil)
	_, err = agg.GetLeaderboard(context.Background(), model.DirectionReceived, model.PeriodDay)
	require.NoError(t, err)
	require.Len(t, runner.since, 1)
	assert.Equal(t, now.Add(-24*time.Hour), runner.since[0])
}

func TestQueryFailureYieldsEmptyBoard(t *testing.T) {
	runner := &fakeRunner{err: errors.New("boom")}
	agg := NewAggregator(NewQuerySource(QueryConfig{}, runner), nil, 0, nil)

	board, err := agg.GetLeaderboards(context.Background(), model.PeriodAll)
	require.NoError(t, err)
	assert.Empty(t, board.Sent)
	assert.Empty(t, board.Received)
	assert.NotNil(t, board.Sent)
}

func TestDuneClientRunQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/query/5604950/results", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-Dune-API-Key"))
		_, _ = w.Write([]byte(`{"state":"QUERY_STATE_COMPLETED","result":{"rows":[{"recipient":"0x2222222222222222222222222222222222222222","times_received":2,"total_wankr_received":12.5}]}}`))
	}))
	defer srv.Close()

	client, err := NewDuneClient("secret", srv.URL, srv.Client())
	require.NoError(t, err)

	source := NewQuerySource(DefaultQueryConfig(), client)
	rows, err := source.Rows(context.Background(), model.DirectionReceived, model.PeriodAll)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, addrY, rows[0].Address)
	assert.Equal(t, 2, rows[0].Count)
	assert.Equal(t, "12.5", rows[0].Total.String())
}

func TestDuneClientErrors(t *testing.T) {
	_, err := NewDuneClient("  ", "", nil)
	require.ErrorIs(t, err, ErrNoDuneAPIKey)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client, err := NewDuneClient("secret", srv.URL, srv.Client())
	require.NoError(t, err)
	_, err = client.RunQuery(context.Background(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestWatchPublishesLeaderboardUpdate(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	hub := events.NewHub(nil)
	agg := NewAggregator(NewHistorySource(staticHistory{tx(addrX, addrY, 5, now.Unix())}, func() time.Time { return now }), &fakeResolver{}, 0, nil)

	got := make(chan Board, 1)
	hub.Subscribe(func(e events.Event) {
		if board, ok := e.Payload.(Board); ok {
			select {
			case got <- board:
			default:
			}
		}
	}, events.KindLeaderboardUpdate)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- agg.Watch(ctx, hub) }()

	var board Board
	require.Eventually(t, func() bool {
		hub.Publish(events.KindHistoryUpdate, nil)
		select {
		case board = <-got:
			return true
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
	require.Len(t, board.Sent, 1)
	assert.Equal(t, addrX, board.Sent[0].Address)
	assert.Equal(t, model.PeriodAll, board.Period)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
