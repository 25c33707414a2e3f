package leaderboard

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"shameScope/internal/model"
)

// ErrUnsupportedPeriod is returned when a source cannot bound results by time.
var ErrUnsupportedPeriod = errors.New("period not supported by aggregation source")

// Row is one address's aggregate before ranking.
type Row struct {
	Address string
	Count   int
	Total   decimal.Decimal
}

// Source produces aggregate rows for a direction and period.
type Source interface {
	Rows(ctx context.Context, dir model.Direction, period model.Period) ([]Row, error)
}

// HistoryReader exposes retained transactions.
type HistoryReader interface {
	History() []model.Transaction
}

// HistorySource folds the in-memory shame history.
type HistorySource struct {
	reader HistoryReader
	nowFn  func() time.Time
}

// NewHistorySource aggregates over reader's transactions.
func NewHistorySource(reader HistoryReader, now func() time.Time) *HistorySource {
	if now == nil {
		now = time.Now
	}
	return &HistorySource{reader: reader, nowFn: now}
}

// Rows groups transactions by sender or recipient. Transactions outside the
// period are dropped before grouping.
func (s *HistorySource) Rows(_ context.Context, dir model.Direction, period model.Period) ([]Row, error) {
	since := period.Since(s.nowFn())

	byAddress := make(map[string]*Row)
	var order []string
	for _, tx := range s.reader.History() {
		if !since.IsZero() && tx.Timestamp < since.Unix() {
			continue
		}
		address := tx.From
		if dir == model.DirectionReceived {
			address = tx.To
		}
		row, ok := byAddress[address]
		if !ok {
			row = &Row{Address: address, Total: decimal.Zero}
			byAddress[address] = row
			order = append(order, address)
		}
		row.Count++
		row.Total = row.Total.Add(tx.Amount)
	}

	rows := make([]Row, 0, len(order))
	for _, address := range order {
		rows = append(rows, *byAddress[address])
	}
	return rows, nil
}
