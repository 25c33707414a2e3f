package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidDirection = errors.New("invalid direction")
	ErrInvalidPeriod    = errors.New("invalid period")
)

// Direction selects which side of a transfer a leaderboard groups by.
type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// ParseDirection validates a direction string.
func ParseDirection(value string) (Direction, error) {
	switch Direction(value) {
	case DirectionSent, DirectionReceived:
		return Direction(value), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDirection, value)
	}
}

// Period bounds the time range a leaderboard covers.
type Period string

const (
	PeriodAll  Period = "all"
	PeriodWeek Period = "week"
	PeriodDay  Period = "day"
)

// ParsePeriod validates a period string; empty means all.
func ParsePeriod(value string) (Period, error) {
	switch Period(value) {
	case "":
		return PeriodAll, nil
	case PeriodAll, PeriodWeek, PeriodDay:
		return Period(value), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPeriod, value)
	}
}

// Since returns the lower time bound of the period; zero time for all.
func (p Period) Since(now time.Time) time.Time {
	switch p {
	case PeriodWeek:
		return now.Add(-7 * 24 * time.Hour)
	case PeriodDay:
		return now.Add(-24 * time.Hour)
	default:
		return time.Time{}
	}
}

// LeaderboardEntry is one ranked row.
type LeaderboardEntry struct {
	Rank             int             `json:"rank"`
	Address          string          `json:"address"`
	DisplayName      string          `json:"displayName"`
	TransactionCount int             `json:"transactionCount"`
	TotalAmount      decimal.Decimal `json:"totalAmount"`
	Period           Period          `json:"period"`
	Source           Source          `json:"source"`
}

// ShameSoldier is one entry of the token contract's own sender ranking.
type ShameSoldier struct {
	Address             string          `json:"soldier"`
	TotalShameDelivered decimal.Decimal `json:"totalShameDelivered"`
	LastShameTime       int64           `json:"lastShameTime"`
	Rank                int             `json:"rank"`
}

// SameSoldiers reports whether two rankings hold the same entries in order.
func SameSoldiers(a, b []ShameSoldier) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Address != b[i].Address ||
			a[i].Rank != b[i].Rank ||
			a[i].LastShameTime != b[i].LastShameTime ||
			!a[i].TotalShameDelivered.Equal(b[i].TotalShameDelivered) {
			return false
		}
	}
	return true
}
