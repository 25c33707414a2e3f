package model

import "github.com/shopspring/decimal"

// Transaction is a retained shame transfer plus its display enrichment.
type Transaction struct {
	From        string          `json:"from"`
	To          string          `json:"to"`
	Amount      decimal.Decimal `json:"amount"`
	Timestamp   int64           `json:"timestamp"`
	TxHash      string          `json:"transactionHash"`
	BlockNumber uint64          `json:"blockNumber"`
	LogIndex    uint64          `json:"logIndex"`
	Reason      string          `json:"reason"`

	FromDisplayName string `json:"fromDisplayName"`
	ToDisplayName   string `json:"toDisplayName"`
	FromSource      Source `json:"fromSource"`
	ToSource        Source `json:"toSource"`
	Judgment        *uint8 `json:"judgment,omitempty"`
}

// Involves reports whether the canonical address is either side of the transfer.
func (t Transaction) Involves(address string) bool {
	address = CanonicalAddress(address)
	return t.From == address || t.To == address
}

// ShameStats summarizes the retained history.
type ShameStats struct {
	TotalShames     int             `json:"totalShames"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	UniqueShamers   int             `json:"uniqueShamers"`
	UniqueShamed    int             `json:"uniqueShamed"`
	AverageJudgment float64         `json:"averageJudgment"`
}
