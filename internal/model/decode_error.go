package model

import "fmt"

// DecodeError records why a log could not be turned into a transaction.
type DecodeError struct {
	BlockNumber uint64 `json:"blockNumber"`
	TxHash      string `json:"transactionHash"`
	LogIndex    uint64 `json:"logIndex"`
	Topic0      string `json:"topic0"`
	Err         error  `json:"-"`
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode log %s#%d (block %d, topic %s): %v", e.TxHash, e.LogIndex, e.BlockNumber, e.Topic0, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
