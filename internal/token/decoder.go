package token

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"shameScope/internal/model"
)

// Transfer is a decoded Transfer or ShameDelivered log.
type Transfer struct {
	From        common.Address
	To          common.Address
	Value       *big.Int
	Reason      string
	BlockNumber uint64
	TxHash      common.Hash
	LogIndex    uint64
}

// Judgment is a decoded SpectralJudgment log.
type Judgment struct {
	Target      common.Address
	Judgment    uint8
	Reason      string
	BlockNumber uint64
	TxHash      common.Hash
	LogIndex    uint64
}

// Ranking is a decoded ShameSoldierRanked log.
type Ranking struct {
	Soldier             common.Address
	TotalShameDelivered *big.Int
	Rank                *big.Int
	BlockNumber         uint64
	TxHash              common.Hash
	LogIndex            uint64
}

// Decoder turns token logs into typed values.
type Decoder struct {
	tokenABI    abi.ABI
	topicToName map[common.Hash]string
}

// NewDecoder builds a decoder for the shame token events.
func NewDecoder() (*Decoder, error) {
	tokenABI, err := ShameTokenABI()
	if err != nil {
		return nil, fmt.Errorf("parse token abi: %w", err)
	}

	topicToName := make(map[common.Hash]string, 4)
	for _, name := range []string{EventTransfer, EventShameDelivered, EventSpectralJudgment, EventShameSoldierRanked} {
		topicToName[tokenABI.Events[name].ID] = name
	}

	return &Decoder{tokenABI: tokenABI, topicToName: topicToName}, nil
}

// Topics returns the topic0 values the decoder understands, for log filters.
func (d *Decoder) Topics() []common.Hash {
	return []common.Hash{
		d.tokenABI.Events[EventTransfer].ID,
		d.tokenABI.Events[EventShameDelivered].ID,
		d.tokenABI.Events[EventSpectralJudgment].ID,
		d.tokenABI.Events[EventShameSoldierRanked].ID,
	}
}

// EventName returns the event name for a log, or "" if unsupported.
func (d *Decoder) EventName(log types.Log) string {
	if len(log.Topics) == 0 {
		return ""
	}
	return d.topicToName[log.Topics[0]]
}

// CanDecode reports whether the log's topic0 is supported.
func (d *Decoder) CanDecode(log types.Log) bool {
	return d.EventName(log) != ""
}

// DecodeTransfer decodes a Transfer or ShameDelivered log.
func (d *Decoder) DecodeTransfer(log types.Log) (Transfer, error) {
	name := d.EventName(log)
	if name != EventTransfer && name != EventShameDelivered {
		return Transfer{}, decodeError(log, fmt.Errorf("not a transfer event"))
	}
	event := d.tokenABI.Events[name]

	var indexed struct {
		From common.Address
		To   common.Address
	}
	if err := parseIndexed(event, log, &indexed); err != nil {
		return Transfer{}, decodeError(log, err)
	}

	values, err := event.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return Transfer{}, decodeError(log, fmt.Errorf("unpack %s: %w", name, err))
	}
	if len(values) == 0 {
		return Transfer{}, decodeError(log, fmt.Errorf("missing %s value", name))
	}
	value, err := asBigInt(values[0])
	if err != nil {
		return Transfer{}, decodeError(log, err)
	}

	out := Transfer{
		From:        indexed.From,
		To:          indexed.To,
		Value:       value,
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash,
		LogIndex:    uint64(log.Index),
	}
	if name == EventShameDelivered && len(values) > 1 {
		if reason, ok := values[1].(string); ok {
			out.Reason = reason
		}
	}
	return out, nil
}

// DecodeJudgment decodes a SpectralJudgment log.
func (d *Decoder) DecodeJudgment(log types.Log) (Judgment, error) {
	if d.EventName(log) != EventSpectralJudgment {
		return Judgment{}, decodeError(log, fmt.Errorf("not a judgment event"))
	}
	event := d.tokenABI.Events[EventSpectralJudgment]

	var indexed struct {
		Target common.Address
	}
	if err := parseIndexed(event, log, &indexed); err != nil {
		return Judgment{}, decodeError(log, err)
	}

	values, err := event.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return Judgment{}, decodeError(log, fmt.Errorf("unpack judgment: %w", err))
	}
	if len(values) != 2 {
		return Judgment{}, decodeError(log, fmt.Errorf("unexpected judgment values: %d", len(values)))
	}
	judgment, err := asUint8(values[0])
	if err != nil {
		return Judgment{}, decodeError(log, err)
	}
	reason, _ := values[1].(string)

	return Judgment{
		Target:      indexed.Target,
		Judgment:    judgment,
		Reason:      reason,
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash,
		LogIndex:    uint64(log.Index),
	}, nil
}

// DecodeRanking decodes a ShameSoldierRanked log.
func (d *Decoder) DecodeRanking(log types.Log) (Ranking, error) {
	if d.EventName(log) != EventShameSoldierRanked {
		return Ranking{}, decodeError(log, fmt.Errorf("not a ranking event"))
	}
	event := d.tokenABI.Events[EventShameSoldierRanked]

	var indexed struct {
		Soldier common.Address
	}
	if err := parseIndexed(event, log, &indexed); err != nil {
		return Ranking{}, decodeError(log, err)
	}

	values, err := event.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return Ranking{}, decodeError(log, fmt.Errorf("unpack ranking: %w", err))
	}
	if len(values) != 2 {
		return Ranking{}, decodeError(log, fmt.Errorf("unexpected ranking values: %d", len(values)))
	}
	total, err := asBigInt(values[0])
	if err != nil {
		return Ranking{}, decodeError(log, err)
	}
	rank, err := asBigInt(values[1])
	if err != nil {
		return Ranking{}, decodeError(log, err)
	}

	return Ranking{
		Soldier:             indexed.Soldier,
		TotalShameDelivered: total,
		Rank:                rank,
		BlockNumber:         log.BlockNumber,
		TxHash:              log.TxHash,
		LogIndex:            uint64(log.Index),
	}, nil
}

func parseIndexed(event abi.Event, log types.Log, out interface{}) error {
	indexed := indexedArguments(event.Inputs)
	if len(log.Topics) != len(indexed)+1 {
		return fmt.Errorf("expected %d topics, got %d", len(indexed)+1, len(log.Topics))
	}
	if err := abi.ParseTopics(out, indexed, log.Topics[1:]); err != nil {
		return fmt.Errorf("parse topics: %w", err)
	}
	return nil
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}

func decodeError(log types.Log, err error) *model.DecodeError {
	topic0 := ""
	if len(log.Topics) > 0 {
		topic0 = strings.ToLower(log.Topics[0].Hex())
	}
	return &model.DecodeError{
		BlockNumber: log.BlockNumber,
		TxHash:      strings.ToLower(log.TxHash.Hex()),
		LogIndex:    uint64(log.Index),
		Topic0:      topic0,
		Err:         err,
	}
}

func asBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	default:
		return nil, fmt.Errorf("unsupported int type %T", value)
	}
}

func asUint8(value interface{}) (uint8, error) {
	switch v := value.(type) {
	case uint8:
		return v, nil
	case *big.Int:
		if !v.IsUint64() || v.Uint64() > 255 {
			return 0, fmt.Errorf("uint8 overflow: %s", v.String())
		}
		return uint8(v.Uint64()), nil
	default:
		return 0, fmt.Errorf("unsupported uint8 type %T", value)
	}
}
