package token

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

// DefaultDecimals is assumed when decimals() cannot be read.
const DefaultDecimals uint8 = 18

// Caller performs read-only contract calls.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ShameRecord is one entry of the contract's native shame history.
type ShameRecord struct {
	From      common.Address
	To        common.Address
	Amount    *big.Int
	Timestamp *big.Int
	Reason    string
}

// Key is a stable identifier for a native record, which carries no tx hash.
func (r ShameRecord) Key() common.Hash {
	return crypto.Keccak256Hash(
		r.From.Bytes(),
		r.To.Bytes(),
		common.BigToHash(r.Amount).Bytes(),
		common.BigToHash(r.Timestamp).Bytes(),
	)
}

// FetchShameHistory calls getShameHistory() on the token contract.
func FetchShameHistory(ctx context.Context, caller Caller, contract common.Address) ([]ShameRecord, error) {
	tokenABI, err := ShameTokenABI()
	if err != nil {
		return nil, fmt.Errorf("parse token abi: %w", err)
	}
	values, err := call(ctx, caller, contract, tokenABI, "getShameHistory")
	if err != nil {
		return nil, err
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("unexpected getShameHistory values: %d", len(values))
	}

	records := *abi.ConvertType(values[0], new([]ShameRecord)).(*[]ShameRecord)
	return records, nil
}

// SoldierRecord is one entry of the contract's top shame soldiers.
type SoldierRecord struct {
	Soldier             common.Address
	TotalShameDelivered *big.Int
	LastShameTime       *big.Int
	Rank                *big.Int
}

// FetchTopSoldiers calls getTopShameSoldiers() on the token contract.
func FetchTopSoldiers(ctx context.Context, caller Caller, contract common.Address) ([]SoldierRecord, error) {
	tokenABI, err := ShameTokenABI()
	if err != nil {
		return nil, fmt.Errorf("parse token abi: %w", err)
	}
	values, err := call(ctx, caller, contract, tokenABI, "getTopShameSoldiers")
	if err != nil {
		return nil, err
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("unexpected getTopShameSoldiers values: %d", len(values))
	}

	soldiers := *abi.ConvertType(values[0], new([]SoldierRecord)).(*[]SoldierRecord)
	return soldiers, nil
}

// FetchDecimals reads the ERC20 decimals of the token.
func FetchDecimals(ctx context.Context, caller Caller, contract common.Address) (uint8, error) {
	tokenABI, err := ShameTokenABI()
	if err != nil {
		return 0, fmt.Errorf("parse token abi: %w", err)
	}
	values, err := call(ctx, caller, contract, tokenABI, "decimals")
	if err != nil {
		return 0, err
	}
	if len(values) != 1 {
		return 0, fmt.Errorf("unexpected decimals values: %d", len(values))
	}
	return asUint8(values[0])
}

// FormatAmount scales a raw token amount by decimals.
func FormatAmount(raw *big.Int, decimals uint8) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -int32(decimals))
}

func call(ctx context.Context, caller Caller, contract common.Address, parsed abi.ABI, method string) ([]interface{}, error) {
	if caller == nil {
		return nil, fmt.Errorf("contract caller is nil")
	}
	data, err := parsed.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	resp, err := caller.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}
