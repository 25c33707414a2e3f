package onchain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"shameScope/internal/model"
)

const nameResolverABIJSON = `[
  {
    "inputs": [{"internalType": "bytes32", "name": "node", "type": "bytes32"}],
    "name": "name",
    "outputs": [{"internalType": "string", "name": "", "type": "string"}],
    "stateMutability": "view",
    "type": "function"
  }
]`

const (
	DefaultReverseSuffix = "addr.reverse"
	DefaultPlatform      = "ens"
	DefaultMaxBatch      = 50
)

var (
	nameResolverABI     abi.ABI
	nameResolverABIOnce sync.Once
	nameResolverABIErr  error
)

func nameResolverABIInstance() (abi.ABI, error) {
	nameResolverABIOnce.Do(func() {
		nameResolverABI, nameResolverABIErr = abi.JSON(strings.NewReader(nameResolverABIJSON))
	})
	return nameResolverABI, nameResolverABIErr
}

// Caller performs read-only contract calls.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Config selects the reverse registry to read.
type Config struct {
	Resolver      common.Address
	ReverseSuffix string
	Platform      string
	MaxBatch      int
	MinInterval   time.Duration
}

// Resolver looks up primary names through a reverse-record resolver contract.
type Resolver struct {
	cfg    Config
	caller Caller
	logger *zap.Logger
}

// New builds an on-chain name provider.
func New(cfg Config, caller Caller, logger *zap.Logger) *Resolver {
	if cfg.ReverseSuffix == "" {
		cfg.ReverseSuffix = DefaultReverseSuffix
	}
	if cfg.Platform == "" {
		cfg.Platform = DefaultPlatform
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = DefaultMaxBatch
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{cfg: cfg, caller: caller, logger: logger}
}

func (r *Resolver) Name() string               { return "onchain:" + r.cfg.Platform }
func (r *Resolver) Source() model.Source       { return model.SourceOnChainName }
func (r *Resolver) MaxBatch() int              { return r.cfg.MaxBatch }
func (r *Resolver) MinInterval() time.Duration { return r.cfg.MinInterval }

// ResolveBulk looks up each address in turn. Individual lookup failures are
// skipped; the call only fails when every lookup failed.
func (r *Resolver) ResolveBulk(ctx context.Context, addresses []string) (map[string]model.Profile, error) {
	parsed, err := nameResolverABIInstance()
	if err != nil {
		return nil, fmt.Errorf("parse name resolver abi: %w", err)
	}

	out := make(map[string]model.Profile)
	var lastErr error
	failures := 0
	for _, address := range addresses {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		name, err := r.lookup(ctx, parsed, address)
		if err != nil {
			failures++
			lastErr = err
			r.logger.Debug("reverse lookup failed", zap.String("address", address), zap.Error(err))
			continue
		}
		if name == "" {
			continue
		}
		out[model.CanonicalAddress(address)] = model.Profile{
			DisplayName: name,
			Handle:      name,
			Platform:    r.cfg.Platform,
			Verified:    true,
		}
	}

	if len(addresses) > 0 && failures == len(addresses) {
		return nil, fmt.Errorf("all %d reverse lookups failed: %w", failures, lastErr)
	}
	return out, nil
}

func (r *Resolver) lookup(ctx context.Context, parsed abi.ABI, address string) (string, error) {
	node := ReverseNode(address, r.cfg.ReverseSuffix)
	data, err := parsed.Pack("name", node)
	if err != nil {
		return "", fmt.Errorf("pack name: %w", err)
	}
	resolver := r.cfg.Resolver
	resp, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &resolver, Data: data}, nil)
	if err != nil {
		return "", fmt.Errorf("call name: %w", err)
	}
	if len(resp) == 0 {
		return "", nil
	}
	values, err := parsed.Unpack("name", resp)
	if err != nil {
		return "", fmt.Errorf("unpack name: %w", err)
	}
	name, _ := values[0].(string)
	return strings.TrimSpace(name), nil
}

// ReverseNode returns the namehash of "<hex address>.<suffix>".
func ReverseNode(address, suffix string) [32]byte {
	label := strings.TrimPrefix(model.CanonicalAddress(address), "0x")
	return Namehash(label + "." + suffix)
}

// Namehash implements the recursive name hashing used by name registries.
func Namehash(name string) [32]byte {
	var node [32]byte
	if name == "" {
		return node
	}
	labels := strings.Split(name, ".")
	for i := len(labels) - 1; i >= 0; i-- {
		labelHash := crypto.Keccak256([]byte(labels[i]))
		copy(node[:], crypto.Keccak256(node[:], labelHash))
	}
	return node
}

// ResolverAddress parses a configured resolver contract address.
func ResolverAddress(value string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("invalid resolver address: %q", value)
	}
	return common.HexToAddress(value), nil
}
