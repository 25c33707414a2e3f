package token

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const shameTokenABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "from", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "to", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "value", "type": "uint256"}
    ],
    "name": "Transfer",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "from", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "to", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"},
      {"indexed": false, "internalType": "string", "name": "reason", "type": "string"}
    ],
    "name": "ShameDelivered",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "target", "type": "address"},
      {"indexed": false, "internalType": "uint8", "name": "judgment", "type": "uint8"},
      {"indexed": false, "internalType": "string", "name": "reason", "type": "string"}
    ],
    "name": "SpectralJudgment",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "soldier", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "totalShameDelivered", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "rank", "type": "uint256"}
    ],
    "name": "ShameSoldierRanked",
    "type": "event"
  },
  {
    "inputs": [],
    "name": "getShameHistory",
    "outputs": [
      {
        "components": [
          {"internalType": "address", "name": "from", "type": "address"},
          {"internalType": "address", "name": "to", "type": "address"},
          {"internalType": "uint256", "name": "amount", "type": "uint256"},
          {"internalType": "uint256", "name": "timestamp", "type": "uint256"},
          {"internalType": "string", "name": "reason", "type": "string"}
        ],
        "internalType": "struct ShameRecord[]",
        "name": "",
        "type": "tuple[]"
      }
    ],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "getTopShameSoldiers",
    "outputs": [
      {
        "components": [
          {"internalType": "address", "name": "soldier", "type": "address"},
          {"internalType": "uint256", "name": "totalShameDelivered", "type": "uint256"},
          {"internalType": "uint256", "name": "lastShameTime", "type": "uint256"},
          {"internalType": "uint256", "name": "rank", "type": "uint256"}
        ],
        "internalType": "struct ShameSoldier[]",
        "name": "",
        "type": "tuple[]"
      }
    ],
    "stateMutability": "view",
    "type": "function"
  },
  {"inputs": [], "name": "decimals", "outputs": [{"type": "uint8"}], "stateMutability": "view", "type": "function"}
]`

// Event names understood by the decoder.
const (
	EventTransfer           = "Transfer"
	EventShameDelivered     = "ShameDelivered"
	EventSpectralJudgment   = "SpectralJudgment"
	EventShameSoldierRanked = "ShameSoldierRanked"
)

var (
	shameTokenABI     abi.ABI
	shameTokenABIOnce sync.Once
	shameTokenABIErr  error
)

// ShameTokenABI returns the parsed token ABI.
func ShameTokenABI() (abi.ABI, error) {
	shameTokenABIOnce.Do(func() {
		shameTokenABI, shameTokenABIErr = abi.JSON(strings.NewReader(shameTokenABIJSON))
	})
	return shameTokenABI, shameTokenABIErr
}
