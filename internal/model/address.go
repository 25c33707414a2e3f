package model

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ZeroAddress is the canonical mint/burn address.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// CanonicalAddress returns the lowercase hex form used for keying and equality.
func CanonicalAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// IsAddress reports whether the input is a 20-byte hex address.
func IsAddress(address string) bool {
	return common.IsHexAddress(strings.TrimSpace(address))
}

// IsZeroAddress reports whether the address is the zero (mint/burn) address.
func IsZeroAddress(address string) bool {
	return CanonicalAddress(address) == ZeroAddress
}

// ShortenAddress renders the first 6 and last 4 characters joined by an ellipsis.
func ShortenAddress(address string) string {
	address = CanonicalAddress(address)
	if len(address) <= 10 {
		return address
	}
	return address[:6] + "..." + address[len(address)-4:]
}
