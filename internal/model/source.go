package model

import "fmt"

// Source identifies where an identity record came from. The numeric value is
// the record's priority: lower wins.
type Source int

const (
	SourceOnChainName Source = iota + 1
	SourceSocialGraph
	SourceFallback
)

// Priority returns the trust rank of the source (1 highest).
func (s Source) Priority() int {
	return int(s)
}

func (s Source) String() string {
	switch s {
	case SourceOnChainName:
		return "onchain_name"
	case SourceSocialGraph:
		return "social_graph"
	case SourceFallback:
		return "fallback"
	default:
		return fmt.Sprintf("source(%d)", int(s))
	}
}

// Valid reports whether s is one of the known sources.
func (s Source) Valid() bool {
	return s >= SourceOnChainName && s <= SourceFallback
}

// MarshalText encodes the source by name.
func (s Source) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid source: %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a source name.
func (s *Source) UnmarshalText(text []byte) error {
	parsed, err := ParseSource(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseSource parses a source name.
func ParseSource(name string) (Source, error) {
	switch name {
	case "onchain_name":
		return SourceOnChainName, nil
	case "social_graph":
		return SourceSocialGraph, nil
	case "fallback":
		return SourceFallback, nil
	default:
		return 0, fmt.Errorf("unknown source: %q", name)
	}
}
