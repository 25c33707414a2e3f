package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Profile is what an external provider reports for an address.
type Profile struct {
	DisplayName string `json:"displayName"`
	Handle      string `json:"handle"`
	Platform    string `json:"platform"`
	Avatar      string `json:"avatar,omitempty"`
	Verified    bool   `json:"verified"`
}

// IdentityRecord is the resolved display identity of an address.
type IdentityRecord struct {
	Address     string    `json:"address"`
	DisplayName string    `json:"displayName"`
	Source      Source    `json:"source"`
	Handle      string    `json:"handle,omitempty"`
	Platform    string    `json:"platform,omitempty"`
	Avatar      string    `json:"avatar,omitempty"`
	Verified    bool      `json:"verified,omitempty"`
	LastUpdated time.Time `json:"lastUpdated"`
	RefreshDue  time.Time `json:"refreshDue"`
}

// NewFallbackRecord synthesizes a shortened-address record.
func NewFallbackRecord(address string, now, refreshDue time.Time) IdentityRecord {
	address = CanonicalAddress(address)
	return IdentityRecord{
		Address:     address,
		DisplayName: ShortenAddress(address),
		Source:      SourceFallback,
		LastUpdated: now,
		RefreshDue:  refreshDue,
	}
}

// NewProviderRecord builds a record from a provider profile.
func NewProviderRecord(source Source, address string, profile Profile, now, refreshDue time.Time) IdentityRecord {
	address = CanonicalAddress(address)
	display := profile.DisplayName
	if display == "" {
		display = profile.Handle
	}
	return IdentityRecord{
		Address:     address,
		DisplayName: display,
		Source:      source,
		Handle:      profile.Handle,
		Platform:    profile.Platform,
		Avatar:      profile.Avatar,
		Verified:    profile.Verified,
		LastUpdated: now,
		RefreshDue:  refreshDue,
	}
}

// Priority is derived from the source.
func (r IdentityRecord) Priority() int {
	return r.Source.Priority()
}

// Expired reports whether the record is due for eviction at now.
func (r IdentityRecord) Expired(now time.Time) bool {
	return !now.Before(r.RefreshDue)
}

// Supersedes reports whether r may replace existing: equal or better trust.
func (r IdentityRecord) Supersedes(existing IdentityRecord) bool {
	return r.Priority() <= existing.Priority()
}

// Validate checks the per-source required fields.
func (r IdentityRecord) Validate() error {
	if !IsAddress(r.Address) {
		return fmt.Errorf("invalid address: %q", r.Address)
	}
	if r.DisplayName == "" {
		return fmt.Errorf("display name required")
	}
	switch r.Source {
	case SourceFallback:
		if r.Handle != "" || r.Platform != "" {
			return fmt.Errorf("fallback record cannot carry handle or platform")
		}
	case SourceOnChainName, SourceSocialGraph:
		if r.Handle == "" || r.Platform == "" {
			return fmt.Errorf("%s record requires handle and platform", r.Source)
		}
	default:
		return fmt.Errorf("invalid source: %d", int(r.Source))
	}
	return nil
}

// MarshalJSON adds the derived priority.
func (r IdentityRecord) MarshalJSON() ([]byte, error) {
	type Alias IdentityRecord
	return json.Marshal(struct {
		Alias
		Priority int `json:"priority"`
	}{Alias: Alias(r), Priority: r.Priority()})
}
