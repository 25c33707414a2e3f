package model

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAddr = "0xAbC1000000000000000000000000000000001234"

func TestShortenAddress(t *testing.T) {
	assert.Equal(t, "0xabc1...1234", ShortenAddress(testAddr))
	assert.Equal(t, "0x12", ShortenAddress("0x12"))
}

func TestAddressHelpers(t *testing.T) {
	assert.True(t, IsAddress(testAddr))
	assert.False(t, IsAddress("0x1234"))
	assert.False(t, IsAddress("not-an-address"))
	assert.True(t, IsZeroAddress("0x0000000000000000000000000000000000000000"))
	assert.Equal(t, "0xabc1000000000000000000000000000000001234", CanonicalAddress(" "+testAddr+" "))
}

func TestSourcePriorityOrdering(t *testing.T) {
	assert.Less(t, SourceOnChainName.Priority(), SourceSocialGraph.Priority())
	assert.Less(t, SourceSocialGraph.Priority(), SourceFallback.Priority())

	text, err := SourceSocialGraph.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "social_graph", string(text))

	var s Source
	require.NoError(t, s.UnmarshalText([]byte("onchain_name")))
	assert.Equal(t, SourceOnChainName, s)
	assert.Error(t, s.UnmarshalText([]byte("bogus")))
}

func TestIdentityRecordSupersedes(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	fallback := NewFallbackRecord(testAddr, now, now.Add(time.Hour))
	social := NewProviderRecord(SourceSocialGraph, testAddr, Profile{DisplayName: "@alice", Handle: "alice", Platform: "farcaster"}, now, now.Add(time.Hour))
	onchain := NewProviderRecord(SourceOnChainName, testAddr, Profile{DisplayName: "alice.eth", Handle: "alice.eth", Platform: "ens", Verified: true}, now, now.Add(time.Hour))

	assert.True(t, social.Supersedes(fallback))
	assert.True(t, onchain.Supersedes(social))
	assert.True(t, social.Supersedes(social))
	assert.False(t, social.Supersedes(onchain))
	assert.False(t, fallback.Supersedes(social))
}

func TestIdentityRecordValidate(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	fallback := NewFallbackRecord(testAddr, now, now.Add(time.Hour))
	require.NoError(t, fallback.Validate())
	assert.Equal(t, "0xabc1...1234", fallback.DisplayName)

	bad := fallback
	bad.Handle = "x"
	assert.Error(t, bad.Validate())

	provider := NewProviderRecord(SourceSocialGraph, testAddr, Profile{Handle: "alice"}, now, now.Add(time.Hour))
	assert.Error(t, provider.Validate(), "platform required")
	assert.Equal(t, "alice", provider.DisplayName)
}

func TestIdentityRecordExpiredAndJSON(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	rec := NewFallbackRecord(testAddr, now, now.Add(time.Hour))
	assert.False(t, rec.Expired(now))
	assert.True(t, rec.Expired(now.Add(time.Hour)))

	raw, err := json.Marshal(rec)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, float64(3), decoded["priority"])
	assert.Equal(t, "fallback", decoded["source"])
}

func TestParseDirectionAndPeriod(t *testing.T) {
	d, err := ParseDirection("sent")
	require.NoError(t, err)
	assert.Equal(t, DirectionSent, d)
	_, err = ParseDirection("sideways")
	assert.True(t, errors.Is(err, ErrInvalidDirection))

	p, err := ParsePeriod("")
	require.NoError(t, err)
	assert.Equal(t, PeriodAll, p)
	_, err = ParsePeriod("year")
	assert.True(t, errors.Is(err, ErrInvalidPeriod))

	now := time.Unix(1_700_000_000, 0)
	assert.True(t, PeriodAll.Since(now).IsZero())
	assert.Equal(t, now.Add(-24*time.Hour), PeriodDay.Since(now))
	assert.Equal(t, now.Add(-7*24*time.Hour), PeriodWeek.Since(now))
}
