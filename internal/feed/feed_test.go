package feed

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shameScope/internal/events"
	"shameScope/internal/model"
	"shameScope/internal/token"
)

var (
	tokenAddr = common.HexToAddress("0xa207c6e67cea08641503947ac05c65748bb9bb07")
	alice     = common.HexToAddress("0x1111111111111111111111111111111111111111")
	bob       = common.HexToAddress("0x2222222222222222222222222222222222222222")
	carol     = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

type fakeLedger struct {
	mu        sync.Mutex
	latest    uint64
	logs      []types.Log
	filterErr error
	windows   []BlockRange
	native    []token.ShameRecord
	soldiers  []token.SoldierRecord
}

func (f *fakeLedger) LatestBlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest, nil
}

func (f *fakeLedger) FilterLogs(_ context.Context, from, to uint64, _ []common.Address, _ []common.Hash) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.filterErr != nil {
		return nil, f.filterErr
	}
	f.windows = append(f.windows, BlockRange{From: from, To: to})
	var out []types.Log
	for _, log := range f.logs {
		if log.BlockNumber >= from && log.BlockNumber <= to {
			out = append(out, log)
		}
	}
	return out, nil
}

func (f *fakeLedger) BlockTimestamp(_ context.Context, number uint64) (uint64, error) {
	return 1_700_000_000 + number, nil
}

func (f *fakeLedger) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	tokenABI, err := token.ShameTokenABI()
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	switch string(msg.Data[:4]) {
	case string(tokenABI.Methods["decimals"].ID):
		return tokenABI.Methods["decimals"].Outputs.Pack(uint8(18))
	case string(tokenABI.Methods["getShameHistory"].ID):
		if f.native == nil {
			return nil, errors.New("execution reverted")
		}
		return tokenABI.Methods["getShameHistory"].Outputs.Pack(f.native)
	case string(tokenABI.Methods["getTopShameSoldiers"].ID):
		if f.soldiers == nil {
			return nil, errors.New("execution reverted")
		}
		return tokenABI.Methods["getTopShameSoldiers"].Outputs.Pack(f.soldiers)
	default:
		return nil, errors.New("unknown method")
	}
}

func (f *fakeLedger) setLatest(block uint64) {
	f.mu.Lock()
	f.latest = block
	f.mu.Unlock()
}

func (f *fakeLedger) addLogs(logs ...types.Log) {
	f.mu.Lock()
	f.logs = append(f.logs, logs...)
	f.mu.Unlock()
}

type fakeResolver struct {
	mu      sync.Mutex
	records map[string]model.IdentityRecord
}

func (r *fakeResolver) Resolve(address string) model.IdentityRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	address = model.CanonicalAddress(address)
	if rec, ok := r.records[address]; ok {
		return rec
	}
	now := time.Now()
	return model.NewFallbackRecord(address, now, now.Add(time.Hour))
}

func socialRecord(addr common.Address, handle string) model.IdentityRecord {
	now := time.Now()
	return model.NewProviderRecord(model.SourceSocialGraph, addr.Hex(),
		model.Profile{DisplayName: "@" + handle, Handle: handle, Platform: "farcaster"}, now, now.Add(time.Hour))
}

func whole(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func transferLog(t *testing.T, block uint64, index uint, txHash string, from, to common.Address, value *big.Int) types.Log {
	t.Helper()
	tokenABI, err := token.ShameTokenABI()
	require.NoError(t, err)
	data, err := tokenABI.Events[token.EventTransfer].Inputs.NonIndexed().Pack(value)
	require.NoError(t, err)
	return types.Log{
		Address:     tokenAddr,
		Topics:      []common.Hash{tokenABI.Events[token.EventTransfer].ID, addressTopic(from), addressTopic(to)},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.HexToHash(txHash),
		Index:       index,
	}
}

func shameLog(t *testing.T, block uint64, index uint, txHash string, from, to common.Address, value *big.Int, reason string) types.Log {
	t.Helper()
	tokenABI, err := token.ShameTokenABI()
	require.NoError(t, err)
	data, err := tokenABI.Events[token.EventShameDelivered].Inputs.NonIndexed().Pack(value, reason)
	require.NoError(t, err)
	return types.Log{
		Address:     tokenAddr,
		Topics:      []common.Hash{tokenABI.Events[token.EventShameDelivered].ID, addressTopic(from), addressTopic(to)},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.HexToHash(txHash),
		Index:       index,
	}
}

func judgmentLog(t *testing.T, block uint64, target common.Address, judgment uint8) types.Log {
	t.Helper()
	tokenABI, err := token.ShameTokenABI()
	require.NoError(t, err)
	data, err := tokenABI.Events[token.EventSpectralJudgment].Inputs.NonIndexed().Pack(judgment, "verdict")
	require.NoError(t, err)
	return types.Log{
		Address:     tokenAddr,
		Topics:      []common.Hash{tokenABI.Events[token.EventSpectralJudgment].ID, addressTopic(target)},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.HexToHash("0x0f"),
	}
}

func rankingLog(t *testing.T, block uint64, soldier common.Address, total *big.Int, rank int64) types.Log {
	t.Helper()
	tokenABI, err := token.ShameTokenABI()
	require.NoError(t, err)
	data, err := tokenABI.Events[token.EventShameSoldierRanked].Inputs.NonIndexed().Pack(total, big.NewInt(rank))
	require.NoError(t, err)
	return types.Log{
		Address:     tokenAddr,
		Topics:      []common.Hash{tokenABI.Events[token.EventShameSoldierRanked].ID, addressTopic(soldier)},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.HexToHash("0x0e"),
	}
}

func (f *fakeLedger) setSoldiers(soldiers ...token.SoldierRecord) {
	f.mu.Lock()
	f.soldiers = soldiers
	f.mu.Unlock()
}

func soldier(addr common.Address, total int64, last int64, rank int64) token.SoldierRecord {
	return token.SoldierRecord{Soldier: addr, TotalShameDelivered: whole(total), LastShameTime: big.NewInt(last), Rank: big.NewInt(rank)}
}

func addressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(common.LeftPadBytes(addr.Bytes(), 32))
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) handle(e events.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) kinds() []events.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Kind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

func (r *recorder) count(kind events.Kind) int {
	n := 0
	for _, k := range r.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

func newTestPoller(t *testing.T, ledger *fakeLedger, resolver IdentityResolver) (*Poller, *events.Hub, *recorder) {
	t.Helper()
	hub := events.NewHub(nil)
	rec := &recorder{}
	hub.Subscribe(rec.handle)

	cfg := DefaultConfig(tokenAddr)
	cfg.MaxRetries = 0
	cfg.RetryBackoff = time.Millisecond
	p, err := NewPoller(cfg, ledger, resolver, hub, nil)
	require.NoError(t, err)
	return p, hub, rec
}

func TestPoller_InitialWindowFiltersAndEnriches(t *testing.T) {
	ledger := &fakeLedger{latest: 10_000}
	ledger.addLogs(
		transferLog(t, 6000, 0, "0x01", alice, bob, whole(5)),
		transferLog(t, 6001, 0, "0x02", alice, bob, whole(100)),
		transferLog(t, 6002, 0, "0x03", common.Address{}, bob, whole(5)),
		transferLog(t, 6003, 0, "0x04", alice, carol, whole(69)),
		transferLog(t, 4000, 0, "0x05", alice, bob, whole(5)),
	)
	resolver := &fakeResolver{records: map[string]model.IdentityRecord{
		model.CanonicalAddress(bob.Hex()): socialRecord(bob, "bob"),
	}}
	p, _, rec := newTestPoller(t, ledger, resolver)

	require.NoError(t, p.Start(context.Background()))
	assert.Equal(t, StatePolling, p.State())
	assert.Equal(t, uint64(10_000), p.Watermark())
	assert.Equal(t, []BlockRange{{From: 5000, To: 6999}, {From: 7000, To: 8999}, {From: 9000, To: 10_000}}, ledger.windows)

	history := p.History()
	require.Len(t, history, 2)
	assert.Equal(t, strings.ToLower(common.HexToHash("0x04").Hex()), history[0].TxHash)
	assert.Equal(t, "0x3333...3333", history[0].ToDisplayName)

	five := history[1]
	assert.True(t, five.Amount.Equal(decimal.NewFromInt(5)))
	assert.Equal(t, "@bob", five.ToDisplayName)
	assert.Equal(t, model.SourceSocialGraph, five.ToSource)
	assert.Equal(t, model.SourceFallback, five.FromSource)
	assert.Equal(t, int64(1_700_006_000), five.Timestamp)

	kinds := rec.kinds()
	assert.Equal(t, events.KindNewTransaction, kinds[0])
	assert.Equal(t, events.KindTransactionEnriched, kinds[1])
	assert.Equal(t, events.KindInitialData, kinds[len(kinds)-1])
}

func TestPoller_OverlappingWindowsDoNotDuplicate(t *testing.T) {
	ledger := &fakeLedger{latest: 10_000}
	ledger.addLogs(transferLog(t, 9995, 1, "0xaa", alice, bob, whole(3)))
	p, _, rec := newTestPoller(t, ledger, &fakeResolver{})

	require.NoError(t, p.Start(context.Background()))
	ledger.setLatest(10_005)
	require.NoError(t, p.Tick(context.Background()))

	assert.Equal(t, BlockRange{From: 9989, To: 10_005}, ledger.windows[len(ledger.windows)-1])
	assert.Len(t, p.History(), 1)
	assert.Equal(t, 1, rec.count(events.KindNewTransaction))
	assert.Equal(t, uint64(10_005), p.Watermark())
}

func TestPoller_FailedQueryKeepsWatermark(t *testing.T) {
	ledger := &fakeLedger{latest: 10_000}
	p, _, _ := newTestPoller(t, ledger, &fakeResolver{})
	require.NoError(t, p.Start(context.Background()))

	ledger.setLatest(10_050)
	ledger.mu.Lock()
	ledger.filterErr = errors.New("rpc unavailable")
	ledger.mu.Unlock()

	assert.Error(t, p.Tick(context.Background()))
	assert.Equal(t, uint64(10_000), p.Watermark())

	ledger.mu.Lock()
	ledger.filterErr = nil
	ledger.mu.Unlock()
	require.NoError(t, p.Tick(context.Background()))
	assert.Equal(t, uint64(10_050), p.Watermark())
}

func TestPoller_EmptyTickAdvancesWatermark(t *testing.T) {
	ledger := &fakeLedger{latest: 100}
	p, _, rec := newTestPoller(t, ledger, &fakeResolver{})
	require.NoError(t, p.Start(context.Background()))

	ledger.setLatest(200)
	require.NoError(t, p.Tick(context.Background()))
	assert.Equal(t, uint64(200), p.Watermark())
	assert.Equal(t, 0, rec.count(events.KindHistoryUpdate))
}

func TestPoller_IdentityUpdateReEnrichesHistory(t *testing.T) {
	ledger := &fakeLedger{latest: 10_000}
	ledger.addLogs(
		transferLog(t, 9000, 0, "0x01", alice, bob, whole(2)),
		transferLog(t, 9001, 0, "0x02", bob, carol, whole(4)),
	)
	p, hub, rec := newTestPoller(t, ledger, &fakeResolver{})
	require.NoError(t, p.Start(context.Background()))
	before := rec.count(events.KindTransactionEnriched)

	hub.Publish(events.KindIdentityUpdated, socialRecord(bob, "bob"))

	assert.Equal(t, before+2, rec.count(events.KindTransactionEnriched))
	for _, tx := range p.History() {
		if tx.To == model.CanonicalAddress(bob.Hex()) {
			assert.Equal(t, "@bob", tx.ToDisplayName)
		}
		if tx.From == model.CanonicalAddress(bob.Hex()) {
			assert.Equal(t, "@bob", tx.FromDisplayName)
		}
	}
	assert.Equal(t, events.KindHistoryUpdate, rec.kinds()[len(rec.kinds())-1])

	p.Stop()
	assert.Equal(t, StateStopped, p.State())
	assert.ErrorIs(t, p.Tick(context.Background()), ErrStopped)
}

func TestPoller_JudgmentAndReason(t *testing.T) {
	ledger := &fakeLedger{latest: 10_000}
	ledger.addLogs(
		transferLog(t, 9000, 0, "0x01", alice, bob, whole(7)),
		shameLog(t, 9000, 1, "0x01", alice, bob, whole(7), "weak hands"),
		judgmentLog(t, 9002, bob, 8),
	)
	p, _, _ := newTestPoller(t, ledger, &fakeResolver{})
	require.NoError(t, p.Start(context.Background()))

	history := p.History()
	require.Len(t, history, 1)
	assert.Equal(t, "weak hands", history[0].Reason)
	require.NotNil(t, history[0].Judgment)
	assert.Equal(t, uint8(8), *history[0].Judgment)

	stats := p.Stats()
	assert.Equal(t, 1, stats.TotalShames)
	assert.Equal(t, 1, stats.UniqueShamers)
	assert.Equal(t, 1, stats.UniqueShamed)
	assert.Equal(t, float64(8), stats.AverageJudgment)
	assert.True(t, stats.TotalAmount.Equal(decimal.NewFromInt(7)))
}

func TestPoller_NativeHistory(t *testing.T) {
	ledger := &fakeLedger{latest: 10_000, native: []token.ShameRecord{
		{From: alice, To: bob, Amount: whole(1), Timestamp: big.NewInt(1_700_000_100), Reason: "first"},
		{From: alice, To: carol, Amount: whole(500), Timestamp: big.NewInt(1_700_000_200), Reason: "too big"},
		{From: bob, To: carol, Amount: whole(10), Timestamp: big.NewInt(1_700_000_300), Reason: "second"},
	}}
	p, _, rec := newTestPoller(t, ledger, &fakeResolver{})
	require.NoError(t, p.Start(context.Background()))
	assert.True(t, p.Status().Native)
	assert.Empty(t, ledger.windows, "native mode does not scan logs")

	history := p.History()
	require.Len(t, history, 2)
	assert.Equal(t, "second", history[0].Reason)
	assert.Equal(t, int64(1_700_000_300), history[0].Timestamp)

	require.NoError(t, p.Tick(context.Background()))
	assert.Len(t, p.History(), 2)
	assert.Equal(t, 2, rec.count(events.KindNewTransaction))
}

func TestPoller_NativeTopSoldiers(t *testing.T) {
	ledger := &fakeLedger{latest: 10_000, native: []token.ShameRecord{
		{From: alice, To: bob, Amount: whole(1), Timestamp: big.NewInt(1_700_000_100), Reason: "first"},
	}}
	ledger.setSoldiers(soldier(alice, 69, 1_700_000_100, 1))
	p, _, rec := newTestPoller(t, ledger, &fakeResolver{})
	require.NoError(t, p.Start(context.Background()))

	top := p.TopSoldiers()
	require.Len(t, top, 1)
	assert.Equal(t, model.CanonicalAddress(alice.Hex()), top[0].Address)
	assert.True(t, top[0].TotalShameDelivered.Equal(decimal.NewFromInt(69)))
	assert.Equal(t, 1, top[0].Rank)

	rec.mu.Lock()
	initial := rec.events[len(rec.events)-1]
	rec.mu.Unlock()
	require.Equal(t, events.KindInitialData, initial.Kind)
	assert.Len(t, initial.Payload.(Snapshot).TopSoldiers, 1)

	// unchanged ranking publishes nothing
	require.NoError(t, p.Tick(context.Background()))
	assert.Equal(t, 0, rec.count(events.KindLeaderboardUpdate))

	ledger.setSoldiers(soldier(bob, 100, 1_700_000_900, 1), soldier(alice, 69, 1_700_000_100, 2))
	require.NoError(t, p.Tick(context.Background()))
	require.Equal(t, 1, rec.count(events.KindLeaderboardUpdate))

	rec.mu.Lock()
	update := rec.events[len(rec.events)-1]
	rec.mu.Unlock()
	ranking, ok := update.Payload.(SoldierRanking)
	require.True(t, ok)
	require.Len(t, ranking.TopSoldiers, 2)
	assert.Equal(t, model.CanonicalAddress(bob.Hex()), ranking.TopSoldiers[0].Address)
	assert.Equal(t, 2, p.Snapshot().TopSoldiers[1].Rank)
}

func TestPoller_RankingLogRefreshesSoldiers(t *testing.T) {
	ledger := &fakeLedger{latest: 10_000}
	p, _, rec := newTestPoller(t, ledger, &fakeResolver{})
	require.NoError(t, p.Start(context.Background()))
	assert.False(t, p.Status().Native)
	assert.Empty(t, p.TopSoldiers())

	ledger.setSoldiers(soldier(carol, 7, 1_700_010_000, 1))
	ledger.addLogs(rankingLog(t, 10_010, carol, whole(7), 1))
	ledger.setLatest(10_020)
	require.NoError(t, p.Tick(context.Background()))

	assert.Equal(t, 1, rec.count(events.KindLeaderboardUpdate))
	require.Len(t, p.TopSoldiers(), 1)
	assert.Equal(t, model.CanonicalAddress(carol.Hex()), p.TopSoldiers()[0].Address)
	assert.Empty(t, p.History())
}

func TestHistory_RingBufferAndSeenSet(t *testing.T) {
	h := NewHistory(3)
	for i := 0; i < 5; i++ {
		require.True(t, h.Insert(model.Transaction{TxHash: string(rune('a' + i))}))
	}

	snapshot := h.Snapshot()
	require.Len(t, snapshot, 3)
	assert.Equal(t, "e", snapshot[0].TxHash)
	assert.Equal(t, "c", snapshot[2].TxHash)

	assert.False(t, h.Insert(model.Transaction{TxHash: "a"}), "evicted hashes stay seen")
	assert.False(t, h.Insert(model.Transaction{TxHash: "e"}))
}

func TestAmountFilter(t *testing.T) {
	f := DefaultAmountFilter()
	cases := map[string]bool{
		"0.4":   false,
		"0.5":   true,
		"1":     true,
		"5":     true,
		"10.4":  true,
		"10.6":  false,
		"68.6":  true,
		"69":    true,
		"70":    false,
		"10000": false,
	}
	for input, want := range cases {
		assert.Equal(t, want, f.Matches(decimal.RequireFromString(input)), input)
	}
}
