package feed

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"shameScope/internal/events"
	"shameScope/internal/metrics"
	"shameScope/internal/model"
	"shameScope/internal/token"
)

const (
	DefaultLookback      uint64 = 5000
	DefaultOverlap       uint64 = 12
	DefaultMaxBlockRange uint64 = 2000
	DefaultPollInterval         = 60 * time.Second
)

var (
	ErrStopped    = errors.New("poller stopped")
	ErrNotPolling = errors.New("poller is not polling")
)

// Ledger is the chain access the poller needs.
type Ledger interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// IdentityResolver answers display identities without blocking.
type IdentityResolver interface {
	Resolve(address string) model.IdentityRecord
}

// State is the poller lifecycle stage.
type State int

const (
	StateIdle State = iota
	StateLoadingInitialWindow
	StatePolling
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoadingInitialWindow:
		return "loading_initial_window"
	case StatePolling:
		return "polling"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Config controls the poller.
type Config struct {
	Token         common.Address
	Lookback      uint64
	Overlap       uint64
	MaxBlockRange uint64
	PollInterval  time.Duration
	HistorySize   int
	Filter        AmountFilter
	NativeHistory bool
	MaxRetries    int
	RetryBackoff  time.Duration
	Now           func() time.Time
}

// DefaultConfig returns production defaults for token.
func DefaultConfig(tokenAddress common.Address) Config {
	return Config{
		Token:         tokenAddress,
		Lookback:      DefaultLookback,
		Overlap:       DefaultOverlap,
		MaxBlockRange: DefaultMaxBlockRange,
		PollInterval:  DefaultPollInterval,
		HistorySize:   DefaultHistorySize,
		Filter:        DefaultAmountFilter(),
		NativeHistory: true,
		MaxRetries:    3,
		RetryBackoff:  500 * time.Millisecond,
	}
}

// Snapshot is the history payload sent to new subscribers.
type Snapshot struct {
	History     []model.Transaction  `json:"history"`
	Stats       model.ShameStats     `json:"stats"`
	TopSoldiers []model.ShameSoldier `json:"topSoldiers"`
}

// SoldierRanking is the leaderboardUpdate payload published when the
// contract's top shame soldiers change.
type SoldierRanking struct {
	TopSoldiers []model.ShameSoldier `json:"topSoldiers"`
}

// Status reports where the poller is.
type Status struct {
	State     State  `json:"state"`
	Watermark uint64 `json:"watermark"`
	Native    bool   `json:"nativeHistory"`
	Decimals  uint8  `json:"decimals"`
}

// Poller scans token logs over overlapping block windows and keeps the shame
// history.
type Poller struct {
	cfg      Config
	ledger   Ledger
	resolver IdentityResolver
	hub      *events.Hub
	decoder  *token.Decoder
	history  *History
	retry    backoff
	logger   *zap.Logger

	// tickMu serializes Start and Tick.
	tickMu sync.Mutex

	mu        sync.RWMutex
	state     State
	watermark uint64
	native    bool
	decimals  uint8
	soldiers  []model.ShameSoldier
	subID     uuid.UUID
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewPoller builds an idle poller.
func NewPoller(cfg Config, ledger Ledger, resolver IdentityResolver, hub *events.Hub, logger *zap.Logger) (*Poller, error) {
	if ledger == nil {
		return nil, fmt.Errorf("ledger is nil")
	}
	if resolver == nil {
		return nil, fmt.Errorf("resolver is nil")
	}
	if cfg.MaxBlockRange == 0 {
		cfg.MaxBlockRange = DefaultMaxBlockRange
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Filter == (AmountFilter{}) {
		cfg.Filter = DefaultAmountFilter()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if hub == nil {
		hub = events.NewHub(logger)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	decoder, err := token.NewDecoder()
	if err != nil {
		return nil, err
	}

	return &Poller{
		cfg:      cfg,
		ledger:   ledger,
		resolver: resolver,
		hub:      hub,
		decoder:  decoder,
		history:  NewHistory(cfg.HistorySize),
		retry:    newBackoff(cfg.MaxRetries, cfg.RetryBackoff, cfg.PollInterval),
		logger:   logger,
		decimals: token.DefaultDecimals,
		stop:     make(chan struct{}),
	}, nil
}

// Start loads the initial window and moves the poller to Polling.
func (p *Poller) Start(ctx context.Context) error {
	p.tickMu.Lock()
	defer p.tickMu.Unlock()

	p.mu.Lock()
	if p.state != StateIdle {
		state := p.state
		p.mu.Unlock()
		if state == StateStopped {
			return ErrStopped
		}
		return fmt.Errorf("poller already started (%s)", state)
	}
	p.state = StateLoadingInitialWindow
	p.mu.Unlock()

	latest, err := p.latestWithRetry(ctx)
	if err != nil {
		p.setState(StateIdle)
		return fmt.Errorf("get latest block: %w", err)
	}

	decimals, err := token.FetchDecimals(ctx, p.ledger, p.cfg.Token)
	if err != nil {
		p.logger.Warn("decimals lookup failed, assuming default", zap.Uint8("decimals", token.DefaultDecimals), zap.Error(err))
		decimals = token.DefaultDecimals
	}

	var records []token.ShameRecord
	var soldiers []token.SoldierRecord
	native := false
	if p.cfg.NativeHistory {
		records, err = token.FetchShameHistory(ctx, p.ledger, p.cfg.Token)
		native = err == nil
		if err != nil {
			p.logger.Info("native shame history unavailable, scanning transfer logs", zap.Error(err))
		}
	}
	if native {
		soldiers, err = token.FetchTopSoldiers(ctx, p.ledger, p.cfg.Token)
		if err != nil {
			p.logger.Warn("top shame soldiers unavailable", zap.Error(err))
		}
	}

	start := initialWindow(latest, p.cfg.Lookback)
	p.mu.Lock()
	p.decimals = decimals
	p.native = native
	p.watermark = start
	p.soldiers = toSoldiers(soldiers, decimals)
	p.mu.Unlock()

	subID := p.hub.Subscribe(p.onIdentityUpdated, events.KindIdentityUpdated)
	p.mu.Lock()
	p.subID = subID
	p.mu.Unlock()

	if native {
		p.ingestNative(ctx, records)
		p.setWatermark(latest)
	} else if err := p.scan(ctx, BlockRange{From: start, To: latest}); err != nil {
		// The first tick rescans from the start of the window.
		p.logger.Warn("initial window scan failed", zap.Uint64("from", start), zap.Uint64("to", latest), zap.Error(err))
	} else {
		p.setWatermark(latest)
	}

	if !p.setStateUnlessStopped(StatePolling) {
		return ErrStopped
	}
	p.logger.Info("poller started",
		zap.Bool("native_history", native),
		zap.Uint64("watermark", p.Watermark()),
		zap.Int("history", p.history.Len()),
	)
	p.hub.Publish(events.KindInitialData, p.Snapshot())
	return nil
}

// Tick scans everything after the watermark. A failed log query aborts the
// tick without moving the watermark.
func (p *Poller) Tick(ctx context.Context) error {
	p.tickMu.Lock()
	defer p.tickMu.Unlock()

	switch p.State() {
	case StateStopped:
		return ErrStopped
	case StatePolling:
	default:
		return ErrNotPolling
	}

	p.mu.RLock()
	native := p.native
	watermark := p.watermark
	p.mu.RUnlock()

	latest, err := p.latestWithRetry(ctx)
	if err != nil {
		metrics.PollerTickErrors.Inc()
		return fmt.Errorf("get latest block: %w", err)
	}

	if native {
		metrics.PollerTicksTotal.WithLabelValues("native").Inc()
		records, err := token.FetchShameHistory(ctx, p.ledger, p.cfg.Token)
		if err != nil {
			metrics.PollerTickErrors.Inc()
			return fmt.Errorf("fetch shame history: %w", err)
		}
		p.ingestNative(ctx, records)
		p.refreshSoldiers(ctx)
		p.setWatermark(latest)
		return nil
	}

	metrics.PollerTicksTotal.WithLabelValues("logs").Inc()
	window, ok := pollWindow(watermark, latest, p.cfg.Overlap)
	if !ok {
		return nil
	}
	if err := p.scan(ctx, window); err != nil {
		metrics.PollerTickErrors.Inc()
		return err
	}
	p.setWatermark(latest)
	return nil
}

// Run starts the poller, retrying startup, then ticks until ctx is done or
// Stop is called.
func (p *Poller) Run(ctx context.Context) error {
	defer p.Stop()

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		err := p.Start(ctx)
		if err == nil {
			break
		}
		if errors.Is(err, ErrStopped) {
			return nil
		}
		p.logger.Warn("poller start failed", zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stop:
			return nil
		case <-ticker.C:
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stop:
			return nil
		case <-ticker.C:
			if err := p.Tick(ctx); err != nil {
				if errors.Is(err, ErrStopped) {
					return nil
				}
				if ctx.Err() == nil {
					p.logger.Warn("poll tick failed", zap.Uint64("watermark", p.Watermark()), zap.Error(err))
				}
			}
		}
	}
}

// Stop moves the poller to its terminal state.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.state = StateStopped
		subID := p.subID
		p.mu.Unlock()
		if subID != uuid.Nil {
			p.hub.Unsubscribe(subID)
		}
		close(p.stop)
	})
}

// State returns the lifecycle stage.
func (p *Poller) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Watermark returns the highest fully processed block.
func (p *Poller) Watermark() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.watermark
}

// Status reports lifecycle, watermark and ingestion mode.
func (p *Poller) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Status{State: p.state, Watermark: p.watermark, Native: p.native, Decimals: p.decimals}
}

// History returns the retained transactions, newest first.
func (p *Poller) History() []model.Transaction {
	return p.history.Snapshot()
}

// Stats summarizes the retained transactions.
func (p *Poller) Stats() model.ShameStats {
	return p.history.Stats()
}

// TopSoldiers returns the contract's latest sender ranking.
func (p *Poller) TopSoldiers() []model.ShameSoldier {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]model.ShameSoldier(nil), p.soldiers...)
}

// Snapshot returns history, stats and top soldiers together.
func (p *Poller) Snapshot() Snapshot {
	return Snapshot{History: p.history.Snapshot(), Stats: p.history.Stats(), TopSoldiers: p.TopSoldiers()}
}

func (p *Poller) setState(state State) {
	p.mu.Lock()
	p.state = state
	p.mu.Unlock()
}

func (p *Poller) setStateUnlessStopped(state State) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateStopped {
		return false
	}
	p.state = state
	return true
}

func (p *Poller) setWatermark(block uint64) {
	p.mu.Lock()
	if block > p.watermark {
		p.watermark = block
	}
	p.mu.Unlock()
	metrics.PollerWatermark.Set(float64(block))
}

// scan fetches every log in window before touching history, so a failed
// query leaves no partial state.
func (p *Poller) scan(ctx context.Context, window BlockRange) error {
	ranges, err := SplitRange(window.From, window.To, p.cfg.MaxBlockRange)
	if err != nil {
		return err
	}

	var logs []types.Log
	for _, blockRange := range ranges {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := p.filterLogsWithRetry(ctx, blockRange)
		if err != nil {
			return fmt.Errorf("filter logs %d-%d: %w", blockRange.From, blockRange.To, err)
		}
		logs = append(logs, batch...)
	}

	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})

	changed := false
	ranked := false
	for _, log := range logs {
		if log.Removed {
			continue
		}
		if p.decoder.EventName(log) == token.EventShameSoldierRanked {
			if _, err := p.decoder.DecodeRanking(log); err != nil {
				p.rejectDecode(err)
				continue
			}
			ranked = true
			continue
		}
		if p.ingestLog(ctx, log) {
			changed = true
		}
	}
	p.logger.Debug("window scanned",
		zap.Uint64("from", window.From),
		zap.Uint64("to", window.To),
		zap.Int("logs", len(logs)),
		zap.Bool("changed", changed),
	)
	if changed {
		p.publishHistory()
	}
	if ranked {
		p.refreshSoldiers(ctx)
	}
	return nil
}

func (p *Poller) ingestLog(ctx context.Context, log types.Log) bool {
	switch p.decoder.EventName(log) {
	case token.EventTransfer, token.EventShameDelivered:
		transfer, err := p.decoder.DecodeTransfer(log)
		if err != nil {
			p.rejectDecode(err)
			return false
		}
		return p.ingest(ctx, candidate{
			from:     transfer.From,
			to:       transfer.To,
			raw:      transfer.Value,
			key:      strings.ToLower(transfer.TxHash.Hex()),
			block:    transfer.BlockNumber,
			logIndex: transfer.LogIndex,
			reason:   transfer.Reason,
		})
	case token.EventSpectralJudgment:
		judgment, err := p.decoder.DecodeJudgment(log)
		if err != nil {
			p.rejectDecode(err)
			return false
		}
		tx, ok := p.history.ApplyJudgment(judgment.Target.Hex(), judgment.Judgment)
		if ok {
			p.hub.Publish(events.KindTransactionEnriched, tx)
		}
		return ok
	default:
		return false
	}
}

func (p *Poller) rejectDecode(err error) {
	metrics.FeedRejectedTotal.WithLabelValues("decode").Inc()
	p.logger.Debug("skip undecodable log", zap.Error(err))
}

func (p *Poller) ingestNative(ctx context.Context, records []token.ShameRecord) {
	changed := false
	for _, rec := range records {
		ts := int64(0)
		if rec.Timestamp != nil && rec.Timestamp.IsInt64() {
			ts = rec.Timestamp.Int64()
		}
		if p.ingest(ctx, candidate{
			from:      rec.From,
			to:        rec.To,
			raw:       rec.Amount,
			key:       strings.ToLower(rec.Key().Hex()),
			timestamp: ts,
			reason:    rec.Reason,
		}) {
			changed = true
		}
	}
	if changed {
		p.publishHistory()
	}
}

type candidate struct {
	from      common.Address
	to        common.Address
	raw       *big.Int
	key       string
	block     uint64
	logIndex  uint64
	timestamp int64
	reason    string
}

// ingest runs a candidate through the zero-address, amount and duplicate
// checks and inserts it. It reports whether history changed.
func (p *Poller) ingest(ctx context.Context, c candidate) bool {
	from := model.CanonicalAddress(c.from.Hex())
	to := model.CanonicalAddress(c.to.Hex())
	if model.IsZeroAddress(from) || model.IsZeroAddress(to) {
		metrics.FeedRejectedTotal.WithLabelValues("zero_address").Inc()
		return false
	}

	p.mu.RLock()
	decimals := p.decimals
	p.mu.RUnlock()

	amount := token.FormatAmount(c.raw, decimals)
	if !p.cfg.Filter.Matches(amount) {
		metrics.FeedRejectedTotal.WithLabelValues("amount").Inc()
		return false
	}

	if p.history.Seen(c.key) {
		metrics.FeedRejectedTotal.WithLabelValues("duplicate").Inc()
		// A ShameDelivered log shares its hash with the Transfer it follows.
		if c.reason == "" {
			return false
		}
		tx, ok := p.history.Update(c.key, func(tx *model.Transaction) bool {
			if tx.Reason == c.reason {
				return false
			}
			tx.Reason = c.reason
			return true
		})
		if ok {
			p.hub.Publish(events.KindTransactionEnriched, tx)
		}
		return ok
	}

	tx := model.Transaction{
		From:            from,
		To:              to,
		Amount:          amount,
		Timestamp:       c.timestamp,
		TxHash:          c.key,
		BlockNumber:     c.block,
		LogIndex:        c.logIndex,
		Reason:          c.reason,
		FromDisplayName: model.ShortenAddress(from),
		ToDisplayName:   model.ShortenAddress(to),
		FromSource:      model.SourceFallback,
		ToSource:        model.SourceFallback,
	}
	if tx.Timestamp == 0 {
		tx.Timestamp = p.blockTimestamp(ctx, c.block)
	}

	if !p.history.Insert(tx) {
		metrics.FeedRejectedTotal.WithLabelValues("duplicate").Inc()
		return false
	}
	metrics.FeedTransactionsTotal.Inc()
	metrics.FeedHistorySize.Set(float64(p.history.Len()))
	p.hub.Publish(events.KindNewTransaction, tx)

	p.enrich(tx)
	return true
}

// enrich applies the resolver's current view of both sides.
func (p *Poller) enrich(tx model.Transaction) {
	fromRec := p.resolver.Resolve(tx.From)
	toRec := p.resolver.Resolve(tx.To)

	enriched, ok := p.history.Update(tx.TxHash, func(stored *model.Transaction) bool {
		changed := applyIdentity(stored, fromRec)
		if applyIdentity(stored, toRec) {
			changed = true
		}
		return changed
	})
	if ok {
		p.hub.Publish(events.KindTransactionEnriched, enriched)
	}
}

func (p *Poller) blockTimestamp(ctx context.Context, block uint64) int64 {
	if block > 0 {
		ts, err := p.ledger.BlockTimestamp(ctx, block)
		if err == nil {
			return int64(ts)
		}
		p.logger.Debug("block timestamp unavailable, using ingest time", zap.Uint64("block_number", block), zap.Error(err))
	}
	return p.cfg.Now().Unix()
}

func (p *Poller) onIdentityUpdated(event events.Event) {
	rec, ok := event.Payload.(model.IdentityRecord)
	if !ok {
		return
	}
	changed := p.history.ApplyIdentity(rec)
	for _, tx := range changed {
		p.hub.Publish(events.KindTransactionEnriched, tx)
	}
	if len(changed) > 0 {
		p.publishHistory()
	}
}

// refreshSoldiers reloads the contract ranking and publishes leaderboardUpdate
// when it changed.
func (p *Poller) refreshSoldiers(ctx context.Context) {
	records, err := token.FetchTopSoldiers(ctx, p.ledger, p.cfg.Token)
	if err != nil {
		p.logger.Debug("top shame soldiers refresh failed", zap.Error(err))
		return
	}

	p.mu.Lock()
	soldiers := toSoldiers(records, p.decimals)
	if model.SameSoldiers(p.soldiers, soldiers) {
		p.mu.Unlock()
		return
	}
	p.soldiers = soldiers
	p.mu.Unlock()

	p.logger.Debug("top shame soldiers changed", zap.Int("soldiers", len(soldiers)))
	p.hub.Publish(events.KindLeaderboardUpdate, SoldierRanking{TopSoldiers: soldiers})
}

func toSoldiers(records []token.SoldierRecord, decimals uint8) []model.ShameSoldier {
	out := make([]model.ShameSoldier, 0, len(records))
	for _, rec := range records {
		out = append(out, model.ShameSoldier{
			Address:             model.CanonicalAddress(rec.Soldier.Hex()),
			TotalShameDelivered: token.FormatAmount(rec.TotalShameDelivered, decimals),
			LastShameTime:       bigToInt64(rec.LastShameTime),
			Rank:                int(bigToInt64(rec.Rank)),
		})
	}
	return out
}

func bigToInt64(v *big.Int) int64 {
	if v == nil || !v.IsInt64() {
		return 0
	}
	return v.Int64()
}

func (p *Poller) publishHistory() {
	p.hub.Publish(events.KindHistoryUpdate, p.Snapshot())
}

func (p *Poller) latestWithRetry(ctx context.Context) (uint64, error) {
	var latest uint64
	err := p.retry.do(ctx, func(ctx context.Context) error {
		var err error
		latest, err = p.ledger.LatestBlockNumber(ctx)
		if err != nil {
			p.logger.Warn("latest block fetch failed", zap.Error(err))
		}
		return err
	})
	return latest, err
}

func (p *Poller) filterLogsWithRetry(ctx context.Context, blockRange BlockRange) ([]types.Log, error) {
	var logs []types.Log
	err := p.retry.do(ctx, func(ctx context.Context) error {
		var err error
		logs, err = p.ledger.FilterLogs(ctx, blockRange.From, blockRange.To, []common.Address{p.cfg.Token}, p.decoder.Topics())
		if err != nil {
			p.logger.Warn("filter logs failed", zap.Error(err), zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To))
		}
		return err
	})
	return logs, err
}
