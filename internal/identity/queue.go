package identity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"shameScope/internal/metrics"
	"shameScope/internal/model"
)

const (
	DefaultFlushInterval = 60 * time.Second
	DefaultMaxBatch      = 50
	DefaultCallTimeout   = 15 * time.Second
)

// Sink applies resolved records. Submit returns once they have been applied.
type Sink interface {
	Submit(ctx context.Context, records []model.IdentityRecord) error
}

// QueueConfig controls batching.
type QueueConfig struct {
	FlushInterval time.Duration
	MaxBatch      int
	CallTimeout   time.Duration
}

// DefaultQueueConfig returns the 60s / 50 / 15s defaults.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		FlushInterval: DefaultFlushInterval,
		MaxBatch:      DefaultMaxBatch,
		CallTimeout:   DefaultCallTimeout,
	}
}

// QueueStats is a snapshot of the batch queue.
type QueueStats struct {
	Pending   int      `json:"pending"`
	InFlight  int      `json:"inFlight"`
	Providers []string `json:"providers"`
}

type providerSlot struct {
	provider Provider
	limiter  *rate.Limiter
}

// BatchQueue collects unresolved addresses and periodically resolves them
// against every provider.
type BatchQueue struct {
	cfg       QueueConfig
	providers []providerSlot
	sink      Sink
	ttl       TTLPolicy
	nowFn     func() time.Time
	logger    *zap.Logger

	flushMu  sync.Mutex
	mu       sync.Mutex
	pending  map[string]struct{}
	order    []string
	inFlight map[string]struct{}
}

// NewBatchQueue builds a queue. Each provider gets its own limiter allowing
// one call per MinInterval.
func NewBatchQueue(cfg QueueConfig, providers []Provider, sink Sink, ttl TTLPolicy, now func() time.Time, logger *zap.Logger) *BatchQueue {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = DefaultMaxBatch
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	slots := make([]providerSlot, 0, len(providers))
	for _, p := range providers {
		if p == nil {
			continue
		}
		limit := rate.Inf
		if p.MinInterval() > 0 {
			limit = rate.Every(p.MinInterval())
		}
		slots = append(slots, providerSlot{provider: p, limiter: rate.NewLimiter(limit, 1)})
	}

	return &BatchQueue{
		cfg:       cfg,
		providers: slots,
		sink:      sink,
		ttl:       ttl,
		nowFn:     now,
		logger:    logger,
		pending:   make(map[string]struct{}),
		inFlight:  make(map[string]struct{}),
	}
}

// Enqueue schedules address for resolution. It is a no-op when the address is
// already pending or in flight.
func (q *BatchQueue) Enqueue(address string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.enqueueLocked(model.CanonicalAddress(address))
}

// EnqueueAll schedules many addresses and returns how many were newly added.
func (q *BatchQueue) EnqueueAll(addresses []string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	added := 0
	for _, address := range addresses {
		if q.enqueueLocked(model.CanonicalAddress(address)) {
			added++
		}
	}
	return added
}

func (q *BatchQueue) enqueueLocked(address string) bool {
	if len(q.providers) == 0 {
		return false
	}
	if _, ok := q.pending[address]; ok {
		return false
	}
	if _, ok := q.inFlight[address]; ok {
		return false
	}
	q.pending[address] = struct{}{}
	q.order = append(q.order, address)
	metrics.BatchQueuePending.Set(float64(len(q.pending)))
	return true
}

// Stats returns pending and in-flight counts.
func (q *BatchQueue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	names := make([]string, 0, len(q.providers))
	for _, slot := range q.providers {
		names = append(names, slot.provider.Name())
	}
	return QueueStats{Pending: len(q.pending), InFlight: len(q.inFlight), Providers: names}
}

// Run flushes on every interval until ctx is done.
func (q *BatchQueue) Run(ctx context.Context) error {
	ticker := time.NewTicker(q.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := q.Flush(ctx); err != nil && ctx.Err() == nil {
				q.logger.Warn("batch flush failed", zap.Error(err))
			}
		}
	}
}

// Flush resolves everything pending and returns how many addresses were
// dispatched. It returns after all results have been handed to the sink.
// Concurrent flushes are serialized.
func (q *BatchQueue) Flush(ctx context.Context) (int, error) {
	q.flushMu.Lock()
	defer q.flushMu.Unlock()

	batch := q.drain()
	if len(batch) == 0 {
		return 0, nil
	}
	defer q.release(batch)

	metrics.BatchFlushesTotal.Inc()
	q.logger.Debug("batch flush", zap.Int("addresses", len(batch)), zap.Int("providers", len(q.providers)))

	var g errgroup.Group
	for _, slot := range q.providers {
		g.Go(func() error {
			return q.dispatch(ctx, slot, batch)
		})
	}
	if err := g.Wait(); err != nil {
		return len(batch), err
	}
	return len(batch), nil
}

func (q *BatchQueue) drain() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	batch := q.order
	q.order = nil
	q.pending = make(map[string]struct{})
	for _, address := range batch {
		q.inFlight[address] = struct{}{}
	}
	metrics.BatchQueuePending.Set(0)
	metrics.BatchQueueInFlight.Set(float64(len(q.inFlight)))
	return batch
}

func (q *BatchQueue) release(batch []string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, address := range batch {
		delete(q.inFlight, address)
	}
	metrics.BatchQueueInFlight.Set(float64(len(q.inFlight)))
}

// dispatch sends batch to one provider in chunks, waiting on the provider's
// limiter before each call. Provider failures are logged and swallowed; only
// cancellation and sink failures are returned.
func (q *BatchQueue) dispatch(ctx context.Context, slot providerSlot, batch []string) error {
	size := q.cfg.MaxBatch
	if limit := slot.provider.MaxBatch(); limit > 0 && limit < size {
		size = limit
	}

	name := slot.provider.Name()
	for _, chunk := range chunkAddresses(batch, size) {
		if err := slot.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s limiter: %w", name, err)
		}

		profiles, err := q.call(ctx, slot.provider, chunk)
		if err != nil {
			metrics.ProviderCallsTotal.WithLabelValues(name, "error").Inc()
			q.logger.Warn("provider call failed",
				zap.String("provider", name),
				zap.Int("addresses", len(chunk)),
				zap.Error(err),
			)
			continue
		}
		metrics.ProviderCallsTotal.WithLabelValues(name, "ok").Inc()

		records := q.toRecords(slot.provider.Source(), chunk, profiles)
		if len(records) == 0 {
			continue
		}
		metrics.ProviderResolvedTotal.WithLabelValues(name).Add(float64(len(records)))
		if err := q.sink.Submit(ctx, records); err != nil {
			return fmt.Errorf("%s submit: %w", name, err)
		}
	}
	return nil
}

func (q *BatchQueue) call(ctx context.Context, provider Provider, chunk []string) (map[string]model.Profile, error) {
	callCtx, cancel := context.WithTimeout(ctx, q.cfg.CallTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		metrics.ProviderCallLatency.WithLabelValues(provider.Name()).Observe(time.Since(start).Seconds())
	}()
	return provider.ResolveBulk(callCtx, chunk)
}

func (q *BatchQueue) toRecords(source model.Source, chunk []string, profiles map[string]model.Profile) []model.IdentityRecord {
	if len(profiles) == 0 {
		return nil
	}

	normalized := make(map[string]model.Profile, len(profiles))
	for address, profile := range profiles {
		normalized[model.CanonicalAddress(address)] = profile
	}

	now := q.nowFn()
	records := make([]model.IdentityRecord, 0, len(normalized))
	for _, address := range chunk {
		profile, ok := normalized[address]
		if !ok || (profile.DisplayName == "" && profile.Handle == "") {
			continue
		}
		records = append(records, model.NewProviderRecord(source, address, profile, now, q.ttl.Next(now)))
	}
	return records
}

func chunkAddresses(addresses []string, size int) [][]string {
	if size <= 0 {
		size = len(addresses)
	}
	chunks := make([][]string, 0, (len(addresses)+size-1)/size)
	for start := 0; start < len(addresses); start += size {
		end := start + size
		if end > len(addresses) {
			end = len(addresses)
		}
		chunks = append(chunks, addresses[start:end])
	}
	return chunks
}
