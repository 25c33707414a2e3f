package identity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"shameScope/internal/cache"
	"shameScope/internal/events"
	"shameScope/internal/metrics"
	"shameScope/internal/model"
)

// DefaultCacheSize bounds the in-memory resolution cache.
const DefaultCacheSize = 50_000

// Config controls the resolver.
type Config struct {
	CacheSize     int
	TTL           TTLPolicy
	Queue         QueueConfig
	SweepInterval time.Duration
	Now           func() time.Time
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		CacheSize:     DefaultCacheSize,
		TTL:           DefaultTTLPolicy(),
		Queue:         DefaultQueueConfig(),
		SweepInterval: DefaultSweepInterval,
	}
}

type updateRequest struct {
	records []model.IdentityRecord
	done    chan struct{}
}

// Resolver answers identity lookups from memory and resolves misses in the
// background. Reads never wait on the network.
type Resolver struct {
	cfg      Config
	nowFn    func() time.Time
	hub      *events.Hub
	logger   *zap.Logger
	queue    *BatchQueue
	register *Register

	// mu serializes every cache and register write.
	mu    sync.Mutex
	cache *cache.LRU[string, model.IdentityRecord]

	updates chan updateRequest
}

// NewResolver wires the cache, register and batch queue. hub may be nil.
func NewResolver(cfg Config, providers []Provider, hub *events.Hub, logger *zap.Logger) *Resolver {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.TTL.Min <= 0 {
		cfg.TTL = DefaultTTLPolicy()
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	lru := cache.NewLRU[string, model.IdentityRecord](cfg.CacheSize, cfg.TTL.Max)
	lru.SetClock(cfg.Now)

	r := &Resolver{
		cfg:      cfg,
		nowFn:    cfg.Now,
		hub:      hub,
		logger:   logger,
		register: NewRegister(cfg.Now, logger),
		cache:    lru,
		updates:  make(chan updateRequest),
	}
	r.queue = NewBatchQueue(cfg.Queue, providers, r, cfg.TTL, cfg.Now, logger)
	return r
}

// Resolve returns the best known identity for address, synthesizing a
// fallback and scheduling resolution when nothing valid is known.
func (r *Resolver) Resolve(address string) model.IdentityRecord {
	address = model.CanonicalAddress(address)
	if !model.IsAddress(address) {
		now := r.nowFn()
		return model.NewFallbackRecord(address, now, now)
	}

	rec, enqueue := r.lookup(address)
	if enqueue {
		r.queue.Enqueue(address)
	}
	return rec
}

// ResolveBulk resolves many addresses with a single enqueue for all misses.
func (r *Resolver) ResolveBulk(addresses []string) map[string]model.IdentityRecord {
	out := make(map[string]model.IdentityRecord, len(addresses))
	var misses []string
	for _, address := range addresses {
		address = model.CanonicalAddress(address)
		if _, done := out[address]; done {
			continue
		}
		if !model.IsAddress(address) {
			now := r.nowFn()
			out[address] = model.NewFallbackRecord(address, now, now)
			continue
		}
		rec, enqueue := r.lookup(address)
		out[address] = rec
		if enqueue {
			misses = append(misses, address)
		}
	}
	if len(misses) > 0 {
		r.queue.EnqueueAll(misses)
	}
	return out
}

// lookup reports the record to return and whether the address should be
// queued for resolution.
func (r *Resolver) lookup(address string) (model.IdentityRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.cache.Get(address); ok {
		metrics.ResolverLookupsTotal.WithLabelValues("cache_hit").Inc()
		// A cached fallback means an earlier resolution found nothing or
		// failed; organic access retries it.
		return rec, rec.Source == model.SourceFallback
	}

	if rec, ok := r.register.Get(address); ok {
		metrics.ResolverLookupsTotal.WithLabelValues("register_hit").Inc()
		r.cache.PutUntil(address, rec, rec.RefreshDue)
		return rec, false
	}

	metrics.ResolverLookupsTotal.WithLabelValues("fallback").Inc()
	now := r.nowFn()
	rec := model.NewFallbackRecord(address, now, r.cfg.TTL.Next(now))
	r.cache.PutUntil(address, rec, rec.RefreshDue)
	return rec, true
}

// UpdateIfBetter writes rec unless a valid record of strictly higher trust
// exists. Equal trust overwrites. A fallback is only written when nothing
// valid exists. Accepted writes publish identityUpdated.
func (r *Resolver) UpdateIfBetter(rec model.IdentityRecord) bool {
	rec.Address = model.CanonicalAddress(rec.Address)
	if err := rec.Validate(); err != nil {
		r.logger.Debug("rejected invalid identity", zap.String("address", rec.Address), zap.Error(err))
		metrics.ResolverUpdatesTotal.WithLabelValues(rec.Source.String(), "invalid").Inc()
		return false
	}

	if !r.write(rec) {
		metrics.ResolverUpdatesTotal.WithLabelValues(rec.Source.String(), "rejected").Inc()
		return false
	}
	metrics.ResolverUpdatesTotal.WithLabelValues(rec.Source.String(), "accepted").Inc()

	if r.hub != nil {
		r.hub.Publish(events.KindIdentityUpdated, rec)
	}
	return true
}

func (r *Resolver) write(rec model.IdentityRecord) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.cache.Get(rec.Address)
	if !ok {
		existing, ok = r.register.Get(rec.Address)
	}
	if ok {
		if rec.Source == model.SourceFallback || !rec.Supersedes(existing) {
			return false
		}
	}

	r.cache.PutUntil(rec.Address, rec, rec.RefreshDue)
	if rec.Source != model.SourceFallback {
		r.register.Put(rec)
	}
	return true
}

// Submit hands resolved records to the updater loop and waits until they are
// applied. Run must be active.
func (r *Resolver) Submit(ctx context.Context, records []model.IdentityRecord) error {
	if len(records) == 0 {
		return nil
	}
	req := updateRequest{records: records, done: make(chan struct{})}
	select {
	case r.updates <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the updater loop, the batch ticker and the register sweeper.
func (r *Resolver) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.applyUpdates(gctx) })
	g.Go(func() error { return r.queue.Run(gctx) })
	g.Go(func() error { return r.register.Run(gctx, r.cfg.SweepInterval) })
	if err := g.Wait(); err != nil {
		return fmt.Errorf("resolver: %w", err)
	}
	return nil
}

func (r *Resolver) applyUpdates(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-r.updates:
			for _, rec := range req.records {
				r.UpdateIfBetter(rec)
			}
			close(req.done)
		}
	}
}

// ForceFlush resolves everything pending now.
func (r *Resolver) ForceFlush(ctx context.Context) (int, error) {
	return r.queue.Flush(ctx)
}

// BatchStats reports the queue state.
func (r *Resolver) BatchStats() QueueStats {
	return r.queue.Stats()
}

// CacheStats reports the resolution cache state.
func (r *Resolver) CacheStats() cache.Stats {
	return r.cache.Stats()
}

// ClearCache empties the resolution cache.
func (r *Resolver) ClearCache() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cache.Clear()
}

// RemoveFromCache drops addresses from the resolution cache.
func (r *Resolver) RemoveFromCache(addresses []string) int {
	keys := canonicalAll(addresses)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cache.Delete(keys...)
}

// RegisterStats reports the register state.
func (r *Resolver) RegisterStats() RegisterStats {
	return r.register.Stats()
}

// ClearRegister empties the register.
func (r *Resolver) ClearRegister() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.register.Clear()
}

// RemoveFromRegister drops addresses from the register.
func (r *Resolver) RemoveFromRegister(addresses []string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.register.Remove(addresses...)
}

func canonicalAll(addresses []string) []string {
	out := make([]string, 0, len(addresses))
	for _, address := range addresses {
		out = append(out, model.CanonicalAddress(address))
	}
	return out
}
