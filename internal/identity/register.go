package identity

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"shameScope/internal/model"
)

// DefaultSweepInterval is how often the register drops expired records.
const DefaultSweepInterval = 24 * time.Hour

// RegisterStats counts register contents at a point in time.
type RegisterStats struct {
	Total   int `json:"total"`
	Expired int `json:"expired"`
	Valid   int `json:"valid"`
}

// Register keeps provider-resolved identities for the life of the process.
type Register struct {
	mu      sync.Mutex
	records map[string]model.IdentityRecord
	nowFn   func() time.Time
	logger  *zap.Logger
}

// NewRegister creates an empty register.
func NewRegister(now func() time.Time, logger *zap.Logger) *Register {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Register{
		records: make(map[string]model.IdentityRecord),
		nowFn:   now,
		logger:  logger,
	}
}

// Get returns the valid record for address. Expired records are dropped.
func (r *Register) Get(address string) (model.IdentityRecord, bool) {
	address = model.CanonicalAddress(address)

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[address]
	if !ok {
		return model.IdentityRecord{}, false
	}
	if rec.Expired(r.nowFn()) {
		delete(r.records, address)
		return model.IdentityRecord{}, false
	}
	return rec, true
}

// Put stores rec under its canonical address.
func (r *Register) Put(rec model.IdentityRecord) {
	rec.Address = model.CanonicalAddress(rec.Address)
	r.mu.Lock()
	r.records[rec.Address] = rec
	r.mu.Unlock()
}

// Remove deletes the given addresses and returns how many were present.
func (r *Register) Remove(addresses ...string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for _, address := range addresses {
		address = model.CanonicalAddress(address)
		if _, ok := r.records[address]; ok {
			delete(r.records, address)
			removed++
		}
	}
	return removed
}

// Clear drops everything and returns how many records were held.
func (r *Register) Clear() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.records)
	r.records = make(map[string]model.IdentityRecord)
	return n
}

// Stats counts valid and expired records.
func (r *Register) Stats() RegisterStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.nowFn()
	stats := RegisterStats{Total: len(r.records)}
	for _, rec := range r.records {
		if rec.Expired(now) {
			stats.Expired++
		}
	}
	stats.Valid = stats.Total - stats.Expired
	return stats
}

// Sweep drops expired records and returns how many were removed.
func (r *Register) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.nowFn()
	removed := 0
	for address, rec := range r.records {
		if rec.Expired(now) {
			delete(r.records, address)
			removed++
		}
	}
	return removed
}

// Run sweeps on every interval until ctx is done.
func (r *Register) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if removed := r.Sweep(); removed > 0 {
				r.logger.Info("register sweep", zap.Int("removed", removed))
			}
		}
	}
}
