package feed

import (
	"sync"

	"github.com/shopspring/decimal"

	"shameScope/internal/model"
)

const (
	DefaultHistorySize = 100
	minSeenSize        = 10_000
)

// History is the bounded newest-first list of shame transactions plus the
// set of transaction keys already observed.
type History struct {
	mu       sync.RWMutex
	capacity int
	items    []model.Transaction

	seenCap   int
	seen      map[string]struct{}
	seenOrder []string
}

// NewHistory keeps at most capacity transactions. The seen set is larger so
// a hash evicted from the list is still not re-inserted by an overlapping scan.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	seenCap := capacity * 100
	if seenCap < minSeenSize {
		seenCap = minSeenSize
	}
	return &History{
		capacity: capacity,
		items:    make([]model.Transaction, 0, capacity),
		seenCap:  seenCap,
		seen:     make(map[string]struct{}, seenCap),
	}
}

// Seen reports whether key has been observed.
func (h *History) Seen(key string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.seen[key]
	return ok
}

// Insert puts tx at the head unless its hash was already observed. The oldest
// entry is dropped when full.
func (h *History) Insert(tx model.Transaction) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.seen[tx.TxHash]; ok {
		return false
	}
	h.markSeenLocked(tx.TxHash)

	h.items = append(h.items, model.Transaction{})
	copy(h.items[1:], h.items)
	h.items[0] = tx
	if len(h.items) > h.capacity {
		h.items = h.items[:h.capacity]
	}
	return true
}

func (h *History) markSeenLocked(key string) {
	h.seen[key] = struct{}{}
	h.seenOrder = append(h.seenOrder, key)
	if len(h.seenOrder) > h.seenCap {
		evict := h.seenOrder[0]
		h.seenOrder = h.seenOrder[1:]
		delete(h.seen, evict)
	}
}

// Update applies fn to the retained transaction with key and returns the
// result when fn reports a change.
func (h *History) Update(key string, fn func(*model.Transaction) bool) (model.Transaction, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i := range h.items {
		if h.items[i].TxHash != key {
			continue
		}
		if !fn(&h.items[i]) {
			return model.Transaction{}, false
		}
		return h.items[i], true
	}
	return model.Transaction{}, false
}

// ApplyIdentity refreshes display fields on every transaction involving the
// record's address and returns the ones that changed.
func (h *History) ApplyIdentity(rec model.IdentityRecord) []model.Transaction {
	h.mu.Lock()
	defer h.mu.Unlock()

	var changed []model.Transaction
	for i := range h.items {
		if applyIdentity(&h.items[i], rec) {
			changed = append(changed, h.items[i])
		}
	}
	return changed
}

func applyIdentity(tx *model.Transaction, rec model.IdentityRecord) bool {
	changed := false
	if tx.From == rec.Address && (tx.FromDisplayName != rec.DisplayName || tx.FromSource != rec.Source) {
		tx.FromDisplayName = rec.DisplayName
		tx.FromSource = rec.Source
		changed = true
	}
	if tx.To == rec.Address && (tx.ToDisplayName != rec.DisplayName || tx.ToSource != rec.Source) {
		tx.ToDisplayName = rec.DisplayName
		tx.ToSource = rec.Source
		changed = true
	}
	return changed
}

// ApplyJudgment sets the judgment on the most recent transaction to target.
func (h *History) ApplyJudgment(target string, judgment uint8) (model.Transaction, bool) {
	target = model.CanonicalAddress(target)

	h.mu.Lock()
	defer h.mu.Unlock()

	for i := range h.items {
		if h.items[i].To != target {
			continue
		}
		if current := h.items[i].Judgment; current != nil && *current == judgment {
			return h.items[i], false
		}
		value := judgment
		h.items[i].Judgment = &value
		return h.items[i], true
	}
	return model.Transaction{}, false
}

// Snapshot returns a copy of the retained transactions, newest first.
func (h *History) Snapshot() []model.Transaction {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]model.Transaction, len(h.items))
	copy(out, h.items)
	return out
}

// Len returns the number of retained transactions.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.items)
}

// Stats summarizes the retained transactions.
func (h *History) Stats() model.ShameStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	shamers := make(map[string]struct{})
	shamed := make(map[string]struct{})
	total := decimal.Zero
	judgmentSum, judged := 0, 0
	for _, tx := range h.items {
		shamers[tx.From] = struct{}{}
		shamed[tx.To] = struct{}{}
		total = total.Add(tx.Amount)
		if tx.Judgment != nil {
			judgmentSum += int(*tx.Judgment)
			judged++
		}
	}

	stats := model.ShameStats{
		TotalShames:   len(h.items),
		TotalAmount:   total,
		UniqueShamers: len(shamers),
		UniqueShamed:  len(shamed),
	}
	if judged > 0 {
		stats.AverageJudgment = float64(judgmentSum) / float64(judged)
	}
	return stats
}
