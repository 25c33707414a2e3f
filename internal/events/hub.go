package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Kind names a feed event.
type Kind string

const (
	KindInitialData         Kind = "initialData"
	KindNewTransaction      Kind = "newTransaction"
	KindHistoryUpdate       Kind = "historyUpdate"
	KindTransactionEnriched Kind = "transactionEnriched"
	KindIdentityUpdated     Kind = "identityUpdated"
	KindLeaderboardUpdate   Kind = "leaderboardUpdate"
)

// Event is a single notification with a hub-assigned sequence number.
type Event struct {
	Kind    Kind        `json:"type"`
	Seq     uint64      `json:"seq"`
	At      time.Time   `json:"at"`
	Payload interface{} `json:"data"`
}

// Handler receives events. Handlers run on the publisher's goroutine and must
// not block.
type Handler func(Event)

type subscription struct {
	id      uuid.UUID
	kinds   map[Kind]struct{}
	handler Handler
}

func (s subscription) wants(kind Kind) bool {
	if len(s.kinds) == 0 {
		return true
	}
	_, ok := s.kinds[kind]
	return ok
}

// Hub fans events out to subscribers in sequence order. At most one caller
// delivers at a time; events published meanwhile wait in a FIFO and are
// delivered by that caller.
type Hub struct {
	mu          sync.Mutex
	seq         uint64
	subs        []subscription
	queue       []Event
	dispatching bool
	nowFn       func() time.Time
	logger      *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{nowFn: time.Now, logger: logger}
}

// Subscribe registers handler for the given kinds, or all kinds when none are given.
func (h *Hub) Subscribe(handler Handler, kinds ...Kind) uuid.UUID {
	sub := subscription{id: uuid.New(), handler: handler}
	if len(kinds) > 0 {
		sub.kinds = make(map[Kind]struct{}, len(kinds))
		for _, kind := range kinds {
			sub.kinds[kind] = struct{}{}
		}
	}

	h.mu.Lock()
	h.subs = append(h.subs, sub)
	h.mu.Unlock()
	return sub.id
}

// Unsubscribe removes a subscription. Unknown ids are ignored.
func (h *Hub) Unsubscribe(id uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, sub := range h.subs {
		if sub.id == id {
			h.subs = append(h.subs[:i:i], h.subs[i+1:]...)
			return
		}
	}
}

// Publish assigns the next sequence number and delivers the event to every
// interested subscriber. If another call is already delivering, including an
// outer Publish when called from a handler, the event is queued and that call
// delivers it after every earlier event.
func (h *Hub) Publish(kind Kind, payload interface{}) Event {
	h.mu.Lock()
	h.seq++
	event := Event{Kind: kind, Seq: h.seq, At: h.nowFn(), Payload: payload}
	h.queue = append(h.queue, event)
	if h.dispatching {
		h.mu.Unlock()
		return event
	}
	h.dispatching = true
	h.mu.Unlock()

	h.drain()
	return event
}

// drain delivers queued events until the queue is empty. Only the caller that
// set dispatching runs it.
func (h *Hub) drain() {
	for {
		h.mu.Lock()
		if len(h.queue) == 0 {
			h.queue = nil
			h.dispatching = false
			h.mu.Unlock()
			return
		}
		next := h.queue[0]
		h.queue = h.queue[1:]
		subs := h.subs
		h.mu.Unlock()

		for _, sub := range subs {
			if sub.wants(next.Kind) {
				h.deliver(sub, next)
			}
		}
	}
}

// Subscribers returns the number of active subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) deliver(sub subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("event handler panicked",
				zap.String("kind", string(event.Kind)),
				zap.String("subscriber", sub.id.String()),
				zap.Any("panic", r),
			)
		}
	}()
	sub.handler(event)
}
