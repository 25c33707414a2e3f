package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_DeliversInOrderToInterestedSubscribers(t *testing.T) {
	hub := NewHub(nil)

	var all, onlyHistory []Kind
	hub.Subscribe(func(e Event) { all = append(all, e.Kind) })
	hub.Subscribe(func(e Event) { onlyHistory = append(onlyHistory, e.Kind) }, KindHistoryUpdate)

	hub.Publish(KindNewTransaction, nil)
	hub.Publish(KindHistoryUpdate, nil)
	last := hub.Publish(KindLeaderboardUpdate, nil)

	assert.Equal(t, []Kind{KindNewTransaction, KindHistoryUpdate, KindLeaderboardUpdate}, all)
	assert.Equal(t, []Kind{KindHistoryUpdate}, onlyHistory)
	assert.Equal(t, uint64(3), last.Seq)
}

func TestHub_NestedPublishAndUnsubscribe(t *testing.T) {
	hub := NewHub(nil)

	var seen []Kind
	hub.Subscribe(func(e Event) {
		hub.Publish(KindLeaderboardUpdate, nil)
	}, KindHistoryUpdate)
	id := hub.Subscribe(func(e Event) { seen = append(seen, e.Kind) })

	hub.Publish(KindHistoryUpdate, nil)
	require.Equal(t, []Kind{KindHistoryUpdate, KindLeaderboardUpdate}, seen)

	hub.Unsubscribe(id)
	hub.Publish(KindNewTransaction, nil)
	assert.Len(t, seen, 2)
	assert.Equal(t, 1, hub.Subscribers())
}

func TestHub_PanickingHandlerDoesNotStopDelivery(t *testing.T) {
	hub := NewHub(nil)
	delivered := false
	hub.Subscribe(func(Event) { panic("boom") })
	hub.Subscribe(func(Event) { delivered = true })

	hub.Publish(KindNewTransaction, nil)
	assert.True(t, delivered)
}

func TestHub_ConcurrentPublishersDeliverInSequenceOrder(t *testing.T) {
	hub := NewHub(nil)

	entered := make(chan struct{})
	release := make(chan struct{})
	hub.Subscribe(func(e Event) {
		if e.Seq == 1 {
			close(entered)
			<-release
		}
	})

	var mu sync.Mutex
	var seqs []uint64
	hub.Subscribe(func(e Event) {
		mu.Lock()
		seqs = append(seqs, e.Seq)
		mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		hub.Publish(KindNewTransaction, nil)
		close(done)
	}()
	<-entered

	second := hub.Publish(KindTransactionEnriched, nil)
	require.Equal(t, uint64(2), second.Seq)

	close(release)
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uint64{1, 2}, seqs)
}

func TestHub_NestedPublishFollowsCurrentEvent(t *testing.T) {
	hub := NewHub(nil)

	var order []uint64
	hub.Subscribe(func(e Event) {
		if e.Kind == KindIdentityUpdated {
			hub.Publish(KindTransactionEnriched, nil)
		}
	})
	hub.Subscribe(func(e Event) { order = append(order, e.Seq) })

	hub.Publish(KindIdentityUpdated, nil)
	hub.Publish(KindHistoryUpdate, nil)

	assert.Equal(t, []uint64{1, 2, 3}, order)
}
