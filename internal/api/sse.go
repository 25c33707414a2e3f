package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"shameScope/internal/events"
	"shameScope/internal/metrics"
)

const streamBuffer = 64

var streamKinds = []events.Kind{
	events.KindNewTransaction,
	events.KindTransactionEnriched,
	events.KindHistoryUpdate,
	events.KindLeaderboardUpdate,
}

// handleStream pushes feed events as Server-Sent Events. A client that falls
// more than streamBuffer events behind is disconnected.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	clientID := uuid.New()
	queue := make(chan events.Event, streamBuffer)
	overflow := make(chan struct{})
	var once sync.Once

	subID := s.hub.Subscribe(func(event events.Event) {
		select {
		case queue <- event:
		default:
			once.Do(func() { close(overflow) })
		}
	}, streamKinds...)
	defer s.hub.Unsubscribe(subID)

	metrics.StreamClients.Inc()
	defer metrics.StreamClients.Dec()
	logger := s.logger.With(zap.String("client", clientID.String()))
	logger.Debug("stream client connected")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, events.Event{Kind: events.KindInitialData, Payload: s.feed.Snapshot()}); err != nil {
		logger.Debug("stream write failed", zap.Error(err))
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			logger.Debug("stream client disconnected")
			return
		case <-overflow:
			logger.Warn("stream client too slow, disconnecting")
			return
		case event := <-queue:
			if err := writeEvent(w, event); err != nil {
				logger.Debug("stream write failed", zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, event events.Event) error {
	data, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event.Kind, err)
	}
	if event.Seq > 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", event.Seq); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Kind, data)
	return err
}
