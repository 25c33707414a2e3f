package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"shameScope/internal/cache"
	"shameScope/internal/events"
	"shameScope/internal/feed"
	"shameScope/internal/identity"
	"shameScope/internal/leaderboard"
	"shameScope/internal/model"
)

const (
	maxRequestBodyBytes = 1 << 20
	maxBulkAddresses    = 500
)

// Feed exposes the ingested shame history.
type Feed interface {
	Snapshot() feed.Snapshot
	Status() feed.Status
}

// Identities is the resolver surface the API needs.
type Identities interface {
	Resolve(address string) model.IdentityRecord
	ResolveBulk(addresses []string) map[string]model.IdentityRecord
	ForceFlush(ctx context.Context) (int, error)
	BatchStats() identity.QueueStats
	CacheStats() cache.Stats
	ClearCache() int
	RemoveFromCache(addresses []string) int
	RegisterStats() identity.RegisterStats
	ClearRegister() int
	RemoveFromRegister(addresses []string) int
}

// Leaderboards ranks shamers and shamed.
type Leaderboards interface {
	GetLeaderboard(ctx context.Context, dir model.Direction, period model.Period) ([]model.LeaderboardEntry, error)
	GetLeaderboards(ctx context.Context, period model.Period) (leaderboard.Board, error)
}

// Server is the HTTP surface of the feed service.
type Server struct {
	feed       Feed
	identities Identities
	boards     Leaderboards
	hub        *events.Hub
	logger     *zap.Logger
}

func NewServer(feedSource Feed, identities Identities, boards Leaderboards, hub *events.Hub, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		feed:       feedSource,
		identities: identities,
		boards:     boards,
		hub:        hub,
		logger:     logger.With(zap.String("component", "api")),
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/shame-feed", s.handleShameFeed)
	mux.HandleFunc("GET /api/shame-stats", s.handleShameStats)
	mux.HandleFunc("GET /api/leaderboards/{period}", s.handleLeaderboards)
	mux.HandleFunc("GET /api/leaderboard/{direction}/{period}", s.handleLeaderboard)
	mux.HandleFunc("GET /api/resolve-handle/{address}", s.handleResolve)
	mux.HandleFunc("POST /api/resolve-handles-bulk", s.handleResolveBulk)

	mux.HandleFunc("GET /api/cache/stats", s.handleCacheStats)
	mux.HandleFunc("POST /api/cache/clear", s.handleCacheClear)
	mux.HandleFunc("POST /api/cache/remove", s.handleCacheRemove)
	mux.HandleFunc("GET /api/register/stats", s.handleRegisterStats)
	mux.HandleFunc("POST /api/register/clear", s.handleRegisterClear)
	mux.HandleFunc("POST /api/register/remove", s.handleRegisterRemove)
	mux.HandleFunc("GET /api/batch/stats", s.handleBatchStats)
	mux.HandleFunc("POST /api/batch/flush", s.handleBatchFlush)

	mux.HandleFunc("GET /api/stream", s.handleStream)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// Run serves on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("http server shutdown error", zap.Error(err))
		}
	}()

	s.logger.Info("http server started", zap.String("addr", addr))
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

type errorResponse struct {
	Error string `json:"error"`
}

type addressesRequest struct {
	Addresses []string `json:"addresses"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// decodeAddresses reads {"addresses": [...]} and validates every entry.
// Returns false (and writes an error response) on bad input.
func decodeAddresses(w http.ResponseWriter, r *http.Request) ([]string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	var req addressesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return nil, false
	}
	if len(req.Addresses) == 0 {
		writeError(w, http.StatusBadRequest, "addresses must be a non-empty array")
		return nil, false
	}
	if len(req.Addresses) > maxBulkAddresses {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d addresses per request", maxBulkAddresses))
		return nil, false
	}
	out := make([]string, 0, len(req.Addresses))
	for _, address := range req.Addresses {
		address = strings.TrimSpace(address)
		if !model.IsAddress(address) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid address format: %q", address))
			return nil, false
		}
		out = append(out, model.CanonicalAddress(address))
	}
	return out, true
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"feed":   s.feed.Status(),
	})
}

type shameFeedResponse struct {
	ShameHistory []model.Transaction  `json:"shameHistory"`
	Stats        model.ShameStats     `json:"stats"`
	TopSoldiers  []model.ShameSoldier `json:"topSoldiers"`
}

func (s *Server) handleShameFeed(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.feed.Snapshot()
	history := snapshot.History
	if history == nil {
		history = []model.Transaction{}
	}
	soldiers := snapshot.TopSoldiers
	if soldiers == nil {
		soldiers = []model.ShameSoldier{}
	}
	writeJSON(w, http.StatusOK, shameFeedResponse{ShameHistory: history, Stats: snapshot.Stats, TopSoldiers: soldiers})
}

func (s *Server) handleShameStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.feed.Snapshot().Stats)
}

func (s *Server) handleLeaderboards(w http.ResponseWriter, r *http.Request) {
	period, err := model.ParsePeriod(r.PathValue("period"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	board, err := s.boards.GetLeaderboards(r.Context(), period)
	if err != nil {
		s.writeBoardError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	dir, err := model.ParseDirection(r.PathValue("direction"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	period, err := model.ParsePeriod(r.PathValue("period"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := s.boards.GetLeaderboard(r.Context(), dir, period)
	if err != nil {
		s.writeBoardError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) writeBoardError(w http.ResponseWriter, err error) {
	if errors.Is(err, leaderboard.ErrUnsupportedPeriod) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Error("leaderboard failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "failed to build leaderboard")
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	if !model.IsAddress(address) {
		writeError(w, http.StatusBadRequest, "invalid address format")
		return
	}
	writeJSON(w, http.StatusOK, s.identities.Resolve(address))
}

func (s *Server) handleResolveBulk(w http.ResponseWriter, r *http.Request) {
	addresses, ok := decodeAddresses(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.identities.ResolveBulk(addresses))
}

func (s *Server) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.identities.CacheStats())
}

func (s *Server) handleCacheClear(w http.ResponseWriter, _ *http.Request) {
	removed := s.identities.ClearCache()
	s.logger.Info("resolution cache cleared", zap.Int("removed", removed))
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (s *Server) handleCacheRemove(w http.ResponseWriter, r *http.Request) {
	addresses, ok := decodeAddresses(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": s.identities.RemoveFromCache(addresses)})
}

func (s *Server) handleRegisterStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.identities.RegisterStats())
}

func (s *Server) handleRegisterClear(w http.ResponseWriter, _ *http.Request) {
	removed := s.identities.ClearRegister()
	s.logger.Info("identity register cleared", zap.Int("removed", removed))
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (s *Server) handleRegisterRemove(w http.ResponseWriter, r *http.Request) {
	addresses, ok := decodeAddresses(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": s.identities.RemoveFromRegister(addresses)})
}

func (s *Server) handleBatchStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.identities.BatchStats())
}

func (s *Server) handleBatchFlush(w http.ResponseWriter, r *http.Request) {
	flushed, err := s.identities.ForceFlush(r.Context())
	if err != nil {
		s.logger.Warn("forced flush failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "flush failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"flushed": flushed})
}
