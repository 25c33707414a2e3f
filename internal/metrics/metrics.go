package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Resolver
	ResolverLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shamefeed",
		Subsystem: "resolver",
		Name:      "lookups_total",
		Help:      "Identity lookups by where they were answered from",
	}, []string{"result"})

	ResolverUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shamefeed",
		Subsystem: "resolver",
		Name:      "updates_total",
		Help:      "Identity write attempts by source and outcome",
	}, []string{"source", "outcome"})

	// Providers
	ProviderCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shamefeed",
		Subsystem: "provider",
		Name:      "calls_total",
		Help:      "Bulk provider calls by outcome",
	}, []string{"provider", "outcome"})

	ProviderResolvedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shamefeed",
		Subsystem: "provider",
		Name:      "resolved_total",
		Help:      "Addresses a provider returned a profile for",
	}, []string{"provider"})

	ProviderCallLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "shamefeed",
		Subsystem: "provider",
		Name:      "call_duration_seconds",
		Help:      "Bulk provider call duration",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
	}, []string{"provider"})

	// Batch queue
	BatchQueuePending = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "shamefeed",
		Subsystem: "batch",
		Name:      "pending",
		Help:      "Addresses waiting for the next flush",
	})

	BatchQueueInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "shamefeed",
		Subsystem: "batch",
		Name:      "in_flight",
		Help:      "Addresses currently being resolved",
	})

	BatchFlushesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "shamefeed",
		Subsystem: "batch",
		Name:      "flushes_total",
		Help:      "Non-empty batch flushes",
	})

	// Poller
	PollerTicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shamefeed",
		Subsystem: "poller",
		Name:      "ticks_total",
		Help:      "Poller ticks by ingestion mode",
	}, []string{"mode"})

	PollerTickErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "shamefeed",
		Subsystem: "poller",
		Name:      "tick_errors_total",
		Help:      "Ticks aborted without advancing the watermark",
	})

	PollerWatermark = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "shamefeed",
		Subsystem: "poller",
		Name:      "watermark_block",
		Help:      "Highest fully processed block",
	})

	FeedTransactionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "shamefeed",
		Subsystem: "feed",
		Name:      "transactions_total",
		Help:      "Shame transactions inserted into history",
	})

	FeedRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shamefeed",
		Subsystem: "feed",
		Name:      "rejected_total",
		Help:      "Candidate transfers dropped by reason",
	}, []string{"reason"})

	FeedHistorySize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "shamefeed",
		Subsystem: "feed",
		Name:      "history_size",
		Help:      "Transactions currently retained",
	})

	// Leaderboard
	LeaderboardQueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shamefeed",
		Subsystem: "leaderboard",
		Name:      "queries_total",
		Help:      "Aggregation queries by outcome",
	}, []string{"direction", "outcome"})

	// Publisher
	PublisherMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shamefeed",
		Subsystem: "publisher",
		Name:      "messages_total",
		Help:      "Feed events sent to the broker by outcome",
	}, []string{"outcome"})

	// API
	StreamClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "shamefeed",
		Subsystem: "api",
		Name:      "stream_clients",
		Help:      "Connected event-stream clients",
	})
)
