// Package metrics holds the Prometheus collectors for derived-view outcomes.
//
// Derived views (feeds, counters, cards, search, notifications) never fail the
// primary write that triggered them, so these counters are how their failures surface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CounterFloorReached counts guarded decrements rejected at zero, by entity kind and field.
	CounterFloorReached = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "denorm_counter_floor_reached_total",
		Help: "Total number of decrements rejected because the counter was already at zero",
	}, []string{"entity", "field"})

	// CardTransitions counts card reconciliation outcomes by card type and action.
	CardTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "denorm_card_transitions_total",
		Help: "Total number of card add/remove decisions",
	}, []string{"card_type", "action"})

	// FeedWrites counts feed entry writes by operation.
	FeedWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "denorm_feed_writes_total",
		Help: "Total number of feed entry puts and deletes",
	}, []string{"operation"})

	// NotificationsSent counts per-recipient deliveries by channel and result.
	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "denorm_notifications_sent_total",
		Help: "Total number of per-recipient notification attempts",
	}, []string{"channel", "result"})

	// SearchRequests counts search index calls by operation and result.
	SearchRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "denorm_search_requests_total",
		Help: "Total number of search index requests",
	}, []string{"operation", "result"})

	// StreamRecords counts processed stream records by entity kind and outcome.
	StreamRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "denorm_stream_records_total",
		Help: "Total number of stream records processed",
	}, []string{"kind", "result"})

	// StreamLatency records per-record handler latency by entity kind.
	StreamLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "denorm_stream_handler_latency_seconds",
		Help:    "Stream handler latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
)

// Result labels.
const (
	ResultOK      = "ok"
	ResultFailed  = "failed"
	ResultSkipped = "skipped"
)
