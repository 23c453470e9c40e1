// Package metrics exposes the gateway's Prometheus instrumentation. All
// collectors live on the default registry and are served by the API's
// /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tycostream_events_applied_total",
		Help: "Row events applied to source caches, by source and kind.",
	}, []string{"source", "kind"})

	upstreamReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tycostream_upstream_reconnects_total",
		Help: "Upstream session rebuilds, by source.",
	}, []string{"source"})

	subscriptionsEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tycostream_subscriptions_ended_total",
		Help: "Subscription terminations, by source and reason code.",
	}, []string{"source", "reason"})

	webhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tycostream_trigger_webhook_deliveries_total",
		Help: "Trigger webhook delivery outcomes, by trigger and result.",
	}, []string{"trigger", "result"})

	activeSubscriptions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tycostream_active_subscriptions",
		Help: "Subscribers currently attached, by source.",
	}, []string{"source"})

	cachedRows = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tycostream_cached_rows",
		Help: "Rows currently held in each source cache.",
	}, []string{"source"})
)

// EventApplied counts one row event applied to a source cache.
func EventApplied(source, kind string) {
	eventsApplied.WithLabelValues(source, kind).Inc()
}

// UpstreamReconnect counts one upstream session rebuild.
func UpstreamReconnect(source string) {
	upstreamReconnects.WithLabelValues(source).Inc()
}

// SubscriptionEnded counts one subscription termination. reason is the
// terminal error code, or "cancelled" for client-initiated ends.
func SubscriptionEnded(source, reason string) {
	subscriptionsEnded.WithLabelValues(source, reason).Inc()
}

// WebhookDelivery counts one webhook outcome: "delivered", "retried",
// "failed" or "dropped".
func WebhookDelivery(trigger, result string) {
	webhookDeliveries.WithLabelValues(trigger, result).Inc()
}

// ObserveSourceStats refreshes the per-source gauges. The gateway calls it
// periodically with each cache's current counters.
func ObserveSourceStats(source string, rows, subscribers int) {
	cachedRows.WithLabelValues(source).Set(float64(rows))
	activeSubscriptions.WithLabelValues(source).Set(float64(subscribers))
}
