// Package metrics defines the Prometheus instrumentation surface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncPassesTotal counts completed full synchronization passes by result.
	SyncPassesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "drivemirror_sync_passes_total",
		Help: "Completed full synchronization passes by result.",
	}, []string{"result"})

	// RecordsUpserted counts records applied to the tree during full syncs.
	RecordsUpserted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "drivemirror_records_upserted_total",
		Help: "Records applied to the hierarchy during full synchronizations.",
	})

	// RecordsSkipped counts records dropped for failing validation.
	RecordsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "drivemirror_records_skipped_total",
		Help: "Listing records dropped because they failed validation.",
	})

	// NotificationsTotal counts inbound push notifications by outcome.
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "drivemirror_notifications_total",
		Help: "Inbound push notifications by processing outcome.",
	}, []string{"outcome"})

	// WatchRateLimited counts subscription attempts refused by quota.
	WatchRateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "drivemirror_watch_rate_limited_total",
		Help: "Push-notification subscriptions refused by the per-file quota.",
	})

	// ActiveChannels tracks the size of the current channel generation.
	ActiveChannels = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "drivemirror_active_channels",
		Help: "Push-notification channels in the current generation.",
	})
)
