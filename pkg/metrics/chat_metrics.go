package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Chat delivery metrics
var (
	ChatMessageDeliveryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chat_message_delivery_duration_seconds",
		Help:    "Time taken to deliver a message",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"step"}) // "persist", "index", "notify"

	ChatMessageIndexErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_message_index_errors_total",
		Help: "Messages whose per-user index write failed",
	})

	ChatUnreadWatchersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_unread_watchers_active",
		Help: "Conversations currently followed for unread counts",
	})

	AgentEventStreamsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agent_event_streams_active",
		Help: "UI connections streaming agent events",
	})
)
