package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Call lifecycle metrics
var (
	CallsStartedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calls_started_total",
		Help: "Total number of calls placed or answered by this process",
	}, []string{"call_type", "direction"})

	// outcome: completed, missed, declined, failed
	CallsEndedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calls_ended_total",
		Help: "Total number of calls that reached a terminal state",
	}, []string{"call_type", "outcome"})

	CallsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "calls_active",
		Help: "Number of call machines not yet terminated",
	})

	CallDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "call_duration_seconds",
		Help:    "Duration of answered calls",
		Buckets: []float64{10, 30, 60, 120, 300, 600, 1800, 3600},
	}, []string{"call_type"})

	CallCleanupErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "call_cleanup_errors_total",
		Help: "Best-effort record deletions that failed",
	})
)

// Media metrics
var (
	// status: issued, unconfigured, rejected
	RoomTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "room_tokens_total",
		Help: "Room token requests by outcome",
	}, []string{"status"})

	RoomParticipants = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "room_participants",
		Help: "Participants currently joined to rooms on this hub",
	})

	MediaSessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "media_sessions_total",
		Help: "Media sessions opened by outcome",
	}, []string{"status"})
)

// Chat and notification metrics
var (
	ChatPostsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_posts_total",
		Help: "Chat messages posted by type and outcome",
	}, []string{"message_type", "status"})

	// channel: push, email
	NotificationsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_sent_total",
		Help: "Call notifications sent by channel and outcome",
	}, []string{"channel", "status"})
)
