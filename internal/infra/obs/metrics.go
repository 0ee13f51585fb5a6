package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "guildchat_active_sessions",
			Help: "Currently connected websocket sessions",
		},
	)

	MessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "guildchat_messages_sent_total",
			Help: "Messages accepted by the pipeline",
		},
	)

	MessagesDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guildchat_messages_deleted_total",
			Help: "Message deletions by mode",
		},
		[]string{"mode"},
	)

	ConversationsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "guildchat_conversations_created_total",
			Help: "Conversations created",
		},
	)

	TypingSignals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guildchat_typing_signals_total",
			Help: "Typing start/stop signals received over websocket",
		},
		[]string{"kind"},
	)

	EventsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guildchat_events_delivered_total",
			Help: "Events written to websocket sessions",
		},
		[]string{"type"},
	)
)
