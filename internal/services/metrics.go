package services

import "github.com/prometheus/client_golang/prometheus"

var (
	publishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_publish_total",
			Help: "Publication attempts by outcome.",
		},
		[]string{"outcome"},
	)
	replyNotifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_reply_notifications_total",
			Help: "Channel replies routed to authors, by outcome.",
		},
		[]string{"outcome"},
	)
	broadcastSends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_broadcast_sends_total",
			Help: "Per-recipient broadcast sends by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(publishTotal, replyNotifications, broadcastSends)
}
