package bot

import "github.com/prometheus/client_golang/prometheus"

var (
	updatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_updates_total",
			Help: "Inbound updates by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
	updateDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_update_duration_seconds",
			Help:    "Time spent handling one inbound update.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
	sceneTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_scene_transitions_total",
			Help: "Scene changes by source and destination.",
		},
		[]string{"from", "to"},
	)
	joinsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_deeplink_joins_total",
			Help: "New users provisioned through a message deep-link.",
		},
	)
)

func init() {
	prometheus.MustRegister(updatesTotal, updateDuration, sceneTransitions, joinsTotal)
}
