package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(sceneRegenerationsTotal) }

var sceneRegenerationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "video_scene_regenerations_total",
		Help: "Scene regeneration attempts, labeled by provider and outcome.",
	},
	[]string{"provider", "outcome"}, // 'succeeded', 'failed', 'rejected'
)

func IncRegeneration(provider, outcome string) {
	sceneRegenerationsTotal.WithLabelValues(norm(provider), norm(outcome)).Inc()
}
