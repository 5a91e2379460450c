package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(workersBusy) }

var workersBusy = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "video_workers_busy",
		Help: "Worker pool slots currently holding a task.",
	},
)

func SetWorkersBusy(n int) { workersBusy.Set(float64(n)) }
