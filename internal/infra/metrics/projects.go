package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(projectStatusChangesTotal, renderJobsEnqueuedTotal, reconcileTicksTotal) }

var (
	projectStatusChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "video_project_status_changes_total",
			Help: "Project status writes made by reconciliation, labeled by new status.",
		},
		[]string{"status"},
	)

	renderJobsEnqueuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "video_render_jobs_enqueued_total",
			Help: "Jobs inserted in response to render requests.",
		},
	)

	reconcileTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "video_reconcile_ticks_total",
			Help: "Project reconciliation ticks, labeled by outcome.",
		},
		[]string{"outcome"}, // 'ok', 'error', 'skipped'
	)
)

func IncProjectStatusChange(status string) {
	projectStatusChangesTotal.WithLabelValues(norm(status)).Inc()
}

func AddRenderJobsEnqueued(n int) { renderJobsEnqueuedTotal.Add(float64(n)) }

func IncReconcileTick(outcome string) { reconcileTicksTotal.WithLabelValues(norm(outcome)).Inc() }
