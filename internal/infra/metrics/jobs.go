package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(jobsClaimedTotal, jobClaimConflictsTotal, jobsReleasedTotal, jobsFinishedTotal, jobsExpiredTotal, jobProgressUpdatesTotal)
}

var (
	jobsClaimedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "video_jobs_claimed_total",
			Help: "Jobs moved from pending to processing by this instance.",
		},
		[]string{"provider"},
	)

	jobClaimConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "video_job_claim_conflicts_total",
			Help: "Claims lost to another poller.",
		},
	)

	jobsReleasedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "video_jobs_released_total",
			Help: "Claims handed back to pending because the worker pool was full.",
		},
	)

	jobsFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "video_jobs_finished_total",
			Help: "Jobs that reached a terminal state, labeled by provider and status.",
		},
		[]string{"provider", "status"}, // 'completed', 'failed'
	)

	jobsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "video_jobs_expired_total",
			Help: "Processing jobs failed by the watchdog after their claim expired.",
		},
	)

	jobProgressUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "video_job_progress_updates_total",
			Help: "Progress reports, labeled by whether the store applied them.",
		},
		[]string{"applied"},
	)
)

func IncJobClaimed(provider string) { jobsClaimedTotal.WithLabelValues(norm(provider)).Inc() }

func IncClaimConflict() { jobClaimConflictsTotal.Inc() }

func IncJobReleased() { jobsReleasedTotal.Inc() }

func IncJobFinished(provider, status string) {
	jobsFinishedTotal.WithLabelValues(norm(provider), norm(status)).Inc()
}

func AddJobsExpired(n int) { jobsExpiredTotal.Add(float64(n)) }

func IncProgressUpdate(applied bool) {
	if applied {
		jobProgressUpdatesTotal.WithLabelValues("true").Inc()
		return
	}
	jobProgressUpdatesTotal.WithLabelValues("false").Inc()
}
