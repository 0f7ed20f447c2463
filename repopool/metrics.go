package repopool

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// lastProjectMirrorTimestamp is a Gauge that captures the timestamp of
	// the last successful project mirror
	lastProjectMirrorTimestamp *prometheus.GaugeVec
	// projectMirrorCount is a Counter vector of project mirrors
	projectMirrorCount *prometheus.CounterVec
	// projectMirrorLatency is a Histogram vector that keeps track of project mirror durations
	projectMirrorLatency *prometheus.HistogramVec
	// runProgress is the ratio of finished projects of the current run
	runProgress prometheus.Gauge
	// runCount is a Counter vector of mirror runs
	runCount *prometheus.CounterVec
)

// EnableMetrics will enable metrics collection for mirror runs.
// Available metrics are...
//   - last_project_mirror_timestamp - (tags: project)
//     A Gauge that captures the Timestamp of the last successful mirror per project.
//   - project_mirror_count - (tags: project,success)
//     A Counter for each project mirror, tagged with the result (success=true|false)
//   - project_mirror_latency_seconds - (tags: project)
//     A Histogram that keeps track of the mirror latency per project.
//   - run_progress_ratio
//     A Gauge with the ratio of finished projects of the current run.
//   - run_count - (tags: success)
//     A Counter for each mirror run tagged with the result.
func EnableMetrics(metricsNamespace string, registerer prometheus.Registerer) {
	lastProjectMirrorTimestamp = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "last_project_mirror_timestamp",
		Help:      "Timestamp of the last successful project mirror",
	},
		[]string{
			// full path of the source project
			"project",
		},
	)

	projectMirrorCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "project_mirror_count",
		Help:      "Count of project mirror operations",
	},
		[]string{
			// full path of the source project
			"project",
			// Whether the mirror was successful or not
			"success",
		},
	)

	projectMirrorLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "project_mirror_latency_seconds",
		Help:      "Latency for project mirror",
		Buckets:   []float64{0.5, 1, 5, 10, 20, 30, 60, 90, 120, 150, 300},
	},
		[]string{
			// full path of the source project
			"project",
		},
	)

	runProgress = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "run_progress_ratio",
		Help:      "Ratio of mirrored projects of the current run",
	})

	runCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "run_count",
		Help:      "Count of mirror runs",
	},
		[]string{
			// Whether the run was successful or not
			"success",
		},
	)

	registerer.MustRegister(
		lastProjectMirrorTimestamp,
		projectMirrorCount,
		projectMirrorLatency,
		runProgress,
		runCount,
	)
}

// recordProjectMirror records a project mirror attempt by updating all the
// relevant metrics
func recordProjectMirror(project string, success bool, start time.Time) {
	// if metrics not enabled return
	if lastProjectMirrorTimestamp == nil || projectMirrorCount == nil || projectMirrorLatency == nil {
		return
	}
	if success {
		lastProjectMirrorTimestamp.With(prometheus.Labels{
			"project": project,
		}).Set(float64(time.Now().Unix()))
	}
	projectMirrorCount.With(prometheus.Labels{
		"project": project,
		"success": strconv.FormatBool(success),
	}).Inc()
	projectMirrorLatency.WithLabelValues(project).Observe(time.Since(start).Seconds())
}

func updateRunProgress(completed, total int) {
	if runProgress == nil || total == 0 {
		return
	}
	runProgress.Set(float64(completed) / float64(total))
}

func recordRun(success bool) {
	if runCount == nil {
		return
	}
	runCount.WithLabelValues(strconv.FormatBool(success)).Inc()
}
