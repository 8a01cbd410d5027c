// SPDX-License-Identifier: MIT
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// State persistence
	stateSavesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playstate_state_saves_total",
		Help: "Playback state save attempts by outcome",
	}, []string{"outcome"}) // outcome=success|write_failure|invalid|lock_timeout

	stateSaveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "playstate_state_save_duration_seconds",
		Help:    "Duration of playback state saves including retries",
		Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
	})

	stateLoadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playstate_state_loads_total",
		Help: "Playback state loads by status",
	}, []string{"status"}) // status=ok|not_found|corrupt

	// Recovery
	recoveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playstate_recoveries_total",
		Help: "Startup recovery decisions by origin and action",
	}, []string{"origin", "action"})

	// Playback
	currentTrack = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "playstate_current_track_index",
		Help: "Track index held in memory",
	})
	currentPosition = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "playstate_current_position_seconds",
		Help: "Position into the current track held in memory",
	})
	pendingPersist = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "playstate_pending_persist",
		Help: "Whether the in-memory state has changes not yet on disk (1) or not (0)",
	})

	// Backups
	snapshotsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playstate_backup_snapshots_total",
		Help: "Backup snapshot runs by outcome",
	}, []string{"outcome"}) // outcome=success|failure|skipped

	snapshotDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "playstate_backup_snapshot_duration_seconds",
		Help:    "Duration of successful backup snapshots",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	archivesRetained = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "playstate_backup_archives_retained",
		Help: "Number of backup archives on disk after the last prune",
	})

	archivesPruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "playstate_backup_archives_pruned_total",
		Help: "Total number of backup archives deleted by retention",
	})

	// Operator API
	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "playstate_http_request_duration_seconds",
		Help:    "HTTP request latencies in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// IncStateSave records a save attempt outcome.
func IncStateSave(outcome string) {
	stateSavesTotal.WithLabelValues(outcome).Inc()
}

// ObserveStateSave records how long a save took.
func ObserveStateSave(d time.Duration) {
	stateSaveDuration.Observe(d.Seconds())
}

// IncStateLoad records a load status.
func IncStateLoad(status string) {
	stateLoadsTotal.WithLabelValues(status).Inc()
}

// IncRecovery records a startup recovery decision.
func IncRecovery(origin, action string) {
	recoveriesTotal.WithLabelValues(origin, action).Inc()
}

// SetPlayback publishes the in-memory track and position.
func SetPlayback(trackIndex int, position float64) {
	currentTrack.Set(float64(trackIndex))
	currentPosition.Set(position)
}

// SetPendingPersist publishes whether unsaved changes exist.
func SetPendingPersist(pending bool) {
	if pending {
		pendingPersist.Set(1)
		return
	}
	pendingPersist.Set(0)
}

// IncSnapshot records a backup run outcome.
func IncSnapshot(outcome string) {
	snapshotsTotal.WithLabelValues(outcome).Inc()
}

// ObserveSnapshot records the duration of a successful snapshot.
func ObserveSnapshot(d time.Duration) {
	snapshotDuration.Observe(d.Seconds())
}

// SetArchivesRetained publishes the archive count after pruning.
func SetArchivesRetained(n int) {
	archivesRetained.Set(float64(n))
}

// AddArchivesPruned counts deleted archives.
func AddArchivesPruned(n int) {
	archivesPruned.Add(float64(n))
}

// ObserveHTTPRequest records one operator API request. route is the matched
// pattern, never the raw path.
func ObserveHTTPRequest(method, route string, status int, d time.Duration) {
	httpRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}
