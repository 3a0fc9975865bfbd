package db

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	maintenanceRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainsync_maintenance_runs_total",
			Help: "Total number of maintenance passes run against the sync store",
		},
	)

	maintenanceOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainsync_maintenance_outcomes_total",
			Help: "Maintenance passes by outcome",
		},
		[]string{"status"},
	)

	maintenanceDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chainsync_maintenance_duration_seconds",
			Help:    "Duration of a maintenance pass",
			Buckets: prometheus.DefBuckets,
		},
	)

	maintenanceLastRun = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainsync_maintenance_last_run_timestamp",
			Help: "Unix timestamp of the last maintenance pass",
		},
	)

	maintenanceSpaceReclaimed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainsync_maintenance_space_reclaimed_bytes",
			Help: "Bytes reclaimed by the last maintenance pass",
		},
	)

	walCheckpoints = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainsync_wal_checkpoint_total",
			Help: "WAL checkpoints run, by mode",
		},
		[]string{"mode"},
	)

	vacuumRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainsync_vacuum_total",
			Help: "Total number of VACUUM operations",
		},
	)

	dbSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainsync_db_size_bytes",
			Help: "Sync store database file size in bytes",
		},
		[]string{"type"},
	)
)

func maintenanceRunsInc() {
	maintenanceRuns.Inc()
}

func maintenanceDurationObserve(d time.Duration) {
	maintenanceDuration.Observe(d.Seconds())
}

func maintenanceLastRunSet() {
	maintenanceLastRun.Set(float64(time.Now().UTC().Unix()))
}

func maintenanceErrorInc() {
	maintenanceOutcomes.WithLabelValues("error").Inc()
}

func maintenanceSuccessInc() {
	maintenanceOutcomes.WithLabelValues("success").Inc()
}

func maintenanceSpaceReclaimedSet(bytesReclaimed uint64) {
	maintenanceSpaceReclaimed.Set(float64(bytesReclaimed))
}

func walCheckpointInc(mode string) {
	walCheckpoints.WithLabelValues(mode).Inc()
}

func vacuumRunsInc() {
	vacuumRuns.Inc()
}

func dbSizeSet(sizeBytes int64) {
	dbSize.WithLabelValues("total").Set(float64(sizeBytes))
}
