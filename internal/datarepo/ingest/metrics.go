package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const MetricsPrefix = "datarepo_ingest_"

var (
	launchedFilesMetric = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: MetricsPrefix + "launched_files",
			Help: "Number of file ingest flights launched by load drivers",
		},
	)

	completedFilesMetric = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricsPrefix + "completed_files",
			Help: "Number of file ingest flights observed finished by load drivers",
		},
		[]string{"state"},
	)

	orphanedFilesMetric = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: MetricsPrefix + "orphaned_files",
			Help: "Number of running files reset because their flight was never submitted",
		},
	)

	budgetMetric = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: MetricsPrefix + "driver_budget",
			Help: "Most recent number of concurrent file ingests allowed per load",
		},
	)
)
