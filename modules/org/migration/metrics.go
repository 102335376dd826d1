package migration

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeCreated    = "created"
	outcomeExisting   = "existing"
	outcomeFailed     = "failed"
	outcomeUnitFailed = "unit_failed"
)

var (
	orgMigrationRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "org",
		Subsystem: "migration",
		Name:      "rows_total",
		Help:      "Total number of legacy rows processed broken down by outcome.",
	}, []string{"outcome"})

	orgMigrationRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "org",
		Subsystem: "migration",
		Name:      "runs_total",
		Help:      "Total number of legacy migration runs broken down by mode and result.",
	}, []string{"dry_run", "result"})
)

func recordRow(outcome string) {
	orgMigrationRows.WithLabelValues(outcome).Inc()
}

func recordRun(dryRun bool, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	orgMigrationRuns.WithLabelValues(strconv.FormatBool(dryRun), result).Inc()
}
