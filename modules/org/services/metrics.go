package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	orgCommissionCalculations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "org",
		Subsystem: "commission",
		Name:      "calculations_total",
		Help:      "Total number of commission distributions broken down by result.",
	}, []string{"result"})

	orgConflictsFound = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "org",
		Subsystem: "analyzer",
		Name:      "conflicts_total",
		Help:      "Total number of hierarchy conflicts reported broken down by type.",
	}, []string{"type"})

	orgWriteConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "org",
		Subsystem: "write",
		Name:      "conflicts_total",
		Help:      "Total number of Org write conflicts broken down by kind.",
	}, []string{"kind"})

	orgStructuralWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "org",
		Subsystem: "write",
		Name:      "operations_total",
		Help:      "Total number of structural writes broken down by operation and result.",
	}, []string{"operation", "result"})
)

func recordCommissionCalculation(result string) {
	if result == "" {
		result = "other"
	}
	orgCommissionCalculations.WithLabelValues(result).Inc()
}

func recordConflict(t ConflictType) {
	orgConflictsFound.WithLabelValues(string(t)).Inc()
}

func recordWriteConflict(kind string) {
	if kind == "" {
		kind = "other"
	}
	orgWriteConflicts.WithLabelValues(kind).Inc()
}

func recordStructuralWrite(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	orgStructuralWrites.WithLabelValues(operation, result).Inc()
}
