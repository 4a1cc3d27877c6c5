package chaindb

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var cacheRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "chaindb",
	Subsystem: "cache",
	Name:      "requests",
}, []string{"result"})

var cacheEvictions = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "chaindb",
	Subsystem: "cache",
	Name:      "evictions",
})

var cacheCellSize = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "chaindb",
	Subsystem: "cache",
	Name:      "cell_size_bytes",
}, []string{"cell"})

var journalFlushes = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "chaindb",
	Subsystem: "journal",
	Name:      "flushes",
}, []string{"scope"})

var journalWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "chaindb",
	Subsystem: "journal",
	Name:      "writes",
}, []string{"kind"})

var sessionOps = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "chaindb",
	Subsystem: "session",
	Name:      "operations",
}, []string{"op"})

// RegisterMetrics registers the engine metrics with reg; metrics which are
// already registered are skipped.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		cacheRequests,
		cacheEvictions,
		cacheCellSize,
		journalFlushes,
		journalWrites,
		sessionOps,
	} {
		err := reg.Register(c)
		if err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return err
			}
		}
	}
	return nil
}

func (cm *cacheMap) updateMetrics() {
	for kind, size := range cm.cellSizes() {
		cacheCellSize.WithLabelValues(kind.String()).Set(float64(size))
	}
}
