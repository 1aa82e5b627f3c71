package delegate

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsOnce        sync.Once
	handlersRegistered *prometheus.GaugeVec
	probeFailures      *prometheus.CounterVec
	capabilityFailures *prometheus.CounterVec
	dispatchTotal      *prometheus.CounterVec
)

func initMetrics() {
	metricsOnce.Do(func() {
		handlersRegistered = promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "coredelegate",
			Subsystem: "delegate",
			Name:      "handlers_registered",
			Help:      "Number of handlers registered in a delegate",
		}, []string{"delegate"})

		probeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coredelegate",
			Subsystem: "delegate",
			Name:      "probe_failures_total",
			Help:      "Enablement probes that failed or panicked",
		}, []string{"delegate"})

		capabilityFailures = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coredelegate",
			Subsystem: "delegate",
			Name:      "capability_failures_total",
			Help:      "Capability calls that failed or panicked",
		}, []string{"delegate"})

		dispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coredelegate",
			Subsystem: "delegate",
			Name:      "dispatch_total",
			Help:      "Capability dispatches by outcome",
		}, []string{"delegate", "result"})
	})
}
