package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// CoreMetrics records draft-composer and submission activity.
type CoreMetrics struct {
	DraftsCreated     prometheus.Counter
	StepTransitions   *prometheus.CounterVec
	ValidationBlocks  *prometheus.CounterVec
	Submissions       *prometheus.CounterVec
	SubmissionLatency prometheus.Histogram
	PriceRefreshes    prometheus.Counter
}

var (
	coreMetricsOnce sync.Once
	coreRegistry    *CoreMetrics
)

// Core returns the lazily-initialised metrics set registered against the
// default prometheus registry.
func Core() *CoreMetrics {
	coreMetricsOnce.Do(func() {
		coreRegistry = newCoreMetrics(prometheus.DefaultRegisterer)
	})
	return coreRegistry
}

// NewCoreMetrics builds a metrics set against the supplied registerer, so
// tests can use an isolated registry.
func NewCoreMetrics(reg prometheus.Registerer) *CoreMetrics {
	return newCoreMetrics(reg)
}

func newCoreMetrics(reg prometheus.Registerer) *CoreMetrics {
	m := &CoreMetrics{
		DraftsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "condor",
			Name:      "drafts_created_total",
			Help:      "Draft sessions opened.",
		}),
		StepTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "condor",
			Name:      "step_transitions_total",
			Help:      "Wizard step transitions by direction.",
		}, []string{"step", "direction"}),
		ValidationBlocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "condor",
			Name:      "validation_blocks_total",
			Help:      "Step advances rejected by a validation gate.",
		}, []string{"step"}),
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "condor",
			Name:      "submissions_total",
			Help:      "Order submissions by outcome.",
		}, []string{"outcome"}),
		SubmissionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "condor",
			Name:      "submission_duration_seconds",
			Help:      "Latency of order-engine submission calls.",
			Buckets:   prometheus.DefBuckets,
		}),
		PriceRefreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "condor",
			Name:      "price_refreshes_total",
			Help:      "Completed price refresh cycles.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Collectors()...)
	}
	return m
}

// Collectors returns every collector in the set so it can also be registered
// on a scrape registry, such as the gateway's.
func (m *CoreMetrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.DraftsCreated,
		m.StepTransitions,
		m.ValidationBlocks,
		m.Submissions,
		m.SubmissionLatency,
		m.PriceRefreshes,
	}
}
