package diagnostics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the Prometheus collectors updated by an enabled tracer.
type Metrics struct {
	ActionsTotal       *prometheus.CounterVec
	HandlerErrorsTotal *prometheus.CounterVec
	ViewErrorsTotal    *prometheus.CounterVec
	DispatchDepth      prometheus.Histogram
}

// NewMetrics registers the collectors with reg. Pass
// prometheus.DefaultRegisterer in a long-running process and a fresh
// prometheus.NewRegistry() in tests and one-shot commands.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "marty_actions_total",
			Help: "Total number of traced actions",
		}, []string{"type", "source"}),

		HandlerErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "marty_handler_errors_total",
			Help: "Number of store handler errors captured in traces",
		}, []string{"store", "handler"}),

		ViewErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "marty_view_errors_total",
			Help: "Number of view recompute errors captured in traces",
		}, []string{"view"}),

		DispatchDepth: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "marty_dispatch_depth",
			Help:    "Nesting depth at which traced actions were dispatched",
			Buckets: []float64{1, 2, 3, 5, 10, 25, 50, 100},
		}),
	}
}

func (m *Metrics) actionStarted(actionType, source string, depth int) {
	if m == nil {
		return
	}
	m.ActionsTotal.WithLabelValues(actionType, source).Inc()
	m.DispatchDepth.Observe(float64(depth))
}

func (m *Metrics) handlerFailed(store, handler string) {
	if m == nil {
		return
	}
	m.HandlerErrorsTotal.WithLabelValues(store, handler).Inc()
}

func (m *Metrics) viewFailed(view string) {
	if m == nil {
		return
	}
	m.ViewErrorsTotal.WithLabelValues(view).Inc()
}
