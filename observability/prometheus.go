package observability

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

var _ MetricFactory = (*PrometheusFactory)(nil)

// PrometheusFactory creates Prometheus collectors for a MetricsExtension.
// Dotted metric names become underscored; counters get a _total suffix.
type PrometheusFactory struct {
	registerer prometheus.Registerer
}

// NewPrometheusFactory registers collectors with registerer, or with the
// default registerer when nil.
func NewPrometheusFactory(registerer prometheus.Registerer) *PrometheusFactory {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &PrometheusFactory{registerer: registerer}
}

// Counter implements MetricFactory.
func (f *PrometheusFactory) Counter(name string) Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Name: metricName(name) + "_total",
		Help: "Total " + name + " events",
	})
	return registerCollector(f.registerer, c)
}

// Histogram implements MetricFactory.
func (f *PrometheusFactory) Histogram(name string) Histogram {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    metricName(name),
		Help:    "Distribution of " + name,
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	})
	return registerCollector(f.registerer, h)
}

func metricName(name string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(name)
}

// registerCollector registers c, returning the existing collector when one
// with the same descriptor is already registered.
func registerCollector[T prometheus.Collector](registerer prometheus.Registerer, c T) T {
	if err := registerer.Register(c); err != nil {
		if alreadyRegisteredErr, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := alreadyRegisteredErr.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}
