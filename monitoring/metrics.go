// Package monitoring defines a small metrics facade so the committee loop
// does not depend directly on any particular metrics backend.
package monitoring

// MetricFactory allows the creation of different types of metric.
type MetricFactory interface {
	NewCounter(name, help string, labelNames ...string) Counter
	NewGauge(name, help string, labelNames ...string) Gauge
}

// Counter is a metric class for numeric values that only increase.
type Counter interface {
	Inc(labelVals ...string)
	Add(val float64, labelVals ...string)
}

// Gauge is a metric class for numeric values that can go up and down.
type Gauge interface {
	Set(val float64, labelVals ...string)
}
