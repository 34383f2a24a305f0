package monitoring

// InertMetricFactory produces metrics that silently discard all values.
// Used as the default when the caller does not wire a real backend.
type InertMetricFactory struct{}

// NewCounter returns a Counter that discards all updates.
func (InertMetricFactory) NewCounter(name, help string, labelNames ...string) Counter {
	return inertCounter{}
}

// NewGauge returns a Gauge that discards all updates.
func (InertMetricFactory) NewGauge(name, help string, labelNames ...string) Gauge {
	return inertGauge{}
}

type inertCounter struct{}

func (inertCounter) Inc(labelVals ...string)            {}
func (inertCounter) Add(val float64, labelVals ...string) {}

type inertGauge struct{}

func (inertGauge) Set(val float64, labelVals ...string) {}
