package drain

import "time"

// Metrics receives per-cycle telemetry in addition to Counters.
type Metrics interface {
	// ObserveBatchDuration records the time spent in a successful drain cycle.
	ObserveBatchDuration(duration time.Duration)
	// ObserveBatchSize records the number of events written by a successful drain cycle.
	ObserveBatchSize(count int)
}

// NopMetrics is a no-op metrics recorder.
type NopMetrics struct{}

// ObserveBatchDuration implements Metrics.
func (NopMetrics) ObserveBatchDuration(time.Duration) {}

// ObserveBatchSize implements Metrics.
func (NopMetrics) ObserveBatchSize(int) {}
