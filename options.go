package drain

import "time"

const (
	// DefaultBatchSize is the number of events drained per cycle when unset.
	DefaultBatchSize = 100

	defaultBackoffIncrement = time.Second
	defaultMaxBackoff       = 5 * time.Second
)

// SinkConfig defines how a Sink drains its channel.
type SinkConfig struct {
	Name      string
	BatchSize int
	Logger    Logger
	Metrics   Metrics
	Counters  *Counters
	Clock     Clock

	batchSizeSet bool
}

func (c SinkConfig) withDefaults() SinkConfig {
	if c.Name == "" {
		c.Name = "sink"
	}
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Logger == nil {
		c.Logger = NopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = NopMetrics{}
	}
	if c.Counters == nil {
		c.Counters = NewCounters()
	}
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}

	return c
}

// Option configures Sink behavior.
type Option func(*SinkConfig)

// WithName sets the sink name used in log records.
func WithName(name string) Option {
	return func(c *SinkConfig) {
		c.Name = name
	}
}

// WithBatchSize sets the maximum number of events drained per cycle.
func WithBatchSize(size int) Option {
	return func(c *SinkConfig) {
		c.BatchSize = size
		c.batchSizeSet = true
	}
}

// WithLogger sets the sink logger.
func WithLogger(logger Logger) Option {
	return func(c *SinkConfig) {
		c.Logger = logger
	}
}

// WithMetrics sets the per-cycle metrics recorder.
func WithMetrics(metrics Metrics) Option {
	return func(c *SinkConfig) {
		c.Metrics = metrics
	}
}

// WithCounters shares an existing Counters value with the sink.
func WithCounters(counters *Counters) Option {
	return func(c *SinkConfig) {
		c.Counters = counters
	}
}

// WithClock sets the clock used to time drain cycles.
func WithClock(clock Clock) Option {
	return func(c *SinkConfig) {
		c.Clock = clock
	}
}

// RunnerConfig defines how a Runner schedules drain cycles.
type RunnerConfig struct {
	BackoffIncrement time.Duration
	MaxBackoff       time.Duration
	Logger           Logger
}

func (c RunnerConfig) withDefaults() RunnerConfig {
	if c.BackoffIncrement <= 0 {
		c.BackoffIncrement = defaultBackoffIncrement
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
	if c.MaxBackoff < c.BackoffIncrement {
		c.MaxBackoff = c.BackoffIncrement
	}
	if c.Logger == nil {
		c.Logger = NopLogger{}
	}

	return c
}

// RunnerOption configures Runner behavior.
type RunnerOption func(*RunnerConfig)

// WithBackoffIncrement sets how much the pause grows per consecutive backoff.
func WithBackoffIncrement(d time.Duration) RunnerOption {
	return func(c *RunnerConfig) {
		c.BackoffIncrement = d
	}
}

// WithMaxBackoff caps the pause between cycles.
func WithMaxBackoff(d time.Duration) RunnerOption {
	return func(c *RunnerConfig) {
		c.MaxBackoff = d
	}
}

// WithRunnerLogger sets the runner logger.
func WithRunnerLogger(logger Logger) RunnerOption {
	return func(c *RunnerConfig) {
		c.Logger = logger
	}
}
