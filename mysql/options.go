package mysql

import "github.com/velmie/drain"

const (
	defaultTable    = "drain_events"
	defaultPrefetch = 100
)

// Config defines MySQL channel behavior.
type Config struct {
	Table string
	// Prefetch is the number of rows locked per SELECT while taking events.
	Prefetch int
	Clock    drain.Clock
	// ValidateJSON rejects event bodies that are not valid JSON on Put.
	ValidateJSON bool
}

func (c Config) withDefaults() Config {
	if c.Table == "" {
		c.Table = defaultTable
	}
	if c.Prefetch == 0 {
		c.Prefetch = defaultPrefetch
	}
	if c.Clock == nil {
		c.Clock = drain.SystemClock{}
	}

	return c
}

// Option configures the MySQL channel.
type Option func(*Config)

// WithTable sets the event table name.
func WithTable(name string) Option {
	return func(c *Config) {
		c.Table = name
	}
}

// WithPrefetch sets how many pending rows a transaction locks per query.
// Set it to the sink batch size so a full batch needs a single query.
func WithPrefetch(n int) Option {
	return func(c *Config) {
		c.Prefetch = n
	}
}

// WithClock sets the time source used for drained_at.
func WithClock(clock drain.Clock) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}

// WithValidateJSON enables or disables JSON validation of event bodies on Put.
func WithValidateJSON(enabled bool) Option {
	return func(c *Config) {
		c.ValidateJSON = enabled
	}
}
