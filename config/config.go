// Package config loads the drain agent configuration from YAML, .env files and the environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/velmie/drain"
	"github.com/velmie/drain/memory"
)

// Channel types.
const (
	ChannelMemory = "memory"
	ChannelMySQL  = "mysql"
	ChannelPebble = "pebble"
	ChannelKafka  = "kafka"
)

// Store types.
const (
	StoreMongo = "mongo"
	StoreHBase = "hbase"
)

const (
	defaultName          = "drain"
	defaultLogLevel      = "info"
	defaultLogFormat     = "json"
	defaultHBaseRowIndex = -1
	defaultIngestPath    = "/events"
)

// Config is the agent configuration.
type Config struct {
	Name      string        `yaml:"name"`
	BatchSize int           `yaml:"batch_size"`
	Log       LogConfig     `yaml:"log"`
	Metrics   MetricsConfig `yaml:"metrics"`
	Ingest    IngestConfig  `yaml:"ingest"`
	Runner    RunnerConfig  `yaml:"runner"`
	Channel   ChannelConfig `yaml:"channel"`
	Store     StoreConfig   `yaml:"store"`
}

// LogConfig selects the logrus level and formatter.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Address is the listen address of the /metrics endpoint. Empty disables it.
	Address string `yaml:"address"`
}

// IngestConfig is the HTTP endpoint feeding memory and pebble channels, which
// only the agent process itself can write to.
type IngestConfig struct {
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

// RunnerConfig tunes the pause between unproductive cycles.
type RunnerConfig struct {
	BackoffIncrement time.Duration `yaml:"backoff_increment"`
	MaxBackoff       time.Duration `yaml:"max_backoff"`
}

// ChannelConfig selects the channel by Type and holds the settings of each kind.
type ChannelConfig struct {
	Type   string       `yaml:"type"`
	Memory MemoryConfig `yaml:"memory"`
	MySQL  MySQLConfig  `yaml:"mysql"`
	Pebble PebbleConfig `yaml:"pebble"`
	Kafka  KafkaConfig  `yaml:"kafka"`
}

// MemoryConfig limits the in-process channel.
type MemoryConfig struct {
	Capacity            int `yaml:"capacity"`
	TransactionCapacity int `yaml:"transaction_capacity"`
}

// TransactionLimit returns the configured transaction capacity or the channel default.
func (c MemoryConfig) TransactionLimit() int {
	if c.TransactionCapacity <= 0 {
		return memory.DefaultTransactionCapacity
	}

	return c.TransactionCapacity
}

// MySQLConfig locates the event table.
type MySQLConfig struct {
	DSN      string `yaml:"dsn"`
	Table    string `yaml:"table"`
	Prefetch int    `yaml:"prefetch"`
	// CleanupRetention enables removal of drained rows older than the retention.
	CleanupRetention time.Duration `yaml:"cleanup_retention"`
	CleanupInterval  time.Duration `yaml:"cleanup_interval"`
}

// PebbleConfig locates the local pebble database.
type PebbleConfig struct {
	Dir      string `yaml:"dir"`
	Capacity int    `yaml:"capacity"`
}

// KafkaConfig names the topic and consumer group to drain.
type KafkaConfig struct {
	Brokers     []string      `yaml:"brokers"`
	Topic       string        `yaml:"topic"`
	GroupID     string        `yaml:"group_id"`
	PollTimeout time.Duration `yaml:"poll_timeout"`
}

// StoreConfig selects the store by Type and holds the settings of each kind.
type StoreConfig struct {
	Type  string      `yaml:"type"`
	Mongo MongoConfig `yaml:"mongo"`
	HBase HBaseConfig `yaml:"hbase"`
}

// MongoConfig mirrors mongo.Config.
type MongoConfig struct {
	Hosts          string        `yaml:"hosts"`
	Database       string        `yaml:"database"`
	Collection     string        `yaml:"collection"`
	AuthEnabled    bool          `yaml:"auth_enabled"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	AuthSource     string        `yaml:"auth_source"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// HBaseConfig defines the target table and the JSON column layout.
type HBaseConfig struct {
	Quorum         string   `yaml:"quorum"`
	Table          string   `yaml:"table"`
	Family         string   `yaml:"family"`
	Columns        []string `yaml:"columns"`
	RowKeyIndex    *int     `yaml:"row_key_index"`
	DepositHeaders bool     `yaml:"deposit_headers"`
	// StartTimeout bounds the table check made when the agent starts.
	StartTimeout time.Duration `yaml:"start_timeout"`
}

// RowKey returns the configured row key index or -1.
func (c HBaseConfig) RowKey() int {
	if c.RowKeyIndex == nil {
		return defaultHBaseRowIndex
	}

	return *c.RowKeyIndex
}

// Load reads the configuration like Read and validates the result.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg, err := Read(path, envFiles...)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Read parses the optional YAML file at path, loads envFiles into the process
// environment, applies DRAIN_* overrides and fills defaults.
func Read(path string, envFiles ...string) (*Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: read config file: %w", drain.ErrConfiguration, err)
		}
		if err := Parse(b, &cfg); err != nil {
			return nil, err
		}
	}

	if err := LoadEnvFiles(envFiles...); err != nil {
		return nil, err
	}
	if err := ApplyEnv(&cfg, os.Getenv); err != nil {
		return nil, err
	}
	cfg = cfg.WithDefaults()

	return &cfg, nil
}

// Parse decodes YAML into cfg. Unknown keys are rejected.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: parse config: %w", drain.ErrConfiguration, err)
	}

	return nil
}

// LoadEnvFiles loads .env files without overriding variables already set.
// Missing files are skipped.
func LoadEnvFiles(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("%w: load env file %s: %w", drain.ErrConfiguration, f, err)
		}
	}

	return nil
}

// WithDefaults fills unset values.
func (c Config) WithDefaults() Config {
	if c.Name == "" {
		c.Name = defaultName
	}
	if c.BatchSize == 0 {
		c.BatchSize = drain.DefaultBatchSize
	}
	if c.Log.Level == "" {
		c.Log.Level = defaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = defaultLogFormat
	}
	if c.Ingest.Path == "" {
		c.Ingest.Path = defaultIngestPath
	}
	if c.Channel.Type == "" {
		c.Channel.Type = ChannelMySQL
	}
	if c.Store.Type == "" {
		c.Store.Type = StoreMongo
	}

	return c
}

// Validate reports every invalid setting, wrapped in drain.ErrConfiguration.
func (c Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.BatchSize <= 0 {
		fail("batch_size must be positive, got %d", c.BatchSize)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		fail("unknown log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		fail("unknown log format %q", c.Log.Format)
	}
	if c.Runner.BackoffIncrement < 0 || c.Runner.MaxBackoff < 0 {
		fail("runner backoff must not be negative")
	}

	if c.Ingest.Path != "" && !strings.HasPrefix(c.Ingest.Path, "/") {
		fail("ingest.path must start with /, got %q", c.Ingest.Path)
	}

	switch c.Channel.Type {
	case ChannelMemory, ChannelPebble:
		if c.Ingest.Address == "" {
			fail("ingest.address is required for %s channels", c.Channel.Type)
		}
	default:
		if c.Ingest.Address != "" {
			fail("ingest is only supported by memory and pebble channels")
		}
	}
	if c.Ingest.Address != "" && c.Ingest.Address == c.Metrics.Address {
		fail("ingest.address and metrics.address must differ")
	}

	switch c.Channel.Type {
	case ChannelMemory:
		if limit := c.Channel.Memory.TransactionLimit(); c.BatchSize > limit {
			fail("batch_size %d exceeds channel.memory.transaction_capacity %d", c.BatchSize, limit)
		}
	case ChannelMySQL:
		if c.Channel.MySQL.DSN == "" {
			fail("channel.mysql.dsn is required")
		}
		if c.Channel.MySQL.Prefetch < 0 {
			fail("channel.mysql.prefetch must not be negative")
		}
	case ChannelPebble:
		if c.Channel.Pebble.Dir == "" {
			fail("channel.pebble.dir is required")
		}
	case ChannelKafka:
		k := c.Channel.Kafka
		if len(k.Brokers) == 0 {
			fail("channel.kafka.brokers are required")
		}
		if k.Topic == "" {
			fail("channel.kafka.topic is required")
		}
		if k.GroupID == "" {
			fail("channel.kafka.group_id is required")
		}
	default:
		fail("unknown channel type %q", c.Channel.Type)
	}

	switch c.Store.Type {
	case StoreMongo:
		if c.Store.Mongo.Database == "" {
			fail("store.mongo.database is required")
		}
		if c.Store.Mongo.Collection == "" {
			fail("store.mongo.collection is required")
		}
	case StoreHBase:
		if c.Store.HBase.Quorum == "" {
			fail("store.hbase.quorum is required")
		}
		if c.Store.HBase.Table == "" {
			fail("store.hbase.table is required")
		}
		if c.Store.HBase.Family == "" {
			fail("store.hbase.family is required")
		}
	default:
		fail("unknown store type %q", c.Store.Type)
	}

	if len(errs) == 0 {
		return nil
	}

	return fmt.Errorf("%w: %w", drain.ErrConfiguration, errors.Join(errs...))
}
