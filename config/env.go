package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/velmie/drain"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DRAIN_"

// ApplyEnv overrides cfg with DRAIN_* variables read through getenv.
// Empty variables are ignored.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	e := envReader{getenv: getenv}

	e.setString("NAME", &cfg.Name)
	e.setInt("BATCH_SIZE", &cfg.BatchSize)
	e.setString("LOG_LEVEL", &cfg.Log.Level)
	e.setString("LOG_FORMAT", &cfg.Log.Format)
	e.setString("METRICS_ADDRESS", &cfg.Metrics.Address)
	e.setString("INGEST_ADDRESS", &cfg.Ingest.Address)
	e.setString("INGEST_PATH", &cfg.Ingest.Path)
	e.setDuration("BACKOFF_INCREMENT", &cfg.Runner.BackoffIncrement)
	e.setDuration("MAX_BACKOFF", &cfg.Runner.MaxBackoff)

	e.setString("CHANNEL_TYPE", &cfg.Channel.Type)
	e.setInt("MEMORY_CAPACITY", &cfg.Channel.Memory.Capacity)
	e.setInt("MEMORY_TRANSACTION_CAPACITY", &cfg.Channel.Memory.TransactionCapacity)
	e.setString("MYSQL_DSN", &cfg.Channel.MySQL.DSN)
	e.setString("MYSQL_TABLE", &cfg.Channel.MySQL.Table)
	e.setInt("MYSQL_PREFETCH", &cfg.Channel.MySQL.Prefetch)
	e.setDuration("MYSQL_CLEANUP_RETENTION", &cfg.Channel.MySQL.CleanupRetention)
	e.setDuration("MYSQL_CLEANUP_INTERVAL", &cfg.Channel.MySQL.CleanupInterval)
	e.setString("PEBBLE_DIR", &cfg.Channel.Pebble.Dir)
	e.setInt("PEBBLE_CAPACITY", &cfg.Channel.Pebble.Capacity)
	e.setList("KAFKA_BROKERS", &cfg.Channel.Kafka.Brokers)
	e.setString("KAFKA_TOPIC", &cfg.Channel.Kafka.Topic)
	e.setString("KAFKA_GROUP_ID", &cfg.Channel.Kafka.GroupID)
	e.setDuration("KAFKA_POLL_TIMEOUT", &cfg.Channel.Kafka.PollTimeout)

	e.setString("STORE_TYPE", &cfg.Store.Type)
	e.setString("MONGO_HOSTS", &cfg.Store.Mongo.Hosts)
	e.setString("MONGO_DATABASE", &cfg.Store.Mongo.Database)
	e.setString("MONGO_COLLECTION", &cfg.Store.Mongo.Collection)
	e.setBool("MONGO_AUTH_ENABLED", &cfg.Store.Mongo.AuthEnabled)
	e.setString("MONGO_USERNAME", &cfg.Store.Mongo.Username)
	e.setString("MONGO_PASSWORD", &cfg.Store.Mongo.Password)
	e.setString("MONGO_AUTH_SOURCE", &cfg.Store.Mongo.AuthSource)
	e.setDuration("MONGO_CONNECT_TIMEOUT", &cfg.Store.Mongo.ConnectTimeout)
	e.setString("HBASE_QUORUM", &cfg.Store.HBase.Quorum)
	e.setString("HBASE_TABLE", &cfg.Store.HBase.Table)
	e.setString("HBASE_FAMILY", &cfg.Store.HBase.Family)
	e.setList("HBASE_COLUMNS", &cfg.Store.HBase.Columns)
	e.setIntPtr("HBASE_ROW_KEY_INDEX", &cfg.Store.HBase.RowKeyIndex)
	e.setBool("HBASE_DEPOSIT_HEADERS", &cfg.Store.HBase.DepositHeaders)
	e.setDuration("HBASE_START_TIMEOUT", &cfg.Store.HBase.StartTimeout)

	return e.err
}

type envReader struct {
	getenv func(string) string
	err    error
}

func (e *envReader) lookup(key string) (string, bool) {
	if e.err != nil {
		return "", false
	}
	v := strings.TrimSpace(e.getenv(EnvPrefix + key))

	return v, v != ""
}

func (e *envReader) fail(key, value string, err error) {
	e.err = fmt.Errorf("%w: invalid %s%s=%q: %w", drain.ErrConfiguration, EnvPrefix, key, value, err)
}

func (e *envReader) setString(key string, dst *string) {
	if v, ok := e.lookup(key); ok {
		*dst = v
	}
}

func (e *envReader) setInt(key string, dst *int) {
	v, ok := e.lookup(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = n
}

func (e *envReader) setIntPtr(key string, dst **int) {
	v, ok := e.lookup(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = &n
}

func (e *envReader) setBool(key string, dst *bool) {
	v, ok := e.lookup(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = b
}

func (e *envReader) setDuration(key string, dst *time.Duration) {
	v, ok := e.lookup(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = d
}

func (e *envReader) setList(key string, dst *[]string) {
	v, ok := e.lookup(key)
	if !ok {
		return
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	*dst = out
}
