package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/velmie/drain"
)

const sampleYAML = `
name: orders
batch_size: 50
log:
  level: debug
metrics:
  address: ":9100"
runner:
  backoff_increment: 2s
  max_backoff: 10s
channel:
  type: kafka
  kafka:
    brokers: ["k1:9092", "k2:9092"]
    topic: events
    group_id: drain
    poll_timeout: 250ms
store:
  type: hbase
  hbase:
    quorum: zk1
    table: events
    family: d
    columns: [ROW_KEY, payload]
    row_key_index: 0
    deposit_headers: true
`

func TestParseYAML(t *testing.T) {
	var cfg Config
	if err := Parse([]byte(sampleYAML), &cfg); err != nil {
		t.Fatalf("parse: %v", err)
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if cfg.Name != "orders" || cfg.BatchSize != 50 || cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Fatalf("unexpected top level: %+v", cfg)
	}
	if cfg.Runner.BackoffIncrement != 2*time.Second || cfg.Runner.MaxBackoff != 10*time.Second {
		t.Fatalf("unexpected runner: %+v", cfg.Runner)
	}
	k := cfg.Channel.Kafka
	if len(k.Brokers) != 2 || k.Topic != "events" || k.GroupID != "drain" || k.PollTimeout != 250*time.Millisecond {
		t.Fatalf("unexpected kafka: %+v", k)
	}
	h := cfg.Store.HBase
	if h.RowKey() != 0 || !h.DepositHeaders || len(h.Columns) != 2 || h.Family != "d" {
		t.Fatalf("unexpected hbase: %+v", h)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	var cfg Config
	err := Parse([]byte("batchsize: 10\n"), &cfg)
	if !errors.Is(err, drain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestParseEmpty(t *testing.T) {
	var cfg Config
	if err := Parse(nil, &cfg); err != nil {
		t.Fatalf("expected empty document to parse, got %v", err)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Config{}.WithDefaults()
	if cfg.BatchSize != drain.DefaultBatchSize || cfg.Name != "drain" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Channel.Type != ChannelMySQL || cfg.Store.Type != StoreMongo {
		t.Fatalf("unexpected default types: %s %s", cfg.Channel.Type, cfg.Store.Type)
	}
	if cfg.Store.HBase.RowKey() != -1 {
		t.Fatalf("expected row key index -1")
	}
}

func TestValidateReportsMissingSettings(t *testing.T) {
	cases := map[string]struct {
		cfg  Config
		want string
	}{
		"mongo database": {
			cfg:  Config{Channel: ChannelConfig{Type: ChannelMemory}, Store: StoreConfig{Type: StoreMongo, Mongo: MongoConfig{Collection: "c"}}},
			want: "store.mongo.database",
		},
		"mongo collection": {
			cfg:  Config{Channel: ChannelConfig{Type: ChannelMemory}, Store: StoreConfig{Type: StoreMongo, Mongo: MongoConfig{Database: "d"}}},
			want: "store.mongo.collection",
		},
		"hbase family": {
			cfg:  Config{Channel: ChannelConfig{Type: ChannelMemory}, Store: StoreConfig{Type: StoreHBase, HBase: HBaseConfig{Quorum: "zk", Table: "t"}}},
			want: "store.hbase.family",
		},
		"hbase table": {
			cfg:  Config{Channel: ChannelConfig{Type: ChannelMemory}, Store: StoreConfig{Type: StoreHBase, HBase: HBaseConfig{Quorum: "zk", Family: "f"}}},
			want: "store.hbase.table",
		},
		"mysql dsn": {
			cfg:  Config{Store: StoreConfig{Mongo: MongoConfig{Database: "d", Collection: "c"}}},
			want: "channel.mysql.dsn",
		},
		"pebble dir": {
			cfg:  Config{Channel: ChannelConfig{Type: ChannelPebble}, Store: StoreConfig{Mongo: MongoConfig{Database: "d", Collection: "c"}}},
			want: "channel.pebble.dir",
		},
		"kafka topic": {
			cfg:  Config{Channel: ChannelConfig{Type: ChannelKafka, Kafka: KafkaConfig{Brokers: []string{"b"}, GroupID: "g"}}, Store: StoreConfig{Mongo: MongoConfig{Database: "d", Collection: "c"}}},
			want: "channel.kafka.topic",
		},
		"channel type": {
			cfg:  Config{Channel: ChannelConfig{Type: "redis"}, Store: StoreConfig{Mongo: MongoConfig{Database: "d", Collection: "c"}}},
			want: `unknown channel type "redis"`,
		},
		"batch size": {
			cfg:  Config{BatchSize: -1, Channel: ChannelConfig{Type: ChannelMemory}, Store: StoreConfig{Mongo: MongoConfig{Database: "d", Collection: "c"}}},
			want: "batch_size must be positive",
		},
		"memory transaction capacity": {
			cfg:  Config{BatchSize: 150, Ingest: IngestConfig{Address: ":8080"}, Channel: ChannelConfig{Type: ChannelMemory}, Store: StoreConfig{Mongo: MongoConfig{Database: "d", Collection: "c"}}},
			want: "batch_size 150 exceeds channel.memory.transaction_capacity 100",
		},
		"memory ingest": {
			cfg:  Config{Channel: ChannelConfig{Type: ChannelMemory}, Store: StoreConfig{Mongo: MongoConfig{Database: "d", Collection: "c"}}},
			want: "ingest.address is required for memory channels",
		},
		"pebble ingest": {
			cfg:  Config{Channel: ChannelConfig{Type: ChannelPebble, Pebble: PebbleConfig{Dir: "/tmp/d"}}, Store: StoreConfig{Mongo: MongoConfig{Database: "d", Collection: "c"}}},
			want: "ingest.address is required for pebble channels",
		},
		"ingest without local channel": {
			cfg:  Config{Ingest: IngestConfig{Address: ":8080"}, Channel: ChannelConfig{Type: ChannelKafka, Kafka: KafkaConfig{Brokers: []string{"b"}, Topic: "t", GroupID: "g"}}, Store: StoreConfig{Mongo: MongoConfig{Database: "d", Collection: "c"}}},
			want: "ingest is only supported by memory and pebble channels",
		},
		"ingest path": {
			cfg:  Config{Ingest: IngestConfig{Address: ":8080", Path: "events"}, Channel: ChannelConfig{Type: ChannelMemory}, Store: StoreConfig{Mongo: MongoConfig{Database: "d", Collection: "c"}}},
			want: "ingest.path must start with /",
		},
		"log level": {
			cfg:  Config{Log: LogConfig{Level: "loud"}, Channel: ChannelConfig{Type: ChannelMemory}, Store: StoreConfig{Mongo: MongoConfig{Database: "d", Collection: "c"}}},
			want: "unknown log level",
		},
	}

	for name, tc := range cases {
		err := tc.cfg.WithDefaults().Validate()
		if !errors.Is(err, drain.ErrConfiguration) {
			t.Fatalf("%s: expected configuration error, got %v", name, err)
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: expected %q in %q", name, tc.want, err.Error())
		}
	}
}

func TestValidateMemoryTransactionCapacity(t *testing.T) {
	cfg := Config{
		BatchSize: 150,
		Ingest:    IngestConfig{Address: ":8080"},
		Channel:   ChannelConfig{Type: ChannelMemory, Memory: MemoryConfig{Capacity: 1000, TransactionCapacity: 150}},
		Store:     StoreConfig{Mongo: MongoConfig{Database: "d", Collection: "c"}},
	}.WithDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected batch size within transaction capacity to validate, got %v", err)
	}
	if cfg.Ingest.Path != "/events" {
		t.Fatalf("expected default ingest path, got %q", cfg.Ingest.Path)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"DRAIN_BATCH_SIZE":          "7",
		"DRAIN_CHANNEL_TYPE":        "pebble",
		"DRAIN_PEBBLE_DIR":          "/var/lib/drain",
		"DRAIN_KAFKA_BROKERS":       "a:1, b:2,",
		"DRAIN_MONGO_AUTH_ENABLED":  "true",
		"DRAIN_HBASE_ROW_KEY_INDEX": "1",
		"DRAIN_MAX_BACKOFF":         "3s",
		"DRAIN_LOG_LEVEL":           "  ",
		"DRAIN_INGEST_ADDRESS":      ":8080",

		"DRAIN_MEMORY_TRANSACTION_CAPACITY": "250",
	}
	cfg := Config{Log: LogConfig{Level: "warn"}}
	if err := ApplyEnv(&cfg, func(k string) string { return env[k] }); err != nil {
		t.Fatalf("apply env: %v", err)
	}

	if cfg.BatchSize != 7 || cfg.Channel.Type != "pebble" || cfg.Channel.Pebble.Dir != "/var/lib/drain" {
		t.Fatalf("unexpected overrides: %+v", cfg)
	}
	if len(cfg.Channel.Kafka.Brokers) != 2 || cfg.Channel.Kafka.Brokers[1] != "b:2" {
		t.Fatalf("unexpected brokers: %v", cfg.Channel.Kafka.Brokers)
	}
	if !cfg.Store.Mongo.AuthEnabled || cfg.Store.HBase.RowKey() != 1 || cfg.Runner.MaxBackoff != 3*time.Second {
		t.Fatalf("unexpected overrides: %+v", cfg)
	}
	if cfg.Ingest.Address != ":8080" || cfg.Channel.Memory.TransactionCapacity != 250 {
		t.Fatalf("unexpected ingest or memory overrides: %+v %+v", cfg.Ingest, cfg.Channel.Memory)
	}
	if cfg.Log.Level != "warn" {
		t.Fatalf("blank variable must not override, got %q", cfg.Log.Level)
	}
}

func TestApplyEnvInvalid(t *testing.T) {
	for key, value := range map[string]string{
		"DRAIN_BATCH_SIZE":         "ten",
		"DRAIN_MONGO_AUTH_ENABLED": "maybe",
		"DRAIN_MAX_BACKOFF":        "5",
	} {
		var cfg Config
		err := ApplyEnv(&cfg, func(k string) string {
			if k == key {
				return value
			}
			return ""
		})
		if !errors.Is(err, drain.ErrConfiguration) || !strings.Contains(err.Error(), key) {
			t.Fatalf("%s: expected configuration error naming the variable, got %v", key, err)
		}
	}
}

func TestLoadFileAndEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "drain.yaml")
	yaml := "ingest:\n  address: \":8080\"\nchannel:\n  type: memory\nstore:\n  mongo:\n    database: events\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("DRAIN_MONGO_COLLECTION=raw\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("DRAIN_MONGO_COLLECTION", "")
	os.Unsetenv("DRAIN_MONGO_COLLECTION")

	cfg, err := Load(path, envPath, filepath.Join(dir, "missing.env"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Mongo.Database != "events" || cfg.Store.Mongo.Collection != "raw" {
		t.Fatalf("unexpected mongo config: %+v", cfg.Store.Mongo)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if !errors.Is(err, drain.ErrConfiguration) || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected configuration error wrapping not-exist, got %v", err)
	}
}
