package logutil

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/velmie/drain"
)

func TestLoggerWritesJSONFields(t *testing.T) {
	var buf bytes.Buffer
	base, err := New(&buf, "info", "json")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	logger := Wrap(base, logrus.Fields{"sink": "orders"})

	logger.Debug("hidden")
	logger.Error("write failed", "count", 3, "err", errors.New("boom"), "dangling")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("expected exactly one JSON record, got %q: %v", buf.String(), err)
	}
	if record["msg"] != "write failed" || record["level"] != "error" {
		t.Fatalf("unexpected record: %v", record)
	}
	if record["sink"] != "orders" || record["count"] != float64(3) || record["err"] != "boom" || record["dangling"] != "<missing>" {
		t.Fatalf("unexpected fields: %v", record)
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New(&bytes.Buffer{}, "loud", "json"); !errors.Is(err, drain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
