// Package hbase maps JSON events onto HBase row mutations and writes them with gohbase.
package hbase

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/velmie/drain"
)

const (
	// RowKeyColumn names the column whose JSON value becomes the row key.
	RowKeyColumn = "ROW_KEY"

	defaultColumn = "payload"
)

var (
	// ErrInvalidJSON is returned when an event body is not a JSON object.
	ErrInvalidJSON = errors.New("drain hbase: event body is not a JSON object")
	// ErrColumnCount is returned when the number of object fields differs from the columns.
	ErrColumnCount = errors.New("drain hbase: field count does not match columns")
	// ErrMissingColumn is returned when a configured column is absent from the object.
	ErrMissingColumn = errors.New("drain hbase: column missing from event")
	// ErrEmptyRowKey is returned when the row key column or a mutation has an empty key.
	ErrEmptyRowKey = errors.New("drain hbase: row key is empty")
)

// Cell is one qualifier/value pair of a mutation.
type Cell struct {
	Qualifier string
	Value     []byte
}

// Mutation is a single row put.
type Mutation struct {
	RowKey []byte
	Family string
	Cells  []Cell
}

// Values returns the cells in the family -> qualifier -> value form gohbase expects.
func (m Mutation) Values() map[string]map[string][]byte {
	qualifiers := make(map[string][]byte, len(m.Cells))
	for _, c := range m.Cells {
		qualifiers[c.Qualifier] = c.Value
	}

	return map[string]map[string][]byte{m.Family: qualifiers}
}

// SerializerOption configures a Serializer.
type SerializerOption func(*Serializer)

// WithColumns sets the column names matched against event fields.
func WithColumns(columns ...string) SerializerOption {
	return func(s *Serializer) {
		s.columns = append([]string(nil), columns...)
	}
}

// WithRowKeyIndex selects the column holding the row key. -1 disables it.
func WithRowKeyIndex(index int) SerializerOption {
	return func(s *Serializer) {
		s.rowKeyIndex = index
	}
}

// WithDepositHeaders writes event headers as additional cells.
func WithDepositHeaders(deposit bool) SerializerOption {
	return func(s *Serializer) {
		s.depositHeaders = deposit
	}
}

// WithRowKeyGenerator sets the generator used when no row key column is configured.
func WithRowKeyGenerator(gen RowKeyGenerator) SerializerOption {
	return func(s *Serializer) {
		s.keys = gen
	}
}

// Serializer converts a JSON object event into a Mutation.
type Serializer struct {
	family         string
	columns        []string
	rowKeyIndex    int
	depositHeaders bool
	keys           RowKeyGenerator
}

// NewSerializer validates the column layout for family.
func NewSerializer(family string, opts ...SerializerOption) (*Serializer, error) {
	s := &Serializer{
		family:      family,
		columns:     []string{defaultColumn},
		rowKeyIndex: -1,
	}
	for _, opt := range opts {
		opt(s)
	}

	if strings.TrimSpace(s.family) == "" {
		return nil, fmt.Errorf("%w: hbase column family is required", drain.ErrConfiguration)
	}
	if len(s.columns) == 0 {
		return nil, fmt.Errorf("%w: hbase columns are required", drain.ErrConfiguration)
	}
	seen := make(map[string]struct{}, len(s.columns))
	for i, c := range s.columns {
		c = strings.TrimSpace(c)
		if c == "" {
			return nil, fmt.Errorf("%w: hbase column %d is empty", drain.ErrConfiguration, i)
		}
		if _, dup := seen[c]; dup {
			return nil, fmt.Errorf("%w: hbase column %q is listed twice", drain.ErrConfiguration, c)
		}
		seen[c] = struct{}{}
		s.columns[i] = c
	}
	if s.rowKeyIndex < -1 || s.rowKeyIndex >= len(s.columns) {
		return nil, fmt.Errorf("%w: hbase row key index %d out of range", drain.ErrConfiguration, s.rowKeyIndex)
	}
	if s.rowKeyIndex >= 0 && !strings.EqualFold(s.columns[s.rowKeyIndex], RowKeyColumn) {
		return nil, fmt.Errorf("%w: hbase column %d must be %s", drain.ErrConfiguration, s.rowKeyIndex, RowKeyColumn)
	}
	if s.rowKeyIndex < 0 && s.keys == nil {
		gen, err := NewTimestampKeyGenerator(drain.SystemClock{})
		if err != nil {
			return nil, err
		}
		s.keys = gen
	}

	return s, nil
}

// Columns returns the configured column names.
func (s *Serializer) Columns() []string {
	return append([]string(nil), s.columns...)
}

// Serialize maps the event fields onto cells of one row.
// The object must carry exactly one field per configured column.
func (s *Serializer) Serialize(event drain.Event) (Mutation, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(event.Body, &fields); err != nil {
		return Mutation{}, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if fields == nil {
		return Mutation{}, fmt.Errorf("%w: got null", ErrInvalidJSON)
	}
	if len(fields) != len(s.columns) {
		return Mutation{}, fmt.Errorf("%w: got %d fields, want %d", ErrColumnCount, len(fields), len(s.columns))
	}

	m := Mutation{Family: s.family, Cells: make([]Cell, 0, len(s.columns)+len(event.Headers))}
	for i, column := range s.columns {
		raw, ok := fields[column]
		if !ok {
			return Mutation{}, fmt.Errorf("%w: %s", ErrMissingColumn, column)
		}
		value := cellValue(raw)
		if i == s.rowKeyIndex {
			if len(value) == 0 {
				return Mutation{}, ErrEmptyRowKey
			}
			m.RowKey = value
			continue
		}
		m.Cells = append(m.Cells, Cell{Qualifier: column, Value: value})
	}
	if m.RowKey == nil {
		m.RowKey = s.keys.RowKey()
	}

	if s.depositHeaders {
		keys := make([]string, 0, len(event.Headers))
		for k := range event.Headers {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			m.Cells = append(m.Cells, Cell{Qualifier: k, Value: []byte(event.Headers[k])})
		}
	}

	return m, nil
}

// cellValue stores strings unquoted and every other JSON value, null included,
// as its text.
func cellValue(raw json.RawMessage) []byte {
	raw = bytes.TrimSpace(raw)
	if bytes.Equal(raw, []byte("null")) {
		return []byte("null")
	}

	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return []byte(str)
	}

	return raw
}
