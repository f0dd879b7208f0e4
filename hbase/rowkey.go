package hbase

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync/atomic"

	"github.com/velmie/drain"
)

const (
	randomKeyLength = 10
	alphanumeric    = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// RowKeyGenerator produces row keys for events without a ROW_KEY column.
type RowKeyGenerator interface {
	RowKey() []byte
}

// TimestampKeyGenerator yields keys of the form <unix-millis>-<random>-<nonce>.
// The random part is fixed per generator and the nonce increments per key.
type TimestampKeyGenerator struct {
	clock  drain.Clock
	random string
	nonce  atomic.Uint64
}

// NewTimestampKeyGenerator draws the random key part from crypto/rand.
func NewTimestampKeyGenerator(clock drain.Clock) (*TimestampKeyGenerator, error) {
	if clock == nil {
		clock = drain.SystemClock{}
	}
	random, err := randomAlphanumeric(randomKeyLength)
	if err != nil {
		return nil, fmt.Errorf("drain hbase: generate row key prefix: %w", err)
	}

	return &TimestampKeyGenerator{clock: clock, random: random}, nil
}

// RowKey returns the next key.
func (g *TimestampKeyGenerator) RowKey() []byte {
	nonce := g.nonce.Add(1) - 1
	return []byte(fmt.Sprintf("%d-%s-%d", g.clock.Now().UnixMilli(), g.random, nonce))
}

func randomAlphanumeric(n int) (string, error) {
	max := big.NewInt(int64(len(alphanumeric)))
	buf := make([]byte, n)
	for i := range buf {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = alphanumeric[idx.Int64()]
	}

	return string(buf), nil
}
