// Package ordernumber issues human-readable order numbers of the form
// PREFIX-YYYYMMDD-SUFFIX.
package ordernumber

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hoanghuydev/crm-laravel-sub000/internal/domain/order"
)

var _ order.NumberGenerator = (*Generator)(nil)

// DefaultPrefix is used when no prefix is configured.
const DefaultPrefix = "ORD"

// Sequence hands out increasing numbers per calendar day. When the day's
// counter does not exist, it starts after the value returned by seed.
type Sequence interface {
	Next(ctx context.Context, day string, seed SeedFunc) (int64, error)
}

// SeedFunc returns the highest sequence value already issued for a day.
type SeedFunc func(ctx context.Context) (int64, error)

// Ledger reports the highest numeric suffix among stored order numbers that
// start with prefix. Suffixes that are not decimal are ignored.
type Ledger interface {
	LastSequence(ctx context.Context, prefix string) (int64, error)
}

// Generator builds order numbers from the current UTC date and either a
// daily sequence (PREFIX-20250615-000042) or, without one, twelve random hex
// digits (PREFIX-20250615-3F2A9C01B7D4). The database enforces uniqueness
// in both cases; a lost sequence is reseeded from the ledger.
type Generator struct {
	prefix string
	seq    Sequence
	ledger Ledger
	now    func() time.Time
}

// New returns a Generator. seq and ledger may be nil.
func New(prefix string, seq Sequence, ledger Ledger) *Generator {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Generator{prefix: prefix, seq: seq, ledger: ledger, now: time.Now}
}

// Next implements order.NumberGenerator.
func (g *Generator) Next(ctx context.Context) (string, error) {
	day := g.now().UTC().Format("20060102")
	if g.seq == nil {
		suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
		return fmt.Sprintf("%s-%s-%s", g.prefix, day, strings.ToUpper(suffix)), nil
	}
	prefix := g.prefix + "-" + day + "-"
	n, err := g.seq.Next(ctx, day, func(ctx context.Context) (int64, error) {
		if g.ledger == nil {
			return 0, nil
		}
		return g.ledger.LastSequence(ctx, prefix)
	})
	if err != nil {
		return "", errors.Wrap(err, "next sequence value")
	}
	return fmt.Sprintf("%s%06d", prefix, n), nil
}

// incrExisting increments KEYS[1] and refreshes its expiry, or returns -1
// without creating it when the key is missing.
var incrExisting = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return -1
end
local n = redis.call("INCR", KEYS[1])
redis.call("EXPIRE", KEYS[1], ARGV[1])
return n
`)

// RedisSequence keeps one counter per day in Redis.
type RedisSequence struct {
	client    redis.Cmdable
	keyPrefix string
	ttl       time.Duration
}

// NewRedisSequence returns a Sequence stored under keys keyPrefix:YYYYMMDD.
// Keys expire two days after their last use.
func NewRedisSequence(client redis.Cmdable, keyPrefix string) *RedisSequence {
	return &RedisSequence{client: client, keyPrefix: keyPrefix, ttl: 48 * time.Hour}
}

// Next increments and returns the counter for day. A missing counter, for a
// new day or after Redis lost its data, is first set to the seed with SET NX
// so concurrent servers agree on the starting point.
func (s *RedisSequence) Next(ctx context.Context, day string, seed SeedFunc) (int64, error) {
	key := s.keyPrefix + ":" + day
	ttl := int64(s.ttl / time.Second)

	for range 2 {
		n, err := incrExisting.Run(ctx, s.client, []string{key}, ttl).Int64()
		if err != nil {
			return 0, errors.Wrapf(err, "incr %s", key)
		}
		if n > 0 {
			return n, nil
		}
		last, err := seed(ctx)
		if err != nil {
			return 0, errors.Wrapf(err, "seed %s", key)
		}
		if err := s.client.SetNX(ctx, key, last, s.ttl).Err(); err != nil {
			return 0, errors.Wrapf(err, "seed %s", key)
		}
	}
	return 0, errors.Errorf("counter %s disappeared while seeding", key)
}
