// Package analytics keeps hourly draw counters in Redis.
package analytics

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix        = "wichtel:draws"
	defaultRetention = 30 * 24 * time.Hour
)

type RedisSink struct {
	client    redis.Cmdable
	retention time.Duration
}

func NewRedisSink(client redis.Cmdable) *RedisSink {
	return &RedisSink{client: client, retention: defaultRetention}
}

// WithRetention sets how long an hourly bucket is kept.
func (s *RedisSink) WithRetention(d time.Duration) *RedisSink {
	if d > 0 {
		s.retention = d
	}
	return s
}

// RecordDraw counts one draw with the given outcome and the number of
// participants it covered in the hour bucket of at.
func (s *RedisSink) RecordDraw(ctx context.Context, outcome string, participants int, at time.Time) error {
	bucket := hourBucket(at)
	countKey := drawKey(outcome, bucket)
	participantsKey := participantsKey(outcome, bucket)

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, countKey)
	pipe.IncrBy(ctx, participantsKey, int64(participants))
	pipe.Expire(ctx, countKey, s.retention)
	pipe.Expire(ctx, participantsKey, s.retention)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

// Bucket is one hour of counters for an outcome.
type Bucket struct {
	Draws        int64
	Participants int64
}

// Read returns the counters of outcome for the hour containing at. Missing
// buckets read as zero.
func (s *RedisSink) Read(ctx context.Context, outcome string, at time.Time) (Bucket, error) {
	bucket := hourBucket(at)
	vals, err := s.client.MGet(ctx, drawKey(outcome, bucket), participantsKey(outcome, bucket)).Result()
	if err != nil {
		return Bucket{}, fmt.Errorf("redis mget: %w", err)
	}

	var b Bucket
	if b.Draws, err = asInt(vals[0]); err != nil {
		return Bucket{}, err
	}
	if b.Participants, err = asInt(vals[1]); err != nil {
		return Bucket{}, err
	}
	return b, nil
}

func asInt(v any) (int64, error) {
	switch v := v.(type) {
	case nil:
		return 0, nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("counter %q: %w", v, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("counter has unexpected type %T", v)
	}
}

func hourBucket(t time.Time) string {
	return t.UTC().Format("2006010215")
}

func drawKey(outcome, bucket string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, outcome, bucket)
}

func participantsKey(outcome, bucket string) string {
	return fmt.Sprintf("%s:%s:%s:participants", keyPrefix, outcome, bucket)
}
