package analytics

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	berlin := time.FixedZone("CET", 3600)
	at := time.Date(2026, 12, 24, 18, 45, 0, 0, berlin)

	bucket := hourBucket(at)
	assert.Equal(t, "2026122417", bucket, "buckets are UTC hours")
	assert.Equal(t, "wichtel:draws:completed:2026122417", drawKey("completed", bucket))
	assert.Equal(t, "wichtel:draws:infeasible:2026122417:participants", participantsKey("infeasible", bucket))
}

func TestAsInt(t *testing.T) {
	n, err := asInt(nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = asInt("42")
	require.NoError(t, err)
	assert.EqualValues(t, 42, n)

	_, err = asInt("forty-two")
	assert.Error(t, err)
}

func TestRedisSink_RecordDraw(t *testing.T) {
	addr := os.Getenv("WICHTEL_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("WICHTEL_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })

	ctx := context.Background()
	at := time.Date(2031, 1, 1, 3, 0, 0, 0, time.UTC)
	outcome := "test-" + time.Now().Format("150405.000000")
	t.Cleanup(func() {
		bucket := hourBucket(at)
		client.Del(ctx, drawKey(outcome, bucket), participantsKey(outcome, bucket))
	})

	sink := NewRedisSink(client).WithRetention(time.Hour)
	require.NoError(t, sink.RecordDraw(ctx, outcome, 5, at))
	require.NoError(t, sink.RecordDraw(ctx, outcome, 7, at.Add(30*time.Minute)))

	got, err := sink.Read(ctx, outcome, at)
	require.NoError(t, err)
	assert.Equal(t, Bucket{Draws: 2, Participants: 12}, got)

	ttl, err := client.TTL(ctx, drawKey(outcome, hourBucket(at))).Result()
	require.NoError(t, err)
	assert.True(t, ttl > 0 && ttl <= time.Hour)
}
