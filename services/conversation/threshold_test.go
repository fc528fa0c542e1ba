package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThresholdFor(t *testing.T) {
	assert.InDelta(t, 0.685, ThresholdFor(0.75), 1e-9)
	assert.InDelta(t, 0.7, ThresholdFor(0.7), 1e-9)
	assert.InDelta(t, 0.61, ThresholdFor(1), 1e-9)
	assert.InDelta(t, 0.75, ThresholdFor(0), 1e-9)
}

func TestAdaptiveThreshold(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	now := t0
	a := NewAdaptiveThreshold(client, nil, func() time.Time { return now })
	ctx := context.Background()

	assert.InDelta(t, ThresholdFor(defaultAccuracy), a.Threshold(ctx, "t1"), 1e-9, "no samples")

	for i := 0; i < 4; i++ {
		a.RecordSample(ctx, "t1", true)
	}
	assert.InDelta(t, 0.61, a.Threshold(ctx, "t1"), 1e-9)

	a.RecordSample(ctx, "t1", false)
	a.RecordSample(ctx, "t1", false)
	a.RecordSample(ctx, "t1", false)
	a.RecordSample(ctx, "t1", false)
	assert.InDelta(t, ThresholdFor(0.5), a.Threshold(ctx, "t1"), 1e-9)

	assert.InDelta(t, ThresholdFor(defaultAccuracy), a.Threshold(ctx, "t2"), 1e-9, "tenants are independent")

	now = now.Add(25 * time.Hour)
	assert.InDelta(t, ThresholdFor(defaultAccuracy), a.Threshold(ctx, "t1"), 1e-9, "old samples fall out of the window")
	assert.Equal(t, 72*time.Hour, mr.TTL("nlu:calib:t1"))
}

func TestAdaptiveThreshold_CapsSamples(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	a := NewAdaptiveThreshold(client, nil, func() time.Time { return t0 })
	for i := 0; i < calibrationMaxSamples+20; i++ {
		a.RecordSample(context.Background(), "t1", true)
	}
	n, err := client.LLen(context.Background(), "nlu:calib:t1").Result()
	require.NoError(t, err)
	assert.EqualValues(t, calibrationMaxSamples, n)
}

func TestAdaptiveThreshold_RedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	a := NewAdaptiveThreshold(client, nil, nil)
	a.RecordSample(context.Background(), "t1", true)
	assert.InDelta(t, ThresholdFor(defaultAccuracy), a.Threshold(context.Background(), "t1"), 1e-9)
}

func TestStaticThreshold(t *testing.T) {
	s := StaticThreshold(0.6)
	s.RecordSample(context.Background(), "t1", false)
	assert.InDelta(t, 0.6, s.Threshold(context.Background(), "t1"), 1e-9)
}
