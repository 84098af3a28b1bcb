package ratelimit

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedisTokenBucketValidates(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer client.Close()

	_, err := NewRedisTokenBucket(nil, 10, time.Minute, "")
	require.Error(t, err)
	_, err = NewRedisTokenBucket(client, 0, time.Minute, "")
	require.Error(t, err)
	_, err = NewRedisTokenBucket(client, 10, 0, "")
	require.Error(t, err)

	limiter, err := NewRedisTokenBucket(client, 60, time.Minute, "")
	require.NoError(t, err)
	assert.Equal(t, "pixelnorm:ratelimit", limiter.keyPrefix)
	assert.InDelta(t, 0.001, limiter.refillPerMS, 1e-12)
	assert.Equal(t, 2*time.Minute, limiter.ttl)
}

func TestCostForBytes(t *testing.T) {
	const mib = 1 << 20

	assert.EqualValues(t, 1, CostForBytes(0, mib))
	assert.EqualValues(t, 1, CostForBytes(mib, mib))
	assert.EqualValues(t, 2, CostForBytes(mib+1, mib))
	assert.EqualValues(t, 10, CostForBytes(10*mib, mib))
	assert.EqualValues(t, 1, CostForBytes(10*mib, 0))
}

func TestClampCost(t *testing.T) {
	assert.EqualValues(t, 1, clampCost(0, 10))
	assert.EqualValues(t, 5, clampCost(5, 10))
	assert.EqualValues(t, 10, clampCost(50, 10))
}

func TestToInt64(t *testing.T) {
	for _, in := range []any{int64(7), 7, float64(7), "7"} {
		got, err := toInt64(in)
		require.NoError(t, err)
		assert.EqualValues(t, 7, got)
	}

	_, err := toInt64("seven")
	require.Error(t, err)
	_, err = toInt64([]byte("7"))
	require.Error(t, err)
}
