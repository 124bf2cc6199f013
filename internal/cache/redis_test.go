package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockRedisClient is a mock for the Redis commands used by RedisStore
type MockRedisClient struct {
	mock.Mock
}

func (m *MockRedisClient) Get(ctx context.Context, key string) *redis.StringCmd {
	args := m.Called(ctx, key)
	cmd := redis.NewStringCmd(ctx)
	if err := args.Error(1); err != nil {
		cmd.SetErr(err)
	} else {
		cmd.SetVal(args.String(0))
	}
	return cmd
}

func (m *MockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	args := m.Called(ctx, key, value, expiration)
	cmd := redis.NewStatusCmd(ctx)
	if err := args.Error(0); err != nil {
		cmd.SetErr(err)
	} else {
		cmd.SetVal("OK")
	}
	return cmd
}

func (m *MockRedisClient) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	args := m.Called(ctx, keys)
	cmd := redis.NewIntCmd(ctx)
	if err := args.Error(0); err != nil {
		cmd.SetErr(err)
	} else {
		cmd.SetVal(int64(len(keys)))
	}
	return cmd
}

func (m *MockRedisClient) Keys(ctx context.Context, pattern string) *redis.StringSliceCmd {
	args := m.Called(ctx, pattern)
	cmd := redis.NewStringSliceCmd(ctx)
	if err := args.Error(1); err != nil {
		cmd.SetErr(err)
	} else {
		cmd.SetVal(args.Get(0).([]string))
	}
	return cmd
}

func (m *MockRedisClient) StrLen(ctx context.Context, key string) *redis.IntCmd {
	args := m.Called(ctx, key)
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(int64(args.Int(0)))
	return cmd
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	opts := Options{Expiry: time.Hour, Now: clock.Now}

	t.Run("put sets value with expiry ttl", func(t *testing.T) {
		client := new(MockRedisClient)
		store := NewRedisStore(client, "test:", opts, quietLogger())

		client.On("Set", ctx, "test:search:laptop", mock.MatchedBy(func(v interface{}) bool {
			data, ok := v.([]byte)
			if !ok {
				return false
			}
			entry, err := decodeEnvelope("search:laptop", data)
			return err == nil && string(entry.Payload) == `["B1"]`
		}), time.Hour).Return(nil)

		require.NoError(t, store.Put(ctx, "search:laptop", []byte(`["B1"]`)))
		client.AssertExpectations(t)
	})

	t.Run("get decodes a fresh entry", func(t *testing.T) {
		client := new(MockRedisClient)
		store := NewRedisStore(client, "test:", opts, quietLogger())

		data, err := encodeEnvelope("search:laptop", []byte(`["B1"]`), clock.Now())
		require.NoError(t, err)
		client.On("Get", ctx, "test:search:laptop").Return(string(data), nil)

		entry, ok := store.Get(ctx, "search:laptop")
		require.True(t, ok)
		assert.Equal(t, `["B1"]`, string(entry.Payload))

		stats := Stats{}
		store.fill(&stats)
		assert.Equal(t, int64(1), stats.HitCount)
	})

	t.Run("missing key is a miss", func(t *testing.T) {
		client := new(MockRedisClient)
		store := NewRedisStore(client, "test:", opts, quietLogger())

		client.On("Get", ctx, "test:nope").Return("", redis.Nil)

		_, ok := store.Get(ctx, "nope")
		assert.False(t, ok)
	})

	t.Run("connection error is a miss", func(t *testing.T) {
		client := new(MockRedisClient)
		store := NewRedisStore(client, "test:", opts, quietLogger())

		client.On("Get", ctx, "test:k").Return("", errors.New("connection refused"))

		_, ok := store.Get(ctx, "k")
		assert.False(t, ok)
	})

	t.Run("corrupt and stale values are misses", func(t *testing.T) {
		client := new(MockRedisClient)
		store := NewRedisStore(client, "test:", opts, quietLogger())

		stale, err := encodeEnvelope("old", []byte("x"), clock.Now().Add(-2*time.Hour))
		require.NoError(t, err)
		client.On("Get", ctx, "test:garbage").Return("{{{", nil)
		client.On("Get", ctx, "test:old").Return(string(stale), nil)

		_, ok := store.Get(ctx, "garbage")
		assert.False(t, ok)
		_, ok = store.Get(ctx, "old")
		assert.False(t, ok)
	})

	t.Run("invalidate deletes prefixed keys", func(t *testing.T) {
		client := new(MockRedisClient)
		store := NewRedisStore(client, "test:", opts, quietLogger())

		client.On("Keys", ctx, "test:*").Return([]string{"test:a", "test:b"}, nil).Once()
		client.On("Del", ctx, []string{"test:a", "test:b"}).Return(nil).Once()
		client.On("Keys", ctx, "test:*").Return([]string{}, nil).Once()

		require.NoError(t, store.InvalidateAll(ctx))
		require.NoError(t, store.InvalidateAll(ctx))
		client.AssertExpectations(t)
	})

	t.Run("stats sums value sizes", func(t *testing.T) {
		client := new(MockRedisClient)
		store := NewRedisStore(client, "test:", opts, quietLogger())

		client.On("Keys", ctx, "test:*").Return([]string{"test:a", "test:b"}, nil)
		client.On("StrLen", ctx, "test:a").Return(100)
		client.On("StrLen", ctx, "test:b").Return(50)

		stats, err := store.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, stats.EntryCount)
		assert.Equal(t, int64(150), stats.TotalSizeBytes)
	})

	t.Run("prune removes only stale keys", func(t *testing.T) {
		client := new(MockRedisClient)
		store := NewRedisStore(client, "test:", opts, quietLogger())

		fresh, err := encodeEnvelope("fresh", []byte("x"), clock.Now())
		require.NoError(t, err)
		stale, err := encodeEnvelope("stale", []byte("x"), clock.Now().Add(-3*time.Hour))
		require.NoError(t, err)

		client.On("Keys", ctx, "test:*").Return([]string{"test:fresh", "test:stale"}, nil)
		client.On("Get", ctx, "test:fresh").Return(string(fresh), nil)
		client.On("Get", ctx, "test:stale").Return(string(stale), nil)
		client.On("Del", ctx, []string{"test:stale"}).Return(nil)

		pruned, err := store.Prune(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, pruned)
		client.AssertExpectations(t)
	})
}
