package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"tablebook/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func redisStore(t *testing.T) (*RedisStateStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStateStore(client, 30*time.Minute, nil), mr
}

func stores(t *testing.T) map[string]StateStore {
	rs, _ := redisStore(t)
	return map[string]StateStore{
		"redis":  rs,
		"memory": NewMemoryStateStore(30*time.Minute, nil),
	}
}

func versioned(v int) models.ConversationState {
	s := models.NewConversationState(t0)
	s.Version = v
	return s
}

func TestStateStore_CASLifecycle(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			got, err := store.Get(ctx, "t1", "+39000")
			require.NoError(t, err)
			assert.Nil(t, got)

			res, err := store.SetCAS(ctx, "t1", "+39000", versioned(1), AbsentVersion)
			require.NoError(t, err)
			assert.Equal(t, CASOK, res)

			res, err = store.SetCAS(ctx, "t1", "+39000", versioned(1), AbsentVersion)
			require.NoError(t, err)
			assert.Equal(t, CASVersionMismatch, res, "state already exists")

			res, err = store.SetCAS(ctx, "t1", "+39000", versioned(3), 2)
			require.NoError(t, err)
			assert.Equal(t, CASVersionMismatch, res)

			next := versioned(2)
			next.Flow = models.FlowGatheringInfo
			next.Context.Name = "Rossi"
			res, err = store.SetCAS(ctx, "t1", "+39000", next, 1)
			require.NoError(t, err)
			assert.Equal(t, CASOK, res)

			got, err = store.Get(ctx, "t1", "+39000")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, 2, got.Version)
			assert.Equal(t, "Rossi", got.Context.Name)
			assert.True(t, got.UpdatedAt.Equal(t0))
		})
	}
}

func TestStateStore_RejectsInvalidWrites(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.SetCAS(ctx, "t1", "p", versioned(5), 1)
			assert.ErrorIs(t, err, ErrInvalidNextVersion)

			s := versioned(1)
			s.MachineVersion = 2
			_, err = store.SetCAS(ctx, "t1", "p", s, AbsentVersion)
			assert.ErrorIs(t, err, ErrUnsupportedMachineVersion)
		})
	}
}

func TestStateStore_StrictInvariants(t *testing.T) {
	store := NewMemoryStateStore(time.Hour, nil)
	store.Strict = true
	bad := versioned(1)
	bad.Flow = models.FlowConfirmingAction
	_, err := store.SetCAS(context.Background(), "t1", "p", bad, AbsentVersion)
	assert.ErrorIs(t, err, ErrInvariantViolation)
}

func TestStateStore_ConcurrentWritersOneWins(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.SetCAS(ctx, "t1", "p", versioned(1), AbsentVersion)
			require.NoError(t, err)

			var (
				wg   sync.WaitGroup
				mu   sync.Mutex
				wins int
			)
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					res, err := store.SetCAS(ctx, "t1", "p", versioned(2), 1)
					if !assert.NoError(t, err) {
						return
					}
					if res == CASOK {
						mu.Lock()
						wins++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, 1, wins)
		})
	}
}

func TestRedisStateStore_SlidingTTL(t *testing.T) {
	store, mr := redisStore(t)
	ctx := context.Background()
	_, err := store.SetCAS(ctx, "t1", "p", versioned(1), AbsentVersion)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, mr.TTL("conv:t1:p"))

	mr.FastForward(20 * time.Minute)
	_, err = store.SetCAS(ctx, "t1", "p", versioned(2), 1)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, mr.TTL("conv:t1:p"), "every write restarts the expiry")

	mr.FastForward(31 * time.Minute)
	got, err := store.Get(ctx, "t1", "p")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStateStore_Expiry(t *testing.T) {
	now := t0
	store := NewMemoryStateStore(10*time.Minute, func() time.Time { return now })
	ctx := context.Background()
	_, err := store.SetCAS(ctx, "t1", "p", versioned(1), AbsentVersion)
	require.NoError(t, err)

	now = now.Add(11 * time.Minute)
	got, err := store.Get(ctx, "t1", "p")
	require.NoError(t, err)
	assert.Nil(t, got)

	res, err := store.SetCAS(ctx, "t1", "p", versioned(1), AbsentVersion)
	require.NoError(t, err)
	assert.Equal(t, CASOK, res, "an expired conversation starts over")
}

func TestStateStore_Scan(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.SetCAS(ctx, "t1", "+39:000", versioned(1), AbsentVersion)
			require.NoError(t, err)
			_, err = store.SetCAS(ctx, "t2", "+39111", versioned(1), AbsentVersion)
			require.NoError(t, err)

			var keys []Key
			require.NoError(t, store.Scan(ctx, func(k Key) error {
				keys = append(keys, k)
				return nil
			}))
			assert.ElementsMatch(t, []Key{{"t1", "+39:000"}, {"t2", "+39111"}}, keys)
		})
	}
}

func TestClampTTL(t *testing.T) {
	assert.Equal(t, MinStateTTL, ClampTTL(time.Second))
	assert.Equal(t, MaxStateTTL, ClampTTL(24*time.Hour))
	assert.Equal(t, 15*time.Minute, ClampTTL(15*time.Minute))
}

func TestParseStateKey(t *testing.T) {
	k, ok := parseStateKey("conv:t1:+39:123")
	require.True(t, ok)
	assert.Equal(t, Key{TenantID: "t1", Phone: "+39:123"}, k)

	_, ok = parseStateKey("avail:t1:2030-06-04")
	assert.False(t, ok)
	_, ok = parseStateKey("conv:t1")
	assert.False(t, ok)
}
