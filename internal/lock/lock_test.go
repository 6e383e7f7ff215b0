package lock

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var slotDate = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func request(item int64, hour int, schedule string) Request {
	return Request{AccountID: "acct", ItemID: item, SlotDate: slotDate, SlotHour: hour, ScheduleID: schedule, Strategy: "explore"}
}

func TestKeyDeterministic(t *testing.T) {
	a := Key("acct", 1, slotDate, 9)
	assert.Equal(t, a, Key("acct", 1, slotDate.Add(5*time.Hour), 9))
	assert.NotEqual(t, a, Key("acct", 1, slotDate, 10))
	assert.NotEqual(t, a, Key("acct", 2, slotDate, 9))
	assert.NotEqual(t, a, Key("acct2", 1, slotDate, 9))
	assert.Len(t, a, 32)
}

func TestValidateRejectsBadRequests(t *testing.T) {
	m := NewMemoryLocker(Options{})
	_, err := m.Lock(context.Background(), Request{ItemID: 1, ScheduleID: "s"})
	assert.Error(t, err)
	_, err = m.Lock(context.Background(), Request{AccountID: "a", ItemID: 1})
	assert.Error(t, err)
	_, err = m.Lock(context.Background(), Request{AccountID: "a", ItemID: 1, ScheduleID: "s", SlotHour: 24})
	assert.Error(t, err)
}

// lockerContract runs the shared behaviour checks against any Locker.
func lockerContract(t *testing.T, newLocker func() Locker) {
	t.Run("concurrent identical key", func(t *testing.T) {
		l := newLocker()
		const k = 16
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			acquired  int
			conflicts int
		)
		for i := 0; i < k; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				res, err := l.Lock(context.Background(), request(1, 9, fmt.Sprintf("sched-%d", i)))
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				defer mu.Unlock()
				if res.Acquired {
					acquired++
				} else {
					assert.Equal(t, SlotTaken, res.Conflict)
					conflicts++
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 1, acquired)
		assert.Equal(t, k-1, conflicts)
	})

	t.Run("concurrent different items same slot", func(t *testing.T) {
		l := newLocker()
		var wg sync.WaitGroup
		results := make([]Result, 8)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				res, err := l.Lock(context.Background(), request(int64(100+i), 13, "sched"))
				assert.NoError(t, err)
				results[i] = res
			}(i)
		}
		wg.Wait()
		won := 0
		for _, r := range results {
			if r.Acquired {
				won++
			}
		}
		assert.Equal(t, 1, won)
	})

	t.Run("idempotent retry", func(t *testing.T) {
		l := newLocker()
		first, err := l.Lock(context.Background(), request(1, 9, "sched"))
		require.NoError(t, err)
		require.True(t, first.Acquired)

		again, err := l.Lock(context.Background(), request(1, 9, "sched"))
		require.NoError(t, err)
		assert.True(t, again.Acquired)
		assert.True(t, again.Idempotent)
		assert.Equal(t, first.Assignment.Key, again.Assignment.Key)
	})

	t.Run("item cooldown", func(t *testing.T) {
		l := newLocker()
		_, err := l.Lock(context.Background(), request(1, 9, "sched"))
		require.NoError(t, err)

		res, err := l.Lock(context.Background(), request(1, 17, "sched"))
		require.NoError(t, err)
		assert.False(t, res.Acquired)
		assert.Equal(t, ItemCooldown, res.Conflict)
	})

	t.Run("deactivate frees slot", func(t *testing.T) {
		l := newLocker()
		_, err := l.Lock(context.Background(), request(1, 9, "old"))
		require.NoError(t, err)

		n, err := l.DeactivateSchedule(context.Background(), "old")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		res, err := l.Lock(context.Background(), request(2, 9, "new"))
		require.NoError(t, err)
		assert.True(t, res.Acquired)
	})
}

func TestMemoryLockerContract(t *testing.T) {
	lockerContract(t, func() Locker { return NewMemoryLocker(Options{Cooldown: 72 * time.Hour}) })
}

func TestMemoryLockerActive(t *testing.T) {
	m := NewMemoryLocker(Options{})
	_, err := m.Lock(context.Background(), request(2, 17, "sched"))
	require.NoError(t, err)
	_, err = m.Lock(context.Background(), Request{AccountID: "acct", ItemID: 1, SlotDate: slotDate.AddDate(0, 0, 7), SlotHour: 9, ScheduleID: "sched"})
	require.NoError(t, err)

	active := m.Active("acct")
	require.Len(t, active, 2)
	assert.Equal(t, 17, active[0].SlotHour)
	assert.Equal(t, slotDate.Add(17*time.Hour+DefaultTTL), active[0].ExpiresAt)
}

func TestRedisLockerContract(t *testing.T) {
	addr := os.Getenv("CAPTIONCTL_TEST_REDIS")
	if addr == "" {
		t.Skip("CAPTIONCTL_TEST_REDIS not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	lockerContract(t, func() Locker {
		return NewRedisLocker(client, "captionctl-test:"+uuid.NewString()+":", Options{Cooldown: 72 * time.Hour})
	})
}
