package idempotency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "scan-token-000000000001"

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to create miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	if err := client.Ping(context.Background()).Err(); err != nil {
		mr.Close()
		t.Fatalf("Failed to connect to miniredis: %v", err)
	}

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

// backends runs each test against both storage implementations.
func backends(t *testing.T) map[string]Backend {
	client, _ := setupTestRedis(t)
	return map[string]Backend{
		"redis":  NewRedisBackend(client),
		"memory": NewMemoryBackend(),
	}
}

func TestValidateToken(t *testing.T) {
	cases := []struct {
		token string
		valid bool
	}{
		{"", false},
		{"short-token", false},
		{"exactly16chars__", true},
		{"7f3c9a2e-1b4d-4c8e-9f6a-2d5b8e1c7a90", true},
		{"has spaces in the token", false},
		{"semi;colons;are;not;ok", false},
	}
	for _, tc := range cases {
		err := ValidateToken(tc.token)
		if tc.valid {
			assert.NoError(t, err, tc.token)
		} else {
			assert.ErrorIs(t, err, ErrInvalidToken, tc.token)
		}
	}
}

func TestExecute_ReplaysStoredResult(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			c := NewCoordinator(backend)
			ctx := context.Background()
			calls := 0
			fn := func(context.Context) ([]byte, error) {
				calls++
				return []byte(fmt.Sprintf(`{"call":%d}`, calls)), nil
			}

			first, replayed, err := c.Execute(ctx, "op-1", testToken, fn)
			require.NoError(t, err)
			assert.False(t, replayed)

			second, replayed, err := c.Execute(ctx, "op-1", testToken, fn)
			require.NoError(t, err)
			assert.True(t, replayed)
			assert.Equal(t, first, second)
			assert.Equal(t, 1, calls)
		})
	}
}

func TestExecute_TokensAreScopedToOperator(t *testing.T) {
	c := NewCoordinator(NewMemoryBackend())
	ctx := context.Background()
	calls := 0
	fn := func(context.Context) ([]byte, error) {
		calls++
		return []byte("ok"), nil
	}

	_, _, err := c.Execute(ctx, "op-1", testToken, fn)
	require.NoError(t, err)
	_, replayed, err := c.Execute(ctx, "op-2", testToken, fn)
	require.NoError(t, err)

	assert.False(t, replayed)
	assert.Equal(t, 2, calls)
}

func TestExecute_FailureIsNotStored(t *testing.T) {
	c := NewCoordinator(NewMemoryBackend())
	ctx := context.Background()
	boom := errors.New("database unavailable")

	_, _, err := c.Execute(ctx, "op-1", testToken, func(context.Context) ([]byte, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	payload, replayed, err := c.Execute(ctx, "op-1", testToken, func(context.Context) ([]byte, error) {
		return []byte("second"), nil
	})
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, []byte("second"), payload)
}

func TestExecute_RejectsInvalidToken(t *testing.T) {
	c := NewCoordinator(NewMemoryBackend())
	called := false
	_, _, err := c.Execute(context.Background(), "op-1", "abc", func(context.Context) ([]byte, error) {
		called = true
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.False(t, called)
}

func TestExecute_ConcurrentDuplicatesRunOnce(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			c := NewCoordinator(backend, WithPollInterval(5*time.Millisecond))
			ctx := context.Background()

			var calls int32
			release := make(chan struct{})
			fn := func(context.Context) ([]byte, error) {
				atomic.AddInt32(&calls, 1)
				<-release
				return []byte(`{"status":"VALID"}`), nil
			}

			const numGoroutines = 10
			var wg sync.WaitGroup
			results := make([][]byte, numGoroutines)
			errs := make([]error, numGoroutines)
			for i := 0; i < numGoroutines; i++ {
				wg.Add(1)
				go func(n int) {
					defer wg.Done()
					results[n], _, errs[n] = c.Execute(ctx, "op-1", testToken, fn)
				}(i)
			}

			time.Sleep(50 * time.Millisecond)
			close(release)
			wg.Wait()

			assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
			for i := 0; i < numGoroutines; i++ {
				require.NoError(t, errs[i])
				assert.Equal(t, []byte(`{"status":"VALID"}`), results[i])
			}
		})
	}
}

func TestExecute_InFlightDuplicateGivesUpWithContext(t *testing.T) {
	c := NewCoordinator(NewMemoryBackend(), WithPollInterval(5*time.Millisecond))

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, _ = c.Execute(context.Background(), "op-1", testToken, func(context.Context) ([]byte, error) {
			close(started)
			<-release
			return []byte("late"), nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, _, err := c.Execute(ctx, "op-1", testToken, func(context.Context) ([]byte, error) {
		t.Fatal("duplicate must not run while the first attempt holds the guard")
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrRequestInFlight)

	close(release)
	<-done
}

func TestStore_FirstWriterWins(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			c := NewCoordinator(backend)
			ctx := context.Background()

			stored, err := c.Store(ctx, "op-1", testToken, []byte("first"))
			require.NoError(t, err)
			assert.Equal(t, []byte("first"), stored)

			stored, err = c.Store(ctx, "op-1", testToken, []byte("second"))
			require.NoError(t, err)
			assert.Equal(t, []byte("first"), stored)

			payload, ok, err := c.Lookup(ctx, "op-1", testToken)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, []byte("first"), payload)
		})
	}
}

func TestRedisBackend_EntriesExpire(t *testing.T) {
	client, mr := setupTestRedis(t)
	c := NewCoordinator(NewRedisBackend(client), WithTTL(time.Hour))
	ctx := context.Background()

	_, err := c.Store(ctx, "op-1", testToken, []byte("cached"))
	require.NoError(t, err)
	assert.Equal(t, time.Hour, mr.TTL(resultKey("op-1", testToken)))

	mr.FastForward(time.Hour + time.Second)

	_, ok, err := c.Lookup(ctx, "op-1", testToken)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisBackend_DeleteIfValueKeepsForeignGuard(t *testing.T) {
	client, mr := setupTestRedis(t)
	backend := NewRedisBackend(client)
	ctx := context.Background()

	ok, err := backend.PutIfAbsent(ctx, "guard", []byte("owner-a"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, backend.DeleteIfValue(ctx, "guard", []byte("owner-b")))
	assert.True(t, mr.Exists("guard"))

	require.NoError(t, backend.DeleteIfValue(ctx, "guard", []byte("owner-a")))
	assert.False(t, mr.Exists("guard"))
}

func TestMemoryBackend_EntriesExpire(t *testing.T) {
	backend := NewMemoryBackend()
	now := time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)
	backend.now = func() time.Time { return now }
	ctx := context.Background()

	ok, err := backend.PutIfAbsent(ctx, "k", []byte("v1"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = backend.PutIfAbsent(ctx, "k", []byte("v2"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	now = now.Add(2 * time.Minute)
	_, err = backend.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)

	ok, err = backend.PutIfAbsent(ctx, "k", []byte("v3"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
