package adapterhealth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

func TestRegistry_PublishAllThenAll(t *testing.T) {
	mr, client := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	reg := NewRegistry(client, "instance-1")
	reg.publishAll(context.Background(), map[string]error{
		"edr":      nil,
		"firewall": errors.New("connection refused"),
	})

	entries, err := reg.All(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byName := make(map[string]Entry, len(entries))
	for _, e := range entries {
		byName[e.Adapter] = e
	}
	assert.Equal(t, StatusHealthy, byName["edr"].Status)
	assert.Equal(t, StatusUnreachable, byName["firewall"].Status)
	assert.Equal(t, "connection refused", byName["firewall"].Error)
	assert.Equal(t, "instance-1", byName["edr"].InstanceID)
}

func TestRegistry_EntriesExpireWithTTL(t *testing.T) {
	mr, client := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	reg := NewRegistry(client, "instance-1")
	reg.publishAll(context.Background(), map[string]error{"edr": nil})

	mr.FastForward(entryTTL + time.Second)

	entries, err := reg.All(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRegistry_StartRunsCheckImmediatelyThenStops(t *testing.T) {
	mr, client := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	reg := NewRegistry(client, "instance-1")
	calls := 0
	done := make(chan struct{})
	go func() {
		reg.Start(context.Background(), time.Hour, func(ctx context.Context) map[string]error {
			calls++
			return map[string]error{"edr": nil}
		})
		close(done)
	}()

	require.Eventually(t, func() bool { return calls >= 1 }, time.Second, 10*time.Millisecond)
	reg.Stop()
	<-done
}
