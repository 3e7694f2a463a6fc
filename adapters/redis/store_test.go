package redis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/codewandler/shardmgr-go/core/manager"
	"github.com/codewandler/shardmgr-go/core/sharding"
)

func newTestStore(t *testing.T) *ClusterStore {
	t.Helper()
	redisC, err := testcontainers.Run(
		t.Context(), "redis:7",
		testcontainers.WithExposedPorts("6379/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("6379/tcp"),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(redisC); err != nil {
			t.Errorf("failed to terminate container: %s", err.Error())
		}
	})

	ip, err := redisC.ContainerIP(t.Context())
	require.NoError(t, err)

	store, err := NewClusterStore(t.Context(), ClusterStoreConfig{
		Addr:      ip + ":6379",
		KeyPrefix: "shardmgr_test",
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })
	return store
}

func TestClusterStore(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	pods, err := store.GetPods(ctx)
	require.NoError(t, err)
	require.Empty(t, pods)

	addr := sharding.PodAddress{Host: "10.0.0.1", Port: 54321}
	wantPods := map[sharding.PodAddress]manager.PodEntry{
		addr: {Pod: sharding.Pod{Address: addr, Version: "1.0.0"}, RegisteredAt: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)},
	}
	require.NoError(t, store.SavePods(ctx, wantPods))
	pods, err = store.GetPods(ctx)
	require.NoError(t, err)
	require.Equal(t, wantPods, pods)

	wantAssignments := map[sharding.ShardID]*sharding.PodAddress{
		1: &addr,
		2: nil,
	}
	require.NoError(t, store.SaveAssignments(ctx, wantAssignments))
	assignments, err := store.GetAssignments(ctx)
	require.NoError(t, err)
	require.Equal(t, wantAssignments, assignments)
}
