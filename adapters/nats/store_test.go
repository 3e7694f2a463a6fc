package nats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/shardmgr-go/core/manager"
	"github.com/codewandler/shardmgr-go/core/sharding"
)

func TestClusterStore(t *testing.T) {
	connect := ReuseConnection(NewTestContainer(t))
	store, err := NewClusterStore(t.Context(), ClusterStoreConfig{
		Connect: connect,
		Bucket:  "shardmgr_test",
	})
	require.NoError(t, err)
	t.Cleanup(store.Close)

	ctx := t.Context()

	// empty bucket reads as empty cluster
	pods, err := store.GetPods(ctx)
	require.NoError(t, err)
	require.Empty(t, pods)
	assignments, err := store.GetAssignments(ctx)
	require.NoError(t, err)
	require.Empty(t, assignments)

	addr1 := sharding.PodAddress{Host: "10.0.0.1", Port: 54321}
	addr2 := sharding.PodAddress{Host: "10.0.0.2", Port: 54321}
	wantPods := map[sharding.PodAddress]manager.PodEntry{
		addr1: {Pod: sharding.Pod{Address: addr1, Version: "1.0.0"}, RegisteredAt: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)},
		addr2: {Pod: sharding.Pod{Address: addr2, Version: "1.1.0"}, RegisteredAt: time.Date(2026, 5, 1, 12, 5, 0, 0, time.UTC)},
	}
	require.NoError(t, store.SavePods(ctx, wantPods))

	pods, err = store.GetPods(ctx)
	require.NoError(t, err)
	require.Equal(t, wantPods, pods)

	wantAssignments := map[sharding.ShardID]*sharding.PodAddress{
		1: &addr1,
		2: &addr2,
		3: nil,
	}
	require.NoError(t, store.SaveAssignments(ctx, wantAssignments))

	assignments, err = store.GetAssignments(ctx)
	require.NoError(t, err)
	require.Equal(t, wantAssignments, assignments)

	// a second store over the same bucket sees the persisted state
	reopened, err := NewClusterStore(t.Context(), ClusterStoreConfig{Connect: connect, Bucket: "shardmgr_test"})
	require.NoError(t, err)
	t.Cleanup(reopened.Close)
	pods, err = reopened.GetPods(ctx)
	require.NoError(t, err)
	require.Equal(t, wantPods, pods)
}
