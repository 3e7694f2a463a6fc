package manager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/shardmgr-go/core/sharding"
)

func stateWith(t *testing.T, numShards int, podsByHost map[string]string, owners map[sharding.ShardID]string) *State {
	t.Helper()
	pods := map[sharding.PodAddress]PodEntry{}
	byHost := map[string]sharding.PodAddress{}
	registeredAt := time.Unix(1000, 0)
	for host, version := range podsByHost {
		p := pod(host, version)
		byHost[host] = p.Address
		pods[p.Address] = PodEntry{Pod: p, RegisteredAt: registeredAt}
	}
	assignments := map[sharding.ShardID]*sharding.PodAddress{}
	for shard, host := range owners {
		addr := byHost[host]
		assignments[shard] = &addr
	}
	return NewState(pods, assignments, numShards)
}

func TestDecideUnassigned_CoversAllShards(t *testing.T) {
	st := stateWith(t, 4, map[string]string{"p1": "1.0"}, nil)

	assignments, unassignments := decideAssignmentsForUnassignedShards(st)
	require.Empty(t, unassignments)
	require.Len(t, assignments, 4)
	for _, target := range assignments {
		require.Equal(t, "p1", target.Host)
	}
}

func TestDecideUnassigned_BalancesAcrossPods(t *testing.T) {
	st := stateWith(t, 6, map[string]string{"p1": "1.0", "p2": "1.0"}, nil)

	assignments, _ := decideAssignmentsForUnassignedShards(st)
	require.Len(t, assignments, 6)

	counts := map[string]int{}
	for _, target := range assignments {
		counts[target.Host]++
	}
	require.Equal(t, 3, counts["p1"])
	require.Equal(t, 3, counts["p2"])
}

func TestDecideUnassigned_OnlyMaxVersionPodsReceive(t *testing.T) {
	st := stateWith(t, 4, map[string]string{"p1": "1.0", "p2": "2.0"}, nil)

	assignments, _ := decideAssignmentsForUnassignedShards(st)
	require.Len(t, assignments, 4)
	for _, target := range assignments {
		require.Equal(t, "p2", target.Host)
	}
}

func TestDecideUnbalanced_NoopOnMixedVersions(t *testing.T) {
	st := stateWith(t, 4,
		map[string]string{"p1": "1.0", "p2": "2.0"},
		map[sharding.ShardID]string{1: "p1", 2: "p1", 3: "p1", 4: "p1"},
	)

	assignments, unassignments := decideAssignmentsForUnbalancedShards(st, 0.5)
	require.Empty(t, assignments)
	require.Empty(t, unassignments)
}

func TestDecideUnbalanced_MovesAtMostRate(t *testing.T) {
	st := stateWith(t, 4,
		map[string]string{"p1": "1.0", "p2": "1.0"},
		map[sharding.ShardID]string{1: "p1", 2: "p1", 3: "p1", 4: "p1"},
	)

	assignments, unassignments := decideAssignmentsForUnbalancedShards(st, 0.5)
	require.Len(t, assignments, 2)
	require.Len(t, unassignments, 2)
	for shard, target := range assignments {
		require.Equal(t, "p2", target.Host)
		require.Equal(t, "p1", unassignments[shard].Host)
	}

	// with the default rate the cap rounds to zero moves in a 4-shard space
	assignments, unassignments = decideAssignmentsForUnbalancedShards(st, 0.02)
	require.Empty(t, assignments)
	require.Empty(t, unassignments)
}

func TestDecideUnbalanced_BalancedClusterIsStable(t *testing.T) {
	st := stateWith(t, 4,
		map[string]string{"p1": "1.0", "p2": "1.0"},
		map[sharding.ShardID]string{1: "p1", 2: "p1", 3: "p2", 4: "p2"},
	)

	assignments, unassignments := decideAssignmentsForUnbalancedShards(st, 1)
	require.Empty(t, assignments)
	require.Empty(t, unassignments)
}

func TestPickNewPods_ChurnGuard(t *testing.T) {
	// p1 has 3, p2 has 2: moving one shard would leave both at ~2/3,
	// which is no-op churn and must be skipped
	st := stateWith(t, 5,
		map[string]string{"p1": "1.0", "p2": "1.0"},
		map[sharding.ShardID]string{1: "p1", 2: "p1", 3: "p1", 4: "p2", 5: "p2"},
	)

	assignments, unassignments := pickNewPods(st, []sharding.ShardID{1}, false, 1)
	require.Empty(t, assignments)
	require.Empty(t, unassignments)
}

func TestPickNewPods_EvictedPodReceivesNothing(t *testing.T) {
	// after shard 1 is taken from p1, p1 must not be picked as a target
	// in the same pass even if it becomes the least loaded pod
	st := stateWith(t, 8,
		map[string]string{"p1": "1.0", "p2": "1.0", "p3": "1.0"},
		map[sharding.ShardID]string{1: "p1", 2: "p1", 3: "p1", 4: "p1", 5: "p1", 6: "p1", 7: "p2", 8: "p2"},
	)

	assignments, _ := pickNewPods(st, []sharding.ShardID{1, 2, 3}, false, 1)
	for _, target := range assignments {
		require.NotEqual(t, "p1", target.Host)
	}
}

func TestSortCandidateShards_Ordering(t *testing.T) {
	pods := map[sharding.PodAddress]PodEntry{}
	older := pod("older", "1.0")
	newer := pod("newer", "1.0")
	pods[older.Address] = PodEntry{Pod: older, RegisteredAt: time.Unix(100, 0)}
	pods[newer.Address] = PodEntry{Pod: newer, RegisteredAt: time.Unix(200, 0)}

	assignments := map[sharding.ShardID]*sharding.PodAddress{
		1: &newer.Address,
		2: &older.Address,
		4: &older.Address,
	}
	st := NewState(pods, assignments, 5)

	shards := []sharding.ShardID{1, 2, 3, 4, 5}
	sortCandidateShards(st, shards)

	// unassigned first, then the loaded/older pod's shards, then the rest
	require.Equal(t, []sharding.ShardID{3, 5, 2, 4, 1}, shards)
}
