package manager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/shardmgr-go/core/sharding"
)

func pod(host string, version string) sharding.Pod {
	return sharding.Pod{
		Address: sharding.PodAddress{Host: host, Port: 9000},
		Version: version,
	}
}

func TestNewState_SeedsMissingShards(t *testing.T) {
	p1 := pod("p1", "1.0")
	pods := map[sharding.PodAddress]PodEntry{
		p1.Address: {Pod: p1, RegisteredAt: time.Now()},
	}
	assignments := map[sharding.ShardID]*sharding.PodAddress{
		1: &p1.Address,
	}

	st := NewState(pods, assignments, 4)

	require.Len(t, st.Shards, 4)
	require.Equal(t, &p1.Address, st.Shards[1])
	require.Nil(t, st.Shards[2])
	require.Equal(t, []sharding.ShardID{2, 3, 4}, st.UnassignedShards())
	require.Equal(t, []sharding.ShardID{1}, st.PodShards(p1.Address))
}

func TestState_ShardsPerPod_IncludesEmptyPods(t *testing.T) {
	p1, p2 := pod("p1", "1.0"), pod("p2", "1.0")
	pods := map[sharding.PodAddress]PodEntry{
		p1.Address: {Pod: p1},
		p2.Address: {Pod: p2},
	}
	st := NewState(pods, map[sharding.ShardID]*sharding.PodAddress{
		1: &p1.Address,
		2: &p1.Address,
	}, 4)

	perPod := st.ShardsPerPod()
	require.Len(t, perPod, 2)
	require.Equal(t, []sharding.ShardID{1, 2}, perPod[p1.Address].Values())
	require.True(t, perPod[p2.Address].IsEmpty())
	require.Equal(t, 2, st.AverageShardsPerPod())
}

func TestState_Versions(t *testing.T) {
	p1, p2 := pod("p1", "1.9"), pod("p2", "1.10")
	st := NewState(map[sharding.PodAddress]PodEntry{
		p1.Address: {Pod: p1},
		p2.Address: {Pod: p2},
	}, nil, 2)

	max, ok := st.MaxVersion()
	require.True(t, ok)
	require.Equal(t, "1.10", max)
	require.False(t, st.AllPodsHaveMaxVersion())

	// empty cluster has no version skew
	empty := NewState(nil, nil, 2)
	_, ok = empty.MaxVersion()
	require.False(t, ok)
	require.True(t, empty.AllPodsHaveMaxVersion())
}

func TestCompareVersions(t *testing.T) {
	require.Equal(t, 0, compareVersions("1.2.3", "1.2.3"))
	require.Equal(t, -1, compareVersions("1.9", "1.10"))
	require.Equal(t, 1, compareVersions("2.0", "1.99"))
	require.Equal(t, -1, compareVersions("1.2", "1.2.1"))
	require.Equal(t, 1, compareVersions("1.2-rc2", "1.2-rc1"))
}

func TestState_CloneIsDeep(t *testing.T) {
	p1 := pod("p1", "1.0")
	st := NewState(map[sharding.PodAddress]PodEntry{
		p1.Address: {Pod: p1},
	}, map[sharding.ShardID]*sharding.PodAddress{1: &p1.Address}, 2)

	cl := st.clone()
	cl.Shards[1] = nil
	delete(cl.Pods, p1.Address)

	require.Equal(t, &p1.Address, st.Shards[1])
	require.Contains(t, st.Pods, p1.Address)
}

func TestWire_RoundTrip(t *testing.T) {
	p1, p2 := pod("p1", "1.0"), pod("p2", "1.1")
	now := time.Now().UTC().Truncate(time.Second)
	pods := map[sharding.PodAddress]PodEntry{
		p1.Address: {Pod: p1, RegisteredAt: now},
		p2.Address: {Pod: p2, RegisteredAt: now.Add(time.Minute)},
	}

	data, err := EncodePods(pods)
	require.NoError(t, err)
	decoded, err := DecodePods(data)
	require.NoError(t, err)
	require.Equal(t, pods, decoded)

	assignments := map[sharding.ShardID]*sharding.PodAddress{
		1: &p1.Address,
		2: nil,
		3: &p2.Address,
	}
	data, err = EncodeAssignments(assignments)
	require.NoError(t, err)
	decodedAssignments, err := DecodeAssignments(data)
	require.NoError(t, err)
	require.Equal(t, assignments, decodedAssignments)
}
