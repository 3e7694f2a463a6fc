package sharding

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPodAddress_RoundTrip(t *testing.T) {
	addr := PodAddress{Host: "10.0.0.7", Port: 54321}
	parsed, err := ParsePodAddress(addr.String())
	require.NoError(t, err)
	require.Equal(t, addr, parsed)

	_, err = ParsePodAddress("not-an-address")
	require.Error(t, err)

	_, err = ParsePodAddress("host:nope")
	require.Error(t, err)
}

func TestShardForKey(t *testing.T) {
	const numShards = 300

	// deterministic
	require.Equal(t, ShardForKey("user:123", numShards, ""), ShardForKey("user:123", numShards, ""))

	// always in [1, numShards]
	keys := []string{"", "a", "user:123", "tenant/9", "龍"}
	for _, k := range keys {
		s := ShardForKey(k, numShards, "")
		require.GreaterOrEqual(t, int(s), 1)
		require.LessOrEqual(t, int(s), numShards)
	}

	// seed changes the mapping for at least one key
	diff := false
	for _, k := range keys {
		if ShardForKey(k, numShards, "seed-a") != ShardForKey(k, numShards, "seed-b") {
			diff = true
		}
	}
	require.True(t, diff)
}

func TestAllShards(t *testing.T) {
	shards := AllShards(4)
	require.Equal(t, []ShardID{1, 2, 3, 4}, shards)
}
