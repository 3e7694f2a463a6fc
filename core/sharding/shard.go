package sharding

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

// ShardForKey derives a stable shard id (1..numShards) from an arbitrary
// string key. Uniform distribution via BLAKE2b; seed optionally
// personalizes the mapping per cluster.
func ShardForKey(key string, numShards int, seed string) ShardID {
	if numShards <= 0 {
		return 0
	}
	h, _ := blake2b.New(8, nil)
	if seed != "" {
		h.Write([]byte(seed))
		h.Write([]byte{0})
	}
	h.Write([]byte(key))
	sum := h.Sum(nil)
	v := binary.BigEndian.Uint64(sum)
	return ShardID(v%uint64(numShards)) + 1
}
