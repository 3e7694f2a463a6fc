// Package sharding holds the primitive types of the shard space: shard ids,
// pod addresses and the key-to-shard mapping. Both the manager and the
// mailbox build on these types.
package sharding

import (
	"fmt"
	"net"
	"strconv"
)

// ShardID identifies one partition of the entity key space. Valid ids are
// 1..numShards; the set of ids is fixed for the lifetime of a cluster.
type ShardID int

// PodAddress identifies one runtime node. It is a value type: two addresses
// with the same host and port are the same pod.
type PodAddress struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (a PodAddress) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// ParsePodAddress parses "host:port" into a PodAddress.
func ParsePodAddress(s string) (PodAddress, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return PodAddress{}, fmt.Errorf("invalid pod address %q: %w", s, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return PodAddress{}, fmt.Errorf("invalid pod port %q: %w", portStr, err)
	}
	return PodAddress{Host: host, Port: port}, nil
}

// Pod is one addressable runtime node. Version is the deployed software
// version and is used to detect mid-rollout clusters.
type Pod struct {
	Address PodAddress `json:"address"`
	Version string     `json:"version"`
}

// AllShards returns the full shard id set 1..numShards.
func AllShards(numShards int) []ShardID {
	out := make([]ShardID, 0, numShards)
	for i := 1; i <= numShards; i++ {
		out = append(out, ShardID(i))
	}
	return out
}
