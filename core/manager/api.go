package manager

import (
	"context"

	"github.com/codewandler/shardmgr-go/core/sharding"
)

type (
	// ClusterStorage persists and recovers the pod registry and the
	// shard-to-pod assignment map. Implementations: [MemoryStorage],
	// adapters/nats, adapters/redis.
	ClusterStorage interface {
		GetPods(ctx context.Context) (map[sharding.PodAddress]PodEntry, error)
		SavePods(ctx context.Context, pods map[sharding.PodAddress]PodEntry) error
		GetAssignments(ctx context.Context) (map[sharding.ShardID]*sharding.PodAddress, error)
		SaveAssignments(ctx context.Context, assignments map[sharding.ShardID]*sharding.PodAddress) error
	}

	// PodsClient performs remote calls against a pod. A returned error
	// (including a deadline) never corrupts manager state; the pod is
	// excluded from the current rebalance pass instead.
	PodsClient interface {
		Ping(ctx context.Context, addr sharding.PodAddress) error
		AssignShards(ctx context.Context, addr sharding.PodAddress, shards []sharding.ShardID) error
		UnassignShards(ctx context.Context, addr sharding.PodAddress, shards []sharding.ShardID) error
	}

	// PodHealth probes pod liveness independently of the message path.
	PodHealth interface {
		IsAlive(ctx context.Context, addr sharding.PodAddress) bool
	}
)
