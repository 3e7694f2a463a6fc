package manager

import (
	"context"
	"sync"

	"github.com/codewandler/shardmgr-go/core/sharding"
)

// MemoryStorage is a simple, correct ClusterStorage for tests and
// single-process deployments. The durable adapters live in adapters/nats
// and adapters/redis.
type MemoryStorage struct {
	mu          sync.Mutex
	pods        map[sharding.PodAddress]PodEntry
	assignments map[sharding.ShardID]*sharding.PodAddress
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		pods:        map[sharding.PodAddress]PodEntry{},
		assignments: map[sharding.ShardID]*sharding.PodAddress{},
	}
}

func (s *MemoryStorage) GetPods(_ context.Context) (map[sharding.PodAddress]PodEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[sharding.PodAddress]PodEntry, len(s.pods))
	for addr, entry := range s.pods {
		out[addr] = entry
	}
	return out, nil
}

func (s *MemoryStorage) SavePods(_ context.Context, pods map[sharding.PodAddress]PodEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pods = make(map[sharding.PodAddress]PodEntry, len(pods))
	for addr, entry := range pods {
		s.pods[addr] = entry
	}
	return nil
}

func (s *MemoryStorage) GetAssignments(_ context.Context) (map[sharding.ShardID]*sharding.PodAddress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[sharding.ShardID]*sharding.PodAddress, len(s.assignments))
	for shard, owner := range s.assignments {
		if owner == nil {
			out[shard] = nil
			continue
		}
		o := *owner
		out[shard] = &o
	}
	return out, nil
}

func (s *MemoryStorage) SaveAssignments(_ context.Context, assignments map[sharding.ShardID]*sharding.PodAddress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignments = make(map[sharding.ShardID]*sharding.PodAddress, len(assignments))
	for shard, owner := range assignments {
		if owner == nil {
			s.assignments[shard] = nil
			continue
		}
		o := *owner
		s.assignments[shard] = &o
	}
	return nil
}

var _ ClusterStorage = (*MemoryStorage)(nil)
