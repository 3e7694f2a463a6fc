package manager

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/codewandler/shardmgr-go/core/ds"
	"github.com/codewandler/shardmgr-go/core/sharding"
)

// PodEntry is a registered pod plus its registration time. RegisteredAt is
// the tie-break that keeps rebalance planning deterministic.
type PodEntry struct {
	Pod          sharding.Pod `json:"pod"`
	RegisteredAt time.Time    `json:"registered_at"`
}

// State is one revision of the assignment map. A *State is never mutated
// once published; the manager swaps whole revisions under its lock, readers
// get a consistent snapshot.
//
// Invariants: the key set of Shards is exactly 1..numShards and never
// changes after boot; every non-nil shard value has a matching key in Pods.
type State struct {
	Pods   map[sharding.PodAddress]PodEntry
	Shards map[sharding.ShardID]*sharding.PodAddress
}

// NewState builds a state from recovered data, seeding missing shard keys
// as unassigned so the shard key set is complete from the start.
func NewState(
	pods map[sharding.PodAddress]PodEntry,
	assignments map[sharding.ShardID]*sharding.PodAddress,
	numShards int,
) *State {
	st := &State{
		Pods:   make(map[sharding.PodAddress]PodEntry, len(pods)),
		Shards: make(map[sharding.ShardID]*sharding.PodAddress, numShards),
	}
	for addr, entry := range pods {
		st.Pods[addr] = entry
	}
	for _, shard := range sharding.AllShards(numShards) {
		if owner, ok := assignments[shard]; ok && owner != nil {
			o := *owner
			st.Shards[shard] = &o
		} else {
			st.Shards[shard] = nil
		}
	}
	return st
}

func (s *State) clone() *State {
	out := &State{
		Pods:   make(map[sharding.PodAddress]PodEntry, len(s.Pods)),
		Shards: make(map[sharding.ShardID]*sharding.PodAddress, len(s.Shards)),
	}
	for addr, entry := range s.Pods {
		out.Pods[addr] = entry
	}
	for shard, owner := range s.Shards {
		if owner == nil {
			out.Shards[shard] = nil
			continue
		}
		o := *owner
		out.Shards[shard] = &o
	}
	return out
}

// ShardsPerPod returns the ordered shard set of every registered pod,
// including pods that currently own nothing.
func (s *State) ShardsPerPod() map[sharding.PodAddress]*ds.Set[sharding.ShardID] {
	out := make(map[sharding.PodAddress]*ds.Set[sharding.ShardID], len(s.Pods))
	for addr := range s.Pods {
		out[addr] = ds.NewSet[sharding.ShardID]()
	}
	for _, shard := range s.sortedShardIDs() {
		owner := s.Shards[shard]
		if owner == nil {
			continue
		}
		if set, ok := out[*owner]; ok {
			set.Add(shard)
		}
	}
	return out
}

// PodShards returns the sorted shards currently owned by addr.
func (s *State) PodShards(addr sharding.PodAddress) []sharding.ShardID {
	var out []sharding.ShardID
	for shard, owner := range s.Shards {
		if owner != nil && *owner == addr {
			out = append(out, shard)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// UnassignedShards returns the sorted shards without an owner.
func (s *State) UnassignedShards() []sharding.ShardID {
	var out []sharding.ShardID
	for shard, owner := range s.Shards {
		if owner == nil {
			out = append(out, shard)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// MaxVersion returns the highest pod version, ok=false if no pods exist.
func (s *State) MaxVersion() (string, bool) {
	var (
		found bool
		max   string
	)
	for _, entry := range s.Pods {
		if !found || compareVersions(entry.Pod.Version, max) > 0 {
			max = entry.Pod.Version
			found = true
		}
	}
	return max, found
}

// AllPodsHaveMaxVersion reports whether no rollout is in progress. Shards
// are never moved to or from pods while versions are mixed.
func (s *State) AllPodsHaveMaxVersion() bool {
	max, ok := s.MaxVersion()
	if !ok {
		return true
	}
	for _, entry := range s.Pods {
		if entry.Pod.Version != max {
			return false
		}
	}
	return true
}

// AverageShardsPerPod is the fair per-pod share of the shard space.
func (s *State) AverageShardsPerPod() int {
	if len(s.Pods) == 0 {
		return 0
	}
	return len(s.Shards) / len(s.Pods)
}

func (s *State) sortedShardIDs() []sharding.ShardID {
	out := make([]sharding.ShardID, 0, len(s.Shards))
	for shard := range s.Shards {
		out = append(out, shard)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// compareVersions orders version strings component-wise, numerically where
// both components are numeric ("1.10" > "1.9"), lexicographically otherwise.
func compareVersions(a, b string) int {
	if a == b {
		return 0
	}
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		ai, aerr := strconv.Atoi(as[i])
		bi, berr := strconv.Atoi(bs[i])
		switch {
		case aerr == nil && berr == nil:
			if ai != bi {
				if ai < bi {
					return -1
				}
				return 1
			}
		default:
			if as[i] != bs[i] {
				return strings.Compare(as[i], bs[i])
			}
		}
	}
	switch {
	case len(as) < len(bs):
		return -1
	case len(as) > len(bs):
		return 1
	}
	return 0
}
