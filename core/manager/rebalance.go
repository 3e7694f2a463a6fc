package manager

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codewandler/shardmgr-go/core/ds"
	"github.com/codewandler/shardmgr-go/core/sharding"
)

// Rebalance recomputes and applies shard assignments. With immediate=true
// (or whenever unassigned shards exist) every orphaned shard is placed
// without a per-pod cap; otherwise only the configured fraction of the
// shard space may move, and only when all pods run the same version.
//
// At most one pass executes at a time; concurrent callers queue. Remote
// failures never propagate into state: the failing pod is excluded from
// the pass, re-verified asynchronously and, for immediate passes, the
// whole pass is retried after a backoff.
func (m *Manager) Rebalance(ctx context.Context, immediate bool) error {
	m.rebalanceMu.Lock()
	defer m.rebalanceMu.Unlock()

	timer := m.metrics.RebalanceDuration()
	defer timer.ObserveDuration()

	snap := m.Snapshot()

	var assignments, unassignments map[sharding.ShardID]sharding.PodAddress
	if immediate || len(snap.UnassignedShards()) > 0 {
		immediate = true
		assignments, unassignments = decideAssignmentsForUnassignedShards(snap)
	} else {
		assignments, unassignments = decideAssignmentsForUnbalancedShards(snap, m.cfg.RebalanceRate)
	}

	if len(assignments) == 0 && len(unassignments) == 0 {
		m.metrics.RebalanceCompleted(immediate, true)
		return nil
	}

	m.log.Debug("rebalancing",
		slog.Bool("immediate", immediate),
		slog.Int("assignments", len(assignments)),
		slog.Int("unassignments", len(unassignments)),
	)

	// readiness-ping every pod the change set touches; a pod that fails
	// the ping is excluded from the whole pass
	involved := ds.NewSet[sharding.PodAddress]()
	for _, addr := range groupShardsByPod(assignments) {
		involved.Add(addr.pod)
	}
	for _, addr := range groupShardsByPod(unassignments) {
		involved.Add(addr.pod)
	}
	failedPings := m.pingPods(ctx, involved.Values())
	if len(failedPings) > 0 {
		for shard, target := range assignments {
			if failedPings[target] {
				delete(assignments, shard)
				delete(unassignments, shard)
			}
		}
		for shard, owner := range unassignments {
			if failedPings[owner] {
				delete(unassignments, shard)
				delete(assignments, shard)
			}
		}
	}

	var (
		failedPods   = ds.NewSet[sharding.PodAddress]()
		failedShards = map[sharding.ShardID]bool{}
		applyErrs    []error
		changed      bool
	)
	for addr := range failedPings {
		failedPods.Add(addr)
	}

	// unassignments are applied to the authoritative state before the
	// assignments that reuse the freed capacity
	for _, grp := range groupShardsByPod(unassignments) {
		if err := m.pods.UnassignShards(ctx, grp.pod, grp.shards); err != nil {
			m.log.Warn("unassign failed, excluding pod from pass",
				slog.String("pod", grp.pod.String()),
				slog.Any("error", err),
			)
			failedPods.Add(grp.pod)
			for _, shard := range grp.shards {
				failedShards[shard] = true
			}
			continue
		}
		m.applyUnassign(grp.pod, grp.shards)
		changed = true
	}

	for _, grp := range groupShardsByPod(assignments) {
		shards := make([]sharding.ShardID, 0, len(grp.shards))
		for _, shard := range grp.shards {
			if !failedShards[shard] {
				shards = append(shards, shard)
			}
		}
		if len(shards) == 0 {
			continue
		}
		if err := m.pods.AssignShards(ctx, grp.pod, shards); err != nil {
			m.log.Warn("assign failed, excluding pod from pass",
				slog.String("pod", grp.pod.String()),
				slog.Any("error", err),
			)
			failedPods.Add(grp.pod)
			continue
		}
		if err := m.applyAssign(grp.pod, shards); err != nil {
			applyErrs = append(applyErrs, err)
			continue
		}
		changed = true
	}

	if !failedPods.IsEmpty() {
		toVerify := failedPods.Values()
		m.detach(func(ctx context.Context) {
			for _, addr := range toVerify {
				m.NotifyUnhealthyPod(ctx, addr)
			}
		})
		if immediate {
			m.detach(func(ctx context.Context) {
				select {
				case <-ctx.Done():
					return
				case <-time.After(m.cfg.RebalanceRetryInterval):
				}
				_ = m.Rebalance(ctx, true)
			})
		}
	}

	if changed {
		m.detach(func(ctx context.Context) { m.persistAssignments(ctx) })
	}

	m.metrics.RebalanceCompleted(immediate, failedPods.IsEmpty() && len(applyErrs) == 0)
	return errors.Join(applyErrs...)
}

// applyUnassign nulls the given shard entries in one state transition.
func (m *Manager) applyUnassign(addr sharding.PodAddress, shards []sharding.ShardID) {
	m.mu.Lock()
	st := m.state.clone()
	for _, shard := range shards {
		st.Shards[shard] = nil
	}
	m.state = st
	m.mu.Unlock()

	m.observeState(st)
	m.hub.publish(ShardsUnassigned{Address: addr, Shards: shards})
}

// applyAssign points the given shards at addr in one state transition.
// Fails with ErrPodNotRegistered if addr vanished since planning.
func (m *Manager) applyAssign(addr sharding.PodAddress, shards []sharding.ShardID) error {
	m.mu.Lock()
	if _, ok := m.state.Pods[addr]; !ok {
		m.mu.Unlock()
		return ErrPodNotRegistered
	}
	st := m.state.clone()
	for _, shard := range shards {
		a := addr
		st.Shards[shard] = &a
	}
	m.state = st
	m.mu.Unlock()

	m.observeState(st)
	m.hub.publish(ShardsAssigned{Address: addr, Shards: shards})
	return nil
}

// pingPods readiness-pings all addrs with bounded concurrency and returns
// the set that failed. A timeout counts as a failure.
func (m *Manager) pingPods(ctx context.Context, addrs []sharding.PodAddress) map[sharding.PodAddress]bool {
	var (
		mu     sync.Mutex
		failed = map[sharding.PodAddress]bool{}
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.PingConcurrency)
	for _, addr := range addrs {
		addr := addr
		g.Go(func() error {
			pingCtx, cancel := context.WithTimeout(ctx, m.cfg.PodPingTimeout)
			err := m.pods.Ping(pingCtx, addr)
			cancel()
			if err != nil {
				m.metrics.PingFailed()
				m.log.Warn("pod failed readiness ping",
					slog.String("pod", addr.String()),
					slog.Any("error", err),
				)
				mu.Lock()
				failed[addr] = true
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return failed
}

/* ---------------------- planning ---------------------- */

// decideAssignmentsForUnassignedShards places every orphaned shard on some
// pod, ignoring the per-pod rate cap.
func decideAssignmentsForUnassignedShards(st *State) (map[sharding.ShardID]sharding.PodAddress, map[sharding.ShardID]sharding.PodAddress) {
	return pickNewPods(st, st.UnassignedShards(), true, 0)
}

// decideAssignmentsForUnbalancedShards evicts shards from overloaded pods.
// It no-ops while pod versions are mixed: load is never moved onto a pod
// that is about to be replaced.
func decideAssignmentsForUnbalancedShards(st *State, rate float64) (map[sharding.ShardID]sharding.PodAddress, map[sharding.ShardID]sharding.PodAddress) {
	if !st.AllPodsHaveMaxVersion() {
		return nil, nil
	}

	var (
		average    = st.AverageShardsPerPod()
		perPod     = st.ShardsPerPod()
		candidates []sharding.ShardID
	)
	for _, grp := range sortedPodShardSets(perPod) {
		extra := grp.set.Len() - average
		if extra <= 0 {
			continue
		}
		// a random subset of the pod's shards, up to the excess
		shards := grp.set.Values()
		rand.Shuffle(len(shards), func(i, j int) { shards[i], shards[j] = shards[j], shards[i] })
		candidates = append(candidates, shards[:extra]...)
	}

	sortCandidateShards(st, candidates)
	return pickNewPods(st, candidates, false, rate)
}

// sortCandidateShards orders shards for placement: unassigned first, then
// by the owner's load descending, then by the owner's registration time
// ascending (older pods drain first), shard id as the final tie-break.
func sortCandidateShards(st *State, shards []sharding.ShardID) {
	loads := map[sharding.PodAddress]int{}
	for addr, set := range st.ShardsPerPod() {
		loads[addr] = set.Len()
	}
	sort.SliceStable(shards, func(i, j int) bool {
		oi, oj := st.Shards[shards[i]], st.Shards[shards[j]]
		switch {
		case oi == nil && oj != nil:
			return true
		case oi != nil && oj == nil:
			return false
		case oi == nil && oj == nil:
			return shards[i] < shards[j]
		}
		li, lj := loads[*oi], loads[*oj]
		if li != lj {
			return li > lj
		}
		ri := st.Pods[*oi].RegisteredAt
		rj := st.Pods[*oj].RegisteredAt
		if !ri.Equal(rj) {
			return ri.Before(rj)
		}
		return shards[i] < shards[j]
	})
}

// pickNewPods greedily selects, for each candidate shard in order, the
// least-loaded pod that runs the max version, has capacity left in this
// pass and did not itself lose shards earlier in the pass (prevents
// oscillation). Moving a shard is skipped when the best target would end
// up with at least the old owner's count minus one (no-op churn).
func pickNewPods(st *State, shards []sharding.ShardID, immediate bool, rate float64) (map[sharding.ShardID]sharding.PodAddress, map[sharding.ShardID]sharding.PodAddress) {
	maxVersion, ok := st.MaxVersion()
	if !ok {
		return nil, nil
	}

	var (
		assignments   = map[sharding.ShardID]sharding.PodAddress{}
		unassignments = map[sharding.ShardID]sharding.PodAddress{}
		loads         = map[sharding.PodAddress]int{}
		pickedPerPod  = map[sharding.PodAddress]int{}
		evicted       = map[sharding.PodAddress]bool{}
		perPodCap     = int(float64(len(st.Shards)) * rate)
	)
	for addr, set := range st.ShardsPerPod() {
		loads[addr] = set.Len()
	}

	for _, shard := range shards {
		var (
			best     *sharding.PodAddress
			bestLoad int
		)
		for addr, entry := range st.Pods {
			if entry.Pod.Version != maxVersion {
				continue
			}
			if !immediate && pickedPerPod[addr] >= perPodCap {
				continue
			}
			if evicted[addr] {
				continue
			}
			load := loads[addr]
			if best == nil || load < bestLoad ||
				(load == bestLoad && addr.String() < best.String()) {
				a := addr
				best, bestLoad = &a, load
			}
		}
		if best == nil {
			continue
		}

		old := st.Shards[shard]
		if old != nil {
			if loads[*best] >= loads[*old]-1 {
				continue
			}
			unassignments[shard] = *old
			loads[*old]--
			evicted[*old] = true
		}

		assignments[shard] = *best
		loads[*best]++
		pickedPerPod[*best]++
	}
	return assignments, unassignments
}

/* ---------------------- helpers ---------------------- */

type podShards struct {
	pod    sharding.PodAddress
	shards []sharding.ShardID
}

// groupShardsByPod groups a shard->pod map into per-pod shard lists,
// ordered by address then shard id for repeatable behavior.
func groupShardsByPod(byShard map[sharding.ShardID]sharding.PodAddress) []podShards {
	grouped := map[sharding.PodAddress][]sharding.ShardID{}
	for shard, addr := range byShard {
		grouped[addr] = append(grouped[addr], shard)
	}
	out := make([]podShards, 0, len(grouped))
	for addr, shards := range grouped {
		sort.Slice(shards, func(i, j int) bool { return shards[i] < shards[j] })
		out = append(out, podShards{pod: addr, shards: shards})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].pod.String() < out[j].pod.String() })
	return out
}

type podShardSet struct {
	pod sharding.PodAddress
	set *ds.Set[sharding.ShardID]
}

func sortedPodShardSets(perPod map[sharding.PodAddress]*ds.Set[sharding.ShardID]) []podShardSet {
	out := make([]podShardSet, 0, len(perPod))
	for addr, set := range perPod {
		out = append(out, podShardSet{pod: addr, set: set})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].pod.String() < out[j].pod.String() })
	return out
}
