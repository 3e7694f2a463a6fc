// Package manager implements the cluster's shard coordinator: the single
// source of truth for which pod owns which shard of the partitioned entity
// space.
//
// # Architecture
//
// The manager keeps a [State] revision (pod registry + shard assignment
// map) behind a read/write lock. Every mutation ([Manager.Register],
// [Manager.Unregister] and the state updates inside [Manager.Rebalance])
// is one indivisible transition; readers always observe a complete
// revision via [Manager.Snapshot] or [Manager.GetAssignments].
//
// External collaborators are consumed as interfaces:
//
//   - [ClusterStorage]: durable pod registry and assignment map
//   - [PodsClient]: remote ping/assign/unassign calls against pods
//   - [PodHealth]: liveness probe used by the health sweep
//
// # Rebalancing
//
// [Manager.Rebalance] is serialized by a single-permit lock. Immediate
// passes place all unassigned shards without a per-pod cap; periodic
// passes move at most NumberOfShards*RebalanceRate shards per pod, and
// only when all pods run the same version (load is never pushed onto a
// pod mid-rollout). Pods that fail a readiness ping or an assign/unassign
// call are excluded from the pass, re-verified asynchronously and, for
// immediate passes, the pass is retried after a backoff.
//
// # Background work
//
// Post-mutation persistence, triggered rebalances, the periodic rebalance
// and health loops all run as detached tasks owned by the manager's
// lifecycle; [Manager.Shutdown] cancels them, waits, and performs a final
// best-effort persist.
//
// # Events
//
// [Manager.Events] subscribes to [PodRegistered], [PodUnregistered],
// [ShardsAssigned] and [ShardsUnassigned] notifications. Each subscriber
// has a bounded buffer; slow subscribers drop events instead of blocking
// the coordinator.
package manager
