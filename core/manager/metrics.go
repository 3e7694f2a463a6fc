package manager

import "github.com/codewandler/shardmgr-go/core/metrics"

// ManagerMetrics defines the metrics interface for the shard manager.
// All methods are thread-safe.
type ManagerMetrics interface {
	// PodCount tracks the number of registered pods.
	PodCount(count int)
	// UnassignedShards tracks the number of shards without an owner.
	UnassignedShards(count int)

	// RebalanceDuration times one rebalance pass.
	RebalanceDuration() metrics.Timer
	// RebalanceCompleted counts finished passes.
	RebalanceCompleted(immediate bool, success bool)

	// PingFailed counts failed readiness pings.
	PingFailed()
	// PersistExhausted counts persistence attempts that ran out of retries.
	// what is "pods" or "assignments".
	PersistExhausted(what string)
	// EventDropped counts events dropped for slow subscribers.
	EventDropped()
}

// nopManagerMetrics is a no-op implementation of ManagerMetrics.
type nopManagerMetrics struct{}

func (nopManagerMetrics) PodCount(int)                    {}
func (nopManagerMetrics) UnassignedShards(int)            {}
func (nopManagerMetrics) RebalanceDuration() metrics.Timer { return metrics.NopTimer() }
func (nopManagerMetrics) RebalanceCompleted(bool, bool)   {}
func (nopManagerMetrics) PingFailed()                     {}
func (nopManagerMetrics) PersistExhausted(string)         {}
func (nopManagerMetrics) EventDropped()                   {}

// NopManagerMetrics returns a no-op ManagerMetrics implementation.
func NopManagerMetrics() ManagerMetrics { return nopManagerMetrics{} }
