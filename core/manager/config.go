package manager

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Config configures a Manager. Storage, Pods and Health are required;
// everything else has defaults.
type Config struct {
	Context context.Context
	Log     *slog.Logger
	Metrics ManagerMetrics

	Storage ClusterStorage
	Pods    PodsClient
	Health  PodHealth

	// NumberOfShards is the fixed size of the shard space (default 300).
	NumberOfShards int

	// RebalanceInterval is the period of the background rebalance loop
	// (default 20s).
	RebalanceInterval time.Duration

	// RebalanceRetryInterval is the backoff before an immediate rebalance
	// pass is retried after remote failures (default 10s).
	RebalanceRetryInterval time.Duration

	// RebalanceRate is the fraction of the shard space a single periodic
	// pass may move onto one pod (default 0.02).
	RebalanceRate float64

	// PersistRetryCount and PersistRetryInterval bound the best-effort
	// persistence retries (defaults 3 and 3s).
	PersistRetryCount    int
	PersistRetryInterval time.Duration

	// PodHealthCheckInterval is the period of the liveness sweep (default 1m).
	PodHealthCheckInterval time.Duration

	// PodPingTimeout bounds a single readiness ping (default 3s).
	PodPingTimeout time.Duration

	// PingConcurrency bounds concurrent liveness probes (default 8).
	PingConcurrency int

	// EventBuffer is the per-subscriber event buffer size (default 64).
	// A slow subscriber loses events, it never blocks the manager.
	EventBuffer int
}

func (c *Config) applyDefaults() error {
	if c.Storage == nil {
		return errors.New("manager: Config.Storage is required")
	}
	if c.Pods == nil {
		return errors.New("manager: Config.Pods is required")
	}
	if c.Health == nil {
		return errors.New("manager: Config.Health is required")
	}
	if c.Context == nil {
		c.Context = context.Background()
	}
	if c.Log == nil {
		c.Log = slog.Default()
	}
	if c.Metrics == nil {
		c.Metrics = NopManagerMetrics()
	}
	if c.NumberOfShards <= 0 {
		c.NumberOfShards = 300
	}
	if c.RebalanceInterval <= 0 {
		c.RebalanceInterval = 20 * time.Second
	}
	if c.RebalanceRetryInterval <= 0 {
		c.RebalanceRetryInterval = 10 * time.Second
	}
	if c.RebalanceRate <= 0 {
		c.RebalanceRate = 0.02
	}
	if c.PersistRetryCount <= 0 {
		c.PersistRetryCount = 3
	}
	if c.PersistRetryInterval <= 0 {
		c.PersistRetryInterval = 3 * time.Second
	}
	if c.PodHealthCheckInterval <= 0 {
		c.PodHealthCheckInterval = time.Minute
	}
	if c.PodPingTimeout <= 0 {
		c.PodPingTimeout = 3 * time.Second
	}
	if c.PingConcurrency <= 0 {
		c.PingConcurrency = 8
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 64
	}
	return nil
}
