package manager

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codewandler/shardmgr-go/core/sharding"
)

// Manager is the single source of truth for which pod owns which shard.
// All state transitions (register, unregister, rebalance applies) are
// indivisible; readers always see a complete revision.
type Manager struct {
	log     *slog.Logger
	cfg     Config
	storage ClusterStorage
	pods    PodsClient
	health  PodHealth
	metrics ManagerMetrics

	mu    sync.RWMutex
	state *State

	// single permit: at most one rebalance pass at a time, concurrent
	// callers queue on the mutex
	rebalanceMu sync.Mutex

	hub *eventHub

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New recovers state from storage, drops dead pods and their assignments,
// and starts the background rebalance and health-check loops. Call
// Shutdown to stop the loops and persist a final snapshot.
func New(cfg Config) (*Manager, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}

	m := &Manager{
		log:     cfg.Log.With(slog.String("component", "shard-manager")),
		cfg:     cfg,
		storage: cfg.Storage,
		pods:    cfg.Pods,
		health:  cfg.Health,
		metrics: cfg.Metrics,
	}
	m.ctx, m.cancel = context.WithCancel(cfg.Context)
	m.hub = newEventHub(m.log, m.metrics, cfg.EventBuffer)

	if err := m.recover(cfg.Context); err != nil {
		m.cancel()
		return nil, err
	}

	m.wg.Add(2)
	go m.rebalanceLoop()
	go m.healthLoop()

	return m, nil
}

func (m *Manager) recover(ctx context.Context) error {
	pods, err := m.storage.GetPods(ctx)
	if err != nil {
		return err
	}
	assignments, err := m.storage.GetAssignments(ctx)
	if err != nil {
		return err
	}

	// keep only pods that are alive right now
	alive := make(map[sharding.PodAddress]PodEntry, len(pods))
	for addr, entry := range pods {
		probeCtx, cancel := context.WithTimeout(ctx, m.cfg.PodPingTimeout)
		ok := m.health.IsAlive(probeCtx, addr)
		cancel()
		if !ok {
			m.log.Warn("dropping dead pod during recovery", slog.String("pod", addr.String()))
			continue
		}
		alive[addr] = entry
	}

	// drop assignments pointing at dropped pods
	for shard, owner := range assignments {
		if owner == nil {
			continue
		}
		if _, ok := alive[*owner]; !ok {
			m.log.Warn(
				"dropping stale shard assignment during recovery",
				slog.Int("shard", int(shard)),
				slog.String("pod", owner.String()),
			)
			assignments[shard] = nil
		}
	}

	m.state = NewState(alive, assignments, m.cfg.NumberOfShards)
	m.observeState(m.state)

	m.log.Info(
		"state recovered",
		slog.Int("pods", len(alive)),
		slog.Int("shards", m.cfg.NumberOfShards),
		slog.Int("unassigned", len(m.state.UnassignedShards())),
	)
	return nil
}

// Snapshot returns the current state revision. The returned value is a
// deep copy and safe to keep.
func (m *Manager) Snapshot() *State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.clone()
}

// GetAssignments returns the current shard-to-pod assignment map.
func (m *Manager) GetAssignments() map[sharding.ShardID]*sharding.PodAddress {
	return m.Snapshot().Shards
}

// Events subscribes to pod/shard lifecycle events. The returned cancel
// func releases the subscription; the channel is closed on cancel or
// manager shutdown.
func (m *Manager) Events() (<-chan Event, func()) {
	return m.hub.subscribe()
}

// Register upserts a pod. If any shard is unassigned this triggers an
// immediate rebalance in the background.
func (m *Manager) Register(ctx context.Context, pod sharding.Pod) error {
	m.log.Info("registering pod",
		slog.String("pod", pod.Address.String()),
		slog.String("version", pod.Version),
	)

	m.mu.Lock()
	st := m.state.clone()
	st.Pods[pod.Address] = PodEntry{Pod: pod, RegisteredAt: time.Now()}
	m.state = st
	hasUnassigned := len(st.UnassignedShards()) > 0
	m.mu.Unlock()

	m.observeState(st)
	m.hub.publish(PodRegistered{Pod: pod})

	m.detach(func(ctx context.Context) { m.persistPods(ctx) })
	if hasUnassigned {
		m.detach(func(ctx context.Context) { _ = m.Rebalance(ctx, true) })
	}
	return nil
}

// Unregister removes a pod and frees its shards in one atomic transition,
// then triggers an immediate rebalance in the background. Unknown pods are
// a no-op.
func (m *Manager) Unregister(ctx context.Context, addr sharding.PodAddress) error {
	m.mu.Lock()
	if _, ok := m.state.Pods[addr]; !ok {
		m.mu.Unlock()
		return nil
	}
	st := m.state.clone()
	freed := st.PodShards(addr)
	delete(st.Pods, addr)
	for _, shard := range freed {
		st.Shards[shard] = nil
	}
	m.state = st
	m.mu.Unlock()

	m.log.Info("unregistered pod",
		slog.String("pod", addr.String()),
		slog.Int("freed_shards", len(freed)),
	)

	m.observeState(st)
	m.hub.publish(PodUnregistered{Address: addr})
	if len(freed) > 0 {
		m.hub.publish(ShardsUnassigned{Address: addr, Shards: freed})
	}

	m.detach(func(ctx context.Context) { m.persistPods(ctx) })
	m.detach(func(ctx context.Context) { _ = m.Rebalance(ctx, true) })
	return nil
}

// NotifyUnhealthyPod unregisters addr only if the health probe still
// reports it dead and the pod is still known, guarding races with
// concurrent re-registration.
func (m *Manager) NotifyUnhealthyPod(ctx context.Context, addr sharding.PodAddress) {
	m.mu.RLock()
	_, known := m.state.Pods[addr]
	m.mu.RUnlock()
	if !known {
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.PodPingTimeout)
	alive := m.health.IsAlive(probeCtx, addr)
	cancel()
	if alive {
		return
	}

	m.log.Warn("pod is unhealthy", slog.String("pod", addr.String()))
	_ = m.Unregister(ctx, addr)
}

// checkPodHealth probes every known pod with bounded concurrency.
func (m *Manager) checkPodHealth(ctx context.Context) {
	m.mu.RLock()
	addrs := make([]sharding.PodAddress, 0, len(m.state.Pods))
	for addr := range m.state.Pods {
		addrs = append(addrs, addr)
	}
	m.mu.RUnlock()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.PingConcurrency)
	for _, addr := range addrs {
		addr := addr
		g.Go(func() error {
			m.NotifyUnhealthyPod(ctx, addr)
			return nil
		})
	}
	_ = g.Wait()
}

// Shutdown stops the background loops and attempts one final best-effort
// persist of pods and assignments. Persistence failure is tolerated: the
// state can be regenerated on the next boot.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()
	m.hub.close()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	st := m.Snapshot()
	if err := m.storage.SavePods(ctx, st.Pods); err != nil {
		m.log.Warn("final pod persist failed", slog.Any("error", err))
	}
	if err := m.storage.SaveAssignments(ctx, st.Shards); err != nil {
		m.log.Warn("final assignment persist failed", slog.Any("error", err))
	}
	m.log.Info("shard manager stopped")
	return nil
}

/* ---------------------- background loops ---------------------- */

func (m *Manager) rebalanceLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.RebalanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			_ = m.Rebalance(m.ctx, false)
		}
	}
}

func (m *Manager) healthLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.PodHealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.checkPodHealth(m.ctx)
		}
	}
}

// detach runs fn as a background task owned by the manager's lifecycle:
// not awaited by the trigger, cancelled only at shutdown.
func (m *Manager) detach(fn func(ctx context.Context)) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		fn(m.ctx)
	}()
}

/* ---------------------- persistence ---------------------- */

func (m *Manager) persistPods(ctx context.Context) {
	m.persist(ctx, "pods", func(ctx context.Context) error {
		return m.storage.SavePods(ctx, m.Snapshot().Pods)
	})
}

func (m *Manager) persistAssignments(ctx context.Context) {
	m.persist(ctx, "assignments", func(ctx context.Context) error {
		return m.storage.SaveAssignments(ctx, m.Snapshot().Shards)
	})
}

// persist retries fn a fixed number of times, then gives up with a log
// line. In-memory state stays authoritative between restarts.
func (m *Manager) persist(ctx context.Context, what string, fn func(ctx context.Context) error) {
	var err error
	for attempt := 0; attempt <= m.cfg.PersistRetryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(m.cfg.PersistRetryInterval):
			}
		}
		if err = fn(ctx); err == nil {
			return
		}
		m.log.Warn("persist failed",
			slog.String("what", what),
			slog.Int("attempt", attempt+1),
			slog.Any("error", err),
		)
	}
	m.metrics.PersistExhausted(what)
	m.log.Error("giving up persisting", slog.String("what", what), slog.Any("error", err))
}

func (m *Manager) observeState(st *State) {
	m.metrics.PodCount(len(st.Pods))
	m.metrics.UnassignedShards(len(st.UnassignedShards()))
}
