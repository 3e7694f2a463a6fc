package manager

import (
	"log/slog"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/codewandler/shardmgr-go/core/sharding"
)

type (
	// Event is a pod/shard lifecycle notification. The set of variants is
	// closed: PodRegistered, PodUnregistered, ShardsAssigned,
	// ShardsUnassigned.
	Event interface{ isEvent() }

	PodRegistered struct {
		Pod sharding.Pod
	}

	PodUnregistered struct {
		Address sharding.PodAddress
	}

	ShardsAssigned struct {
		Address sharding.PodAddress
		Shards  []sharding.ShardID
	}

	ShardsUnassigned struct {
		Address sharding.PodAddress
		Shards  []sharding.ShardID
	}
)

func (PodRegistered) isEvent()    {}
func (PodUnregistered) isEvent()  {}
func (ShardsAssigned) isEvent()   {}
func (ShardsUnassigned) isEvent() {}

// eventHub multicasts events to subscribers. Every subscriber gets its own
// bounded buffer; publishing never blocks, a full buffer drops the event
// and only that subscriber's view goes stale.
type eventHub struct {
	mu      sync.Mutex
	log     *slog.Logger
	metrics ManagerMetrics
	buffer  int
	closed  bool
	subs    map[string]chan Event
}

func newEventHub(log *slog.Logger, metrics ManagerMetrics, buffer int) *eventHub {
	return &eventHub{
		log:     log,
		metrics: metrics,
		buffer:  buffer,
		subs:    make(map[string]chan Event),
	}
}

func (h *eventHub) subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, h.buffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}

	id := gonanoid.Must()
	h.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(ch)
			}
		})
	}
	return ch, cancel
}

func (h *eventHub) publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.metrics.EventDropped()
			h.log.Debug("event dropped for slow subscriber", slog.String("subscriber", id))
		}
	}
}

func (h *eventHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
}
