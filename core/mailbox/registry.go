package mailbox

import (
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/codewandler/shardmgr-go/core/sharding"
)

// ReplyHandlerFunc receives every reply saved for the subscribed request.
type ReplyHandlerFunc func(Reply)

// HandlerRegistration is a live reply subscription. Done resolves when
// the request terminates: nil after a terminal reply, or an error such as
// [ErrEntityNotAssigned] when the shard moved away.
type HandlerRegistration struct {
	ID string

	requestID string
	shard     sharding.ShardID
	respond   ReplyHandlerFunc
	done      chan error
	once      sync.Once
}

func (h *HandlerRegistration) Done() <-chan error { return h.done }

func (h *HandlerRegistration) resolve(err error) {
	h.once.Do(func() {
		h.done <- err
		close(h.done)
	})
}

// handlerRegistry tracks pending reply waits by request id and by shard
// so one shard invalidation can fail all of a shard's waiters at once.
type handlerRegistry struct {
	mu        sync.Mutex
	byRequest map[string]map[string]*HandlerRegistration
	byShard   map[sharding.ShardID]map[string]*HandlerRegistration
}

func newHandlerRegistry() *handlerRegistry {
	return &handlerRegistry{
		byRequest: map[string]map[string]*HandlerRegistration{},
		byShard:   map[sharding.ShardID]map[string]*HandlerRegistration{},
	}
}

func (r *handlerRegistry) register(requestID string, shard sharding.ShardID, respond ReplyHandlerFunc) *HandlerRegistration {
	h := &HandlerRegistration{
		ID:        gonanoid.Must(),
		requestID: requestID,
		shard:     shard,
		respond:   respond,
		done:      make(chan error, 1),
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byRequest[requestID] == nil {
		r.byRequest[requestID] = map[string]*HandlerRegistration{}
	}
	r.byRequest[requestID][h.ID] = h
	if r.byShard[shard] == nil {
		r.byShard[shard] = map[string]*HandlerRegistration{}
	}
	r.byShard[shard][h.ID] = h
	return h
}

func (r *handlerRegistry) removeLocked(h *HandlerRegistration) {
	if m := r.byRequest[h.requestID]; m != nil {
		delete(m, h.ID)
		if len(m) == 0 {
			delete(r.byRequest, h.requestID)
		}
	}
	if m := r.byShard[h.shard]; m != nil {
		delete(m, h.ID)
		if len(m) == 0 {
			delete(r.byShard, h.shard)
		}
	}
}

// unregister drops a single registration without resolving its wait.
func (r *handlerRegistry) unregister(id, requestID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.byRequest[requestID][id]; ok {
		r.removeLocked(h)
	}
}

// deliver pushes a reply to every handler of the request. A terminal
// reply also resolves and removes all of them.
func (r *handlerRegistry) deliver(reply Reply) {
	r.mu.Lock()
	var handlers []*HandlerRegistration
	for _, h := range r.byRequest[reply.ReplyTo()] {
		handlers = append(handlers, h)
	}
	if reply.Terminal() {
		for _, h := range handlers {
			r.removeLocked(h)
		}
	}
	r.mu.Unlock()

	// respond outside the lock so handlers may re-enter the storage
	for _, h := range handlers {
		h.respond(reply)
	}
	if reply.Terminal() {
		for _, h := range handlers {
			h.resolve(nil)
		}
	}
}

// failShards resolves every pending wait of the shards with err and
// returns how many were failed.
func (r *handlerRegistry) failShards(shards []sharding.ShardID, err error) int {
	r.mu.Lock()
	var handlers []*HandlerRegistration
	for _, shard := range shards {
		for _, h := range r.byShard[shard] {
			handlers = append(handlers, h)
		}
	}
	for _, h := range handlers {
		r.removeLocked(h)
	}
	r.mu.Unlock()

	for _, h := range handlers {
		h.resolve(err)
	}
	return len(handlers)
}

func (r *handlerRegistry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.byRequest {
		n += len(m)
	}
	return n
}
