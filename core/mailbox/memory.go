package mailbox

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/codewandler/shardmgr-go/core/sharding"
)

// MemoryBackend is the in-memory reference [Backend], used in tests and
// as the executable description of the contract.
type MemoryBackend struct {
	mu       sync.Mutex
	lease    time.Duration
	messages map[string]*MessageRow
	order    map[sharding.ShardID][]string
	byKey    map[string]string
	replies  map[string][]*ReplyRow
}

type MemoryBackendOption func(*MemoryBackend)

// WithLeaseWindow overrides [DefaultLeaseWindow], mainly for tests.
func WithLeaseWindow(d time.Duration) MemoryBackendOption {
	return func(b *MemoryBackend) { b.lease = d }
}

func NewMemoryBackend(opts ...MemoryBackendOption) *MemoryBackend {
	b := &MemoryBackend{
		lease:    DefaultLeaseWindow,
		messages: map[string]*MessageRow{},
		order:    map[sharding.ShardID][]string{},
		byKey:    map[string]string{},
		replies:  map[string][]*ReplyRow{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func primaryKeyIndex(addr EntityAddress, tag, key string) string {
	return addr.EntityType + "\x00" + addr.EntityID + "\x00" + tag + "\x00" + key
}

func (b *MemoryBackend) InsertMessage(_ context.Context, row MessageRow) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.messages[row.ID]; ok {
		return nil
	}
	stored := row
	b.messages[row.ID] = &stored
	b.order[row.Shard] = append(b.order[row.Shard], row.ID)
	if row.PrimaryKey != "" {
		b.byKey[primaryKeyIndex(stored.address(), row.Tag, row.PrimaryKey)] = row.ID
	}
	return nil
}

func (b *MemoryBackend) GetMessage(_ context.Context, id string) (MessageRow, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	row, ok := b.messages[id]
	if !ok {
		return MessageRow{}, false, nil
	}
	return *row, true, nil
}

func (b *MemoryBackend) FindByPrimaryKey(_ context.Context, addr EntityAddress, tag, key string) (MessageRow, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.byKey[primaryKeyIndex(addr, tag, key)]
	if !ok {
		return MessageRow{}, false, nil
	}
	row, ok := b.messages[id]
	if !ok {
		return MessageRow{}, false, nil
	}
	return *row, true, nil
}

func (b *MemoryBackend) MarkProcessed(_ context.Context, requestID string, processed bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if row, ok := b.messages[requestID]; ok {
		row.Processed = processed
	}
	return nil
}

func (b *MemoryBackend) SetAckCursor(_ context.Context, requestID string, seq int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if row, ok := b.messages[requestID]; ok {
		row.LastAckedSeq = seq
	}
	return nil
}

func (b *MemoryBackend) InsertReply(_ context.Context, row ReplyRow) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, existing := range b.replies[row.RequestID] {
		if existing.ID == row.ID {
			return nil
		}
		// one exit per request, one chunk per sequence
		if row.Kind == ReplyKindExit && existing.Kind == ReplyKindExit {
			return nil
		}
		if row.Kind == ReplyKindChunk && existing.Kind == ReplyKindChunk && existing.Sequence == row.Sequence {
			return nil
		}
	}
	stored := row
	b.replies[row.RequestID] = append(b.replies[row.RequestID], &stored)
	return nil
}

func (b *MemoryBackend) RepliesFor(_ context.Context, requestID string) ([]ReplyRow, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rows := b.replies[requestID]
	out := make([]ReplyRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row)
	}
	return out, nil
}

func (b *MemoryBackend) DeleteReplies(_ context.Context, requestID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.replies, requestID)
	return nil
}

func (b *MemoryBackend) MarkReplyAcked(_ context.Context, requestID, replyID string) (ReplyRow, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, row := range b.replies[requestID] {
		if row.ID == replyID {
			row.Acked = true
			return *row, true, nil
		}
	}
	return ReplyRow{}, false, nil
}

func (b *MemoryBackend) UnprocessedMessages(_ context.Context, shards []sharding.ShardID, now time.Time) ([]MessageRow, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []MessageRow
	for _, shard := range shards {
		for _, id := range b.order[shard] {
			row := b.messages[id]
			if b.claimLocked(row, now) {
				out = append(out, *row)
			}
		}
	}
	return out, nil
}

func (b *MemoryBackend) MessagesByID(_ context.Context, ids []string, now time.Time) ([]MessageRow, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []MessageRow
	for _, id := range ids {
		row, ok := b.messages[id]
		if !ok {
			continue
		}
		if b.claimLocked(row, now) {
			out = append(out, *row)
		}
	}
	return out, nil
}

// claimLocked reports whether a row is due for replay at now and stamps
// its lease when it is.
func (b *MemoryBackend) claimLocked(row *MessageRow, now time.Time) bool {
	if row.DeliverAt != nil && row.DeliverAt.After(now) {
		return false
	}
	if !row.LastRead.IsZero() && now.Sub(row.LastRead) < b.lease {
		return false
	}
	request, ok := b.messages[row.RequestID]
	if !ok {
		return false
	}
	switch row.Kind {
	case KindRequest, KindAckChunk:
		if request.Processed && !b.hasUnackedChunksLocked(request.ID) {
			return false
		}
	case KindInterrupt:
		if request.Processed {
			return false
		}
	}
	row.LastRead = now
	return true
}

func (b *MemoryBackend) hasUnackedChunksLocked(requestID string) bool {
	for _, reply := range b.replies[requestID] {
		if reply.Kind == ReplyKindChunk && !reply.Acked {
			return true
		}
	}
	return false
}

func (b *MemoryBackend) ResetShards(_ context.Context, shards []sharding.ShardID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, shard := range shards {
		for _, id := range b.order[shard] {
			b.messages[id].LastRead = time.Time{}
		}
	}
	return nil
}

func (b *MemoryBackend) ResetAddress(_ context.Context, addr EntityAddress) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range b.order[addr.Shard] {
		row := b.messages[id]
		if row.EntityType == addr.EntityType && row.EntityID == addr.EntityID {
			row.LastRead = time.Time{}
		}
	}
	return nil
}

func (b *MemoryBackend) ClearAddress(_ context.Context, addr EntityAddress) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := b.order[addr.Shard]
	kept := ids[:0]
	for _, id := range ids {
		row := b.messages[id]
		if row.EntityType != addr.EntityType || row.EntityID != addr.EntityID {
			kept = append(kept, id)
			continue
		}
		delete(b.messages, id)
		delete(b.replies, id)
		if row.PrimaryKey != "" {
			delete(b.byKey, primaryKeyIndex(row.address(), row.Tag, row.PrimaryKey))
		}
	}
	b.order[addr.Shard] = slices.Clip(kept)
	return nil
}
