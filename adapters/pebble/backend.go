// Package pebble stores the mailbox in an embedded Pebble database, for
// pods that need a durable mailbox without an external datastore.
//
// Keyspace:
//
//	m/<message id>                      message row
//	s/<shard>/<seq>                     per-shard insertion order -> message id
//	k/<type>/<entity>/<tag>/<key>       primary-key index -> message id
//	r/<request id>                      reply rows of one request
//
// Reply rows of a request are kept as one document: every reply
// operation is a read-modify-write under the backend mutex, which keeps
// the uniqueness rules ((request, exit) and (request, sequence) slots)
// trivially atomic.
package pebble

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/codewandler/shardmgr-go/core/mailbox"
	"github.com/codewandler/shardmgr-go/core/sharding"
	"github.com/codewandler/shardmgr-go/internal/codec"
)

type BackendConfig struct {
	// Path is the database directory, required.
	Path string
	// LeaseWindow overrides mailbox.DefaultLeaseWindow.
	LeaseWindow time.Duration
}

// Backend is a durable mailbox.Backend on a local Pebble database.
type Backend struct {
	mu    sync.Mutex
	db    *pebble.DB
	lease time.Duration
	seq   uint64
}

var _ mailbox.Backend = (*Backend)(nil)

func Open(cfg BackendConfig) (*Backend, error) {
	if cfg.Path == "" {
		return nil, errors.New("pebble: path is required")
	}
	if cfg.LeaseWindow == 0 {
		cfg.LeaseWindow = mailbox.DefaultLeaseWindow
	}
	db, err := pebble.Open(cfg.Path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Path, err)
	}
	b := &Backend{db: db, lease: cfg.LeaseWindow}
	if err := b.recoverSeq(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

func (b *Backend) Close() error {
	return b.db.Close()
}

// recoverSeq restores the order counter from the highest stored order
// key so appends after a restart keep sorting behind existing rows.
func (b *Backend) recoverSeq() error {
	iter, err := b.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("s/"),
		UpperBound: []byte("s/\xff"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		parts := strings.Split(string(iter.Key()), "/")
		if len(parts) != 3 {
			continue
		}
		seq, err := strconv.ParseUint(parts[2], 10, 64)
		if err == nil && seq > b.seq {
			b.seq = seq
		}
	}
	return iter.Error()
}

func messageKey(id string) []byte {
	return []byte("m/" + id)
}

func orderKey(shard sharding.ShardID, seq uint64) []byte {
	return []byte(fmt.Sprintf("s/%010d/%020d", shard, seq))
}

func orderPrefix(shard sharding.ShardID) ([]byte, []byte) {
	prefix := fmt.Sprintf("s/%010d/", shard)
	return []byte(prefix), []byte(prefix + "\xff")
}

func primaryKeyKey(addr mailbox.EntityAddress, tag, key string) []byte {
	return []byte("k/" + addr.EntityType + "/" + addr.EntityID + "/" + tag + "/" + key)
}

func repliesKey(requestID string) []byte {
	return []byte("r/" + requestID)
}

func (b *Backend) getJSON(key []byte, v any) (bool, error) {
	data, closer, err := b.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	defer closer.Close()
	if err := codec.Default.Unmarshal(data, v); err != nil {
		return false, err
	}
	return true, nil
}

func (b *Backend) setJSON(key []byte, v any) error {
	data, err := codec.Default.Marshal(v)
	if err != nil {
		return err
	}
	return b.db.Set(key, data, pebble.Sync)
}

func (b *Backend) InsertMessage(_ context.Context, row mailbox.MessageRow) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var existing mailbox.MessageRow
	ok, err := b.getJSON(messageKey(row.ID), &existing)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if err := b.setJSON(messageKey(row.ID), row); err != nil {
		return err
	}
	b.seq++
	if err := b.db.Set(orderKey(row.Shard, b.seq), []byte(row.ID), pebble.Sync); err != nil {
		return err
	}
	if row.PrimaryKey != "" {
		addr := mailbox.EntityAddress{Shard: row.Shard, EntityType: row.EntityType, EntityID: row.EntityID}
		if err := b.db.Set(primaryKeyKey(addr, row.Tag, row.PrimaryKey), []byte(row.ID), pebble.Sync); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) GetMessage(_ context.Context, id string) (mailbox.MessageRow, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.getMessageLocked(id)
}

func (b *Backend) getMessageLocked(id string) (mailbox.MessageRow, bool, error) {
	var row mailbox.MessageRow
	ok, err := b.getJSON(messageKey(id), &row)
	if err != nil || !ok {
		return mailbox.MessageRow{}, false, err
	}
	return row, true, nil
}

func (b *Backend) FindByPrimaryKey(_ context.Context, addr mailbox.EntityAddress, tag, key string) (mailbox.MessageRow, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, closer, err := b.db.Get(primaryKeyKey(addr, tag, key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return mailbox.MessageRow{}, false, nil
		}
		return mailbox.MessageRow{}, false, err
	}
	id := string(data)
	closer.Close()
	return b.getMessageLocked(id)
}

func (b *Backend) updateMessage(id string, update func(*mailbox.MessageRow)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	row, ok, err := b.getMessageLocked(id)
	if err != nil || !ok {
		return err
	}
	update(&row)
	return b.setJSON(messageKey(id), row)
}

func (b *Backend) MarkProcessed(_ context.Context, requestID string, processed bool) error {
	return b.updateMessage(requestID, func(row *mailbox.MessageRow) { row.Processed = processed })
}

func (b *Backend) SetAckCursor(_ context.Context, requestID string, seq int) error {
	return b.updateMessage(requestID, func(row *mailbox.MessageRow) { row.LastAckedSeq = seq })
}

func (b *Backend) repliesLocked(requestID string) ([]mailbox.ReplyRow, error) {
	var rows []mailbox.ReplyRow
	if _, err := b.getJSON(repliesKey(requestID), &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (b *Backend) InsertReply(_ context.Context, row mailbox.ReplyRow) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	rows, err := b.repliesLocked(row.RequestID)
	if err != nil {
		return err
	}
	for _, existing := range rows {
		if existing.ID == row.ID {
			return nil
		}
		if row.Kind == mailbox.ReplyKindExit && existing.Kind == mailbox.ReplyKindExit {
			return nil
		}
		if row.Kind == mailbox.ReplyKindChunk && existing.Kind == mailbox.ReplyKindChunk && existing.Sequence == row.Sequence {
			return nil
		}
	}
	return b.setJSON(repliesKey(row.RequestID), append(rows, row))
}

func (b *Backend) RepliesFor(_ context.Context, requestID string) ([]mailbox.ReplyRow, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rows, err := b.repliesLocked(requestID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (b *Backend) DeleteReplies(_ context.Context, requestID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.db.Delete(repliesKey(requestID), pebble.Sync)
}

func (b *Backend) MarkReplyAcked(_ context.Context, requestID, replyID string) (mailbox.ReplyRow, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rows, err := b.repliesLocked(requestID)
	if err != nil {
		return mailbox.ReplyRow{}, false, err
	}
	for i := range rows {
		if rows[i].ID == replyID {
			rows[i].Acked = true
			if err := b.setJSON(repliesKey(requestID), rows); err != nil {
				return mailbox.ReplyRow{}, false, err
			}
			return rows[i], true, nil
		}
	}
	return mailbox.ReplyRow{}, false, nil
}

// shardIDs returns the message ids of a shard in insertion order.
func (b *Backend) shardIDsLocked(shard sharding.ShardID) ([]string, error) {
	lower, upper := orderPrefix(shard)
	iter, err := b.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var ids []string
	for iter.First(); iter.Valid(); iter.Next() {
		ids = append(ids, string(iter.Value()))
	}
	return ids, iter.Error()
}

func (b *Backend) UnprocessedMessages(_ context.Context, shards []sharding.ShardID, now time.Time) ([]mailbox.MessageRow, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []mailbox.MessageRow
	for _, shard := range shards {
		ids, err := b.shardIDsLocked(shard)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			row, claimed, err := b.claimLocked(id, now)
			if err != nil {
				return nil, err
			}
			if claimed {
				out = append(out, row)
			}
		}
	}
	return out, nil
}

func (b *Backend) MessagesByID(_ context.Context, ids []string, now time.Time) ([]mailbox.MessageRow, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []mailbox.MessageRow
	for _, id := range ids {
		row, claimed, err := b.claimLocked(id, now)
		if err != nil {
			return nil, err
		}
		if claimed {
			out = append(out, row)
		}
	}
	return out, nil
}

func (b *Backend) claimLocked(id string, now time.Time) (mailbox.MessageRow, bool, error) {
	row, ok, err := b.getMessageLocked(id)
	if err != nil || !ok {
		return mailbox.MessageRow{}, false, err
	}
	if row.DeliverAt != nil && row.DeliverAt.After(now) {
		return mailbox.MessageRow{}, false, nil
	}
	if !row.LastRead.IsZero() && now.Sub(row.LastRead) < b.lease {
		return mailbox.MessageRow{}, false, nil
	}
	request, ok, err := b.getMessageLocked(row.RequestID)
	if err != nil || !ok {
		return mailbox.MessageRow{}, false, err
	}
	switch row.Kind {
	case mailbox.KindRequest, mailbox.KindAckChunk:
		open, err := b.requestOpenLocked(request)
		if err != nil || !open {
			return mailbox.MessageRow{}, false, err
		}
	case mailbox.KindInterrupt:
		if request.Processed {
			return mailbox.MessageRow{}, false, nil
		}
	}
	row.LastRead = now
	if err := b.setJSON(messageKey(id), row); err != nil {
		return mailbox.MessageRow{}, false, err
	}
	return row, true, nil
}

// requestOpenLocked reports whether a request still needs work: no
// terminal reply yet, or chunks its caller has not acknowledged.
func (b *Backend) requestOpenLocked(request mailbox.MessageRow) (bool, error) {
	if !request.Processed {
		return true, nil
	}
	rows, err := b.repliesLocked(request.ID)
	if err != nil {
		return false, err
	}
	for _, reply := range rows {
		if reply.Kind == mailbox.ReplyKindChunk && !reply.Acked {
			return true, nil
		}
	}
	return false, nil
}

func (b *Backend) ResetShards(_ context.Context, shards []sharding.ShardID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, shard := range shards {
		if err := b.resetShardLocked(shard, nil); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) ResetAddress(_ context.Context, addr mailbox.EntityAddress) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.resetShardLocked(addr.Shard, &addr)
}

func (b *Backend) resetShardLocked(shard sharding.ShardID, only *mailbox.EntityAddress) error {
	ids, err := b.shardIDsLocked(shard)
	if err != nil {
		return err
	}
	for _, id := range ids {
		row, ok, err := b.getMessageLocked(id)
		if err != nil || !ok {
			if err != nil {
				return err
			}
			continue
		}
		if only != nil && (row.EntityType != only.EntityType || row.EntityID != only.EntityID) {
			continue
		}
		row.LastRead = time.Time{}
		if err := b.setJSON(messageKey(id), row); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) ClearAddress(_ context.Context, addr mailbox.EntityAddress) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	lower, upper := orderPrefix(addr.Shard)
	iter, err := b.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return err
	}
	type victim struct {
		orderKey []byte
		row      mailbox.MessageRow
	}
	var victims []victim
	for iter.First(); iter.Valid(); iter.Next() {
		row, ok, err := b.getMessageLocked(string(iter.Value()))
		if err != nil {
			iter.Close()
			return err
		}
		if !ok || row.EntityType != addr.EntityType || row.EntityID != addr.EntityID {
			continue
		}
		key := make([]byte, len(iter.Key()))
		copy(key, iter.Key())
		victims = append(victims, victim{orderKey: key, row: row})
	}
	if err := iter.Close(); err != nil {
		return err
	}
	batch := b.db.NewBatch()
	defer batch.Close()
	for _, v := range victims {
		if err := batch.Delete(v.orderKey, nil); err != nil {
			return err
		}
		if err := batch.Delete(messageKey(v.row.ID), nil); err != nil {
			return err
		}
		if err := batch.Delete(repliesKey(v.row.ID), nil); err != nil {
			return err
		}
		if v.row.PrimaryKey != "" {
			if err := batch.Delete(primaryKeyKey(addr, v.row.Tag, v.row.PrimaryKey), nil); err != nil {
				return err
			}
		}
	}
	return batch.Commit(pebble.Sync)
}
