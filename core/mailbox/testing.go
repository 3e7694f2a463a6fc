package mailbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/shardmgr-go/core/sharding"
)

// TestBackendCompliance runs the [Backend] contract against an
// implementation. open must return a fresh, empty backend configured
// with [DefaultLeaseWindow]; the suite controls time through the now
// arguments, so no real waiting happens.
func TestBackendCompliance(t *testing.T, open func(t *testing.T) Backend) {
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	requestRow := func(id string, shard sharding.ShardID) MessageRow {
		return MessageRow{
			ID:         id,
			Kind:       KindRequest,
			Shard:      shard,
			EntityType: "counter",
			EntityID:   "counter-" + id,
			Tag:        "increment",
			RequestID:  id,
			Payload:    []byte(`{"kind":0}`),
		}
	}

	t.Run("insert and get", func(t *testing.T) {
		b := open(t)
		ctx := t.Context()

		_, ok, err := b.GetMessage(ctx, "missing")
		require.NoError(t, err)
		require.False(t, ok)

		row := requestRow("req-1", 3)
		require.NoError(t, b.InsertMessage(ctx, row))

		got, ok, err := b.GetMessage(ctx, "req-1")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, row, got)
	})

	t.Run("insert is idempotent", func(t *testing.T) {
		b := open(t)
		ctx := t.Context()

		row := requestRow("req-1", 3)
		require.NoError(t, b.InsertMessage(ctx, row))

		altered := row
		altered.Tag = "something-else"
		require.NoError(t, b.InsertMessage(ctx, altered))

		got, ok, err := b.GetMessage(ctx, "req-1")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "increment", got.Tag)
	})

	t.Run("primary key lookup", func(t *testing.T) {
		b := open(t)
		ctx := t.Context()

		row := requestRow("req-1", 3)
		row.PrimaryKey = "order-42"
		require.NoError(t, b.InsertMessage(ctx, row))

		_, ok, err := b.FindByPrimaryKey(ctx, row.address(), "increment", "other-key")
		require.NoError(t, err)
		require.False(t, ok)

		got, ok, err := b.FindByPrimaryKey(ctx, row.address(), "increment", "order-42")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "req-1", got.ID)
	})

	t.Run("processed flag and ack cursor", func(t *testing.T) {
		b := open(t)
		ctx := t.Context()

		require.NoError(t, b.InsertMessage(ctx, requestRow("req-1", 3)))
		require.NoError(t, b.MarkProcessed(ctx, "req-1", true))
		require.NoError(t, b.SetAckCursor(ctx, "req-1", 7))

		got, _, err := b.GetMessage(ctx, "req-1")
		require.NoError(t, err)
		require.True(t, got.Processed)
		require.Equal(t, 7, got.LastAckedSeq)
	})

	t.Run("replies", func(t *testing.T) {
		b := open(t)
		ctx := t.Context()

		require.NoError(t, b.InsertMessage(ctx, requestRow("req-1", 3)))
		require.NoError(t, b.InsertReply(ctx, ReplyRow{ID: "c1", RequestID: "req-1", Kind: ReplyKindChunk, Sequence: 1, Payload: []byte(`{}`)}))
		require.NoError(t, b.InsertReply(ctx, ReplyRow{ID: "c2", RequestID: "req-1", Kind: ReplyKindChunk, Sequence: 2, Payload: []byte(`{}`)}))
		require.NoError(t, b.InsertReply(ctx, ReplyRow{ID: "x1", RequestID: "req-1", Kind: ReplyKindExit, Payload: []byte(`{}`)}))

		// the (request, sequence) and (request, exit) slots are unique
		require.NoError(t, b.InsertReply(ctx, ReplyRow{ID: "c2-dup", RequestID: "req-1", Kind: ReplyKindChunk, Sequence: 2, Payload: []byte(`{}`)}))
		require.NoError(t, b.InsertReply(ctx, ReplyRow{ID: "x2", RequestID: "req-1", Kind: ReplyKindExit, Payload: []byte(`{}`)}))

		rows, err := b.RepliesFor(ctx, "req-1")
		require.NoError(t, err)
		require.Len(t, rows, 3)
		require.Equal(t, []string{"c1", "c2", "x1"}, []string{rows[0].ID, rows[1].ID, rows[2].ID})

		acked, ok, err := b.MarkReplyAcked(ctx, "req-1", "c2")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, 2, acked.Sequence)

		rows, err = b.RepliesFor(ctx, "req-1")
		require.NoError(t, err)
		require.True(t, rows[1].Acked)

		require.NoError(t, b.DeleteReplies(ctx, "req-1"))
		rows, err = b.RepliesFor(ctx, "req-1")
		require.NoError(t, err)
		require.Empty(t, rows)
	})

	t.Run("unprocessed claims a lease", func(t *testing.T) {
		b := open(t)
		ctx := t.Context()

		require.NoError(t, b.InsertMessage(ctx, requestRow("req-1", 3)))

		rows, err := b.UnprocessedMessages(ctx, []sharding.ShardID{3}, base)
		require.NoError(t, err)
		require.Len(t, rows, 1)

		// claimed: hidden until the lease expires
		rows, err = b.UnprocessedMessages(ctx, []sharding.ShardID{3}, base.Add(time.Minute))
		require.NoError(t, err)
		require.Empty(t, rows)

		rows, err = b.UnprocessedMessages(ctx, []sharding.ShardID{3}, base.Add(DefaultLeaseWindow+time.Second))
		require.NoError(t, err)
		require.Len(t, rows, 1)
	})

	t.Run("unprocessed eligibility", func(t *testing.T) {
		b := open(t)
		ctx := t.Context()
		row := requestRow("req-1", 3)
		require.NoError(t, b.InsertMessage(ctx, row))

		// processed without chunks: nothing to replay
		require.NoError(t, b.MarkProcessed(ctx, "req-1", true))
		rows, err := b.UnprocessedMessages(ctx, []sharding.ShardID{3}, base)
		require.NoError(t, err)
		require.Empty(t, rows)

		// an unacked chunk re-opens the request
		require.NoError(t, b.InsertReply(ctx, ReplyRow{ID: "c1", RequestID: "req-1", Kind: ReplyKindChunk, Sequence: 1, Payload: []byte(`{}`)}))
		rows, err = b.UnprocessedMessages(ctx, []sharding.ShardID{3}, base)
		require.NoError(t, err)
		require.Len(t, rows, 1)

		// interrupts replay only while the request is not processed
		interrupt := MessageRow{ID: "int-1", Kind: KindInterrupt, Shard: 3, EntityType: row.EntityType, EntityID: row.EntityID, RequestID: "req-1", Payload: []byte(`{"kind":2}`)}
		require.NoError(t, b.InsertMessage(ctx, interrupt))
		rows, err = b.UnprocessedMessages(ctx, []sharding.ShardID{3}, base.Add(DefaultLeaseWindow+time.Second))
		require.NoError(t, err)
		require.Len(t, rows, 1)
		require.Equal(t, "req-1", rows[0].ID)

		// acking the chunk settles the request completely
		_, _, err = b.MarkReplyAcked(ctx, "req-1", "c1")
		require.NoError(t, err)
		rows, err = b.UnprocessedMessages(ctx, []sharding.ShardID{3}, base.Add(2*(DefaultLeaseWindow+time.Second)))
		require.NoError(t, err)
		require.Empty(t, rows)
	})

	t.Run("deliver at delays replay", func(t *testing.T) {
		b := open(t)
		ctx := t.Context()

		row := requestRow("req-1", 3)
		due := base.Add(time.Hour)
		row.DeliverAt = &due
		require.NoError(t, b.InsertMessage(ctx, row))

		rows, err := b.UnprocessedMessages(ctx, []sharding.ShardID{3}, base)
		require.NoError(t, err)
		require.Empty(t, rows)

		rows, err = b.UnprocessedMessages(ctx, []sharding.ShardID{3}, due.Add(time.Second))
		require.NoError(t, err)
		require.Len(t, rows, 1)
	})

	t.Run("reset clears leases", func(t *testing.T) {
		b := open(t)
		ctx := t.Context()

		require.NoError(t, b.InsertMessage(ctx, requestRow("req-1", 3)))
		_, err := b.UnprocessedMessages(ctx, []sharding.ShardID{3}, base)
		require.NoError(t, err)

		require.NoError(t, b.ResetShards(ctx, []sharding.ShardID{3}))
		rows, err := b.UnprocessedMessages(ctx, []sharding.ShardID{3}, base)
		require.NoError(t, err)
		require.Len(t, rows, 1)

		require.NoError(t, b.ResetAddress(ctx, rows[0].address()))
		rows, err = b.UnprocessedMessages(ctx, []sharding.ShardID{3}, base)
		require.NoError(t, err)
		require.Len(t, rows, 1)
	})

	t.Run("clear address", func(t *testing.T) {
		b := open(t)
		ctx := t.Context()

		row := requestRow("req-1", 3)
		row.PrimaryKey = "order-42"
		require.NoError(t, b.InsertMessage(ctx, row))
		require.NoError(t, b.InsertReply(ctx, ReplyRow{ID: "x1", RequestID: "req-1", Kind: ReplyKindExit, Payload: []byte(`{}`)}))

		other := requestRow("req-2", 3)
		other.EntityID = "someone-else"
		require.NoError(t, b.InsertMessage(ctx, other))

		require.NoError(t, b.ClearAddress(ctx, row.address()))

		_, ok, err := b.GetMessage(ctx, "req-1")
		require.NoError(t, err)
		require.False(t, ok)
		_, ok, err = b.FindByPrimaryKey(ctx, row.address(), "increment", "order-42")
		require.NoError(t, err)
		require.False(t, ok)
		replies, err := b.RepliesFor(ctx, "req-1")
		require.NoError(t, err)
		require.Empty(t, replies)

		_, ok, err = b.GetMessage(ctx, "req-2")
		require.NoError(t, err)
		require.True(t, ok)
	})

	t.Run("messages by id", func(t *testing.T) {
		b := open(t)
		ctx := t.Context()

		require.NoError(t, b.InsertMessage(ctx, requestRow("req-1", 3)))
		require.NoError(t, b.InsertMessage(ctx, requestRow("req-2", 4)))

		rows, err := b.MessagesByID(ctx, []string{"req-2", "missing"}, base)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		require.Equal(t, "req-2", rows[0].ID)

		// by-id claims the same lease
		rows, err = b.MessagesByID(ctx, []string{"req-2"}, base.Add(time.Minute))
		require.NoError(t, err)
		require.Empty(t, rows)
	})
}
