package mailbox

import (
	"context"
	"time"

	"github.com/codewandler/shardmgr-go/core/sharding"
)

// DefaultLeaseWindow is how long a claimed unprocessed row stays hidden
// from further polls before it may be re-claimed.
const DefaultLeaseWindow = 5 * time.Minute

// MessageRow is a persisted envelope, flattened to the columns a backend
// stores and queries on.
type MessageRow struct {
	ID         string
	Kind       EnvelopeKind
	Shard      sharding.ShardID
	EntityType string
	EntityID   string
	Tag        string
	// PrimaryKey is the caller-supplied idempotency key. Empty means the
	// row is keyed by ID alone.
	PrimaryKey string
	// RequestID points at the parent request for acks and interrupts and
	// equals ID for requests.
	RequestID string
	Payload   []byte

	Processed bool
	// LastAckedSeq is the highest chunk sequence the caller acknowledged.
	LastAckedSeq int
	DeliverAt    *time.Time
	// LastRead is the lease stamp. Zero means the row was never claimed.
	LastRead time.Time
}

func (r MessageRow) address() EntityAddress {
	return EntityAddress{Shard: r.Shard, EntityType: r.EntityType, EntityID: r.EntityID}
}

// ReplyRow is a persisted reply.
type ReplyRow struct {
	ID        string
	RequestID string
	Kind      ReplyKind
	// Sequence is set for chunk rows only.
	Sequence int
	Payload  []byte
	Acked    bool
}

// Backend is the persistence contract of [Storage]. Implementations must
// be safe for concurrent use. Insert* calls are idempotent: re-inserting
// an existing row (same id, or for replies the same (request, exit) or
// (request, sequence) slot) is a no-op, so at-least-once replays of the
// save path never fail.
type Backend interface {
	// InsertMessage stores an envelope row.
	InsertMessage(ctx context.Context, row MessageRow) error
	// GetMessage returns a row by id, reporting whether it exists.
	GetMessage(ctx context.Context, id string) (MessageRow, bool, error)
	// FindByPrimaryKey returns the request stored for (address, tag, key).
	FindByPrimaryKey(ctx context.Context, addr EntityAddress, tag, key string) (MessageRow, bool, error)
	// MarkProcessed sets the processed flag of a request row.
	MarkProcessed(ctx context.Context, requestID string, processed bool) error
	// SetAckCursor records the highest acknowledged chunk sequence.
	SetAckCursor(ctx context.Context, requestID string, seq int) error

	// InsertReply stores a reply row.
	InsertReply(ctx context.Context, row ReplyRow) error
	// RepliesFor returns all reply rows of a request in insertion order.
	RepliesFor(ctx context.Context, requestID string) ([]ReplyRow, error)
	// DeleteReplies removes all reply rows of a request.
	DeleteReplies(ctx context.Context, requestID string) error
	// MarkReplyAcked flags one reply row acknowledged and returns it.
	MarkReplyAcked(ctx context.Context, requestID, replyID string) (ReplyRow, bool, error)

	// UnprocessedMessages returns rows of the given shards that are due
	// for replay at now, claiming each returned row by stamping LastRead.
	// A row is due when its deliver-at deadline (if any) has passed, its
	// lease (if any) has expired, and its request still needs work:
	// requests without a terminal reply or with unacknowledged chunks,
	// acks whose request is in that same situation, interrupts whose
	// request is not processed.
	UnprocessedMessages(ctx context.Context, shards []sharding.ShardID, now time.Time) ([]MessageRow, error)
	// MessagesByID is [Backend.UnprocessedMessages] for an explicit id
	// set instead of whole shards.
	MessagesByID(ctx context.Context, ids []string, now time.Time) ([]MessageRow, error)

	// ResetShards clears the lease stamps of all rows in the shards.
	ResetShards(ctx context.Context, shards []sharding.ShardID) error
	// ResetAddress clears the lease stamps of one entity's rows.
	ResetAddress(ctx context.Context, addr EntityAddress) error
	// ClearAddress deletes all messages and replies of one entity.
	ClearAddress(ctx context.Context, addr EntityAddress) error
}
