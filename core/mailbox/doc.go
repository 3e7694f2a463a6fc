// Package mailbox implements the durable mailbox of the cluster: every
// envelope sent toward an entity and every reply produced for it is
// persisted, so that moving a shard to a new pod never loses or
// duplicates work.
//
// # Model
//
// An [Envelope] is one of [Request], [AckChunk] or [Interrupt]; a [Reply]
// is [ReplyExit] (terminal) or [ReplyChunk] (one unit of a streamed
// response, acknowledged individually). The variant sets are closed:
// handling happens in exhaustive switches, a new variant is a compile
// error at every call site.
//
// [Storage] is the mailbox API. Requests are deduplicated by a
// caller-supplied primary key: a retried save returns [SaveDuplicate]
// carrying the original request id and the last stored reply, so a client
// that lost its connection can resume instead of re-executing.
// [Storage.UnprocessedMessages] returns exactly what a newly assigned
// shard owner must replay: requests without a terminal reply or with
// unacknowledged chunks, un-replayed acks, and interrupts for open
// requests.
//
// # Reply handlers
//
// A local waiter subscribes with [Storage.RegisterReplyHandler]; replies
// saved for that request are pushed to it, and the terminal reply
// resolves the wait. When shard ownership moves,
// [Storage.UnregisterShardReplyHandlers] fails every pending wait of that
// shard with [ErrEntityNotAssigned] so callers re-route to the new owner.
//
// # Backends
//
// Persistence happens through the [Backend] contract. [MemoryBackend] is
// the reference implementation; adapters/pebble provides the durable one.
// A SQL backend maps the contract onto two tables:
//
//	messages(id PK, message_id UNIQUE, shard_id, entity_type, entity_id,
//	         kind{0=Request,1=AckChunk,2=Interrupt}, tag, payload, headers,
//	         trace_id, span_id, sampled, processed,
//	         request_id FK->messages.id, reply_id, last_reply_id,
//	         last_read, deliver_at)
//	replies(id PK, kind{0=WithExit,null=Chunk}, request_id FK->messages.id,
//	        payload, sequence, acked,
//	        UNIQUE(request_id, kind), UNIQUE(request_id, sequence))
//
// with indexes on (shard_id, processed, last_read, deliver_at) and
// (request_id, kind, acked). Unprocessed rows are claimed by stamping
// last_read under a 5-minute re-claim window: a lease, not a lock, so a
// poller that crashes mid-processing does not strand its batch.
package mailbox
