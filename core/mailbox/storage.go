package mailbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/codewandler/shardmgr-go/core/sharding"
)

// SaveResult is the outcome of [Storage.SaveRequest]: [SaveSuccess] or
// [SaveDuplicate].
type SaveResult interface {
	savedRequest()
}

// SaveSuccess means the request was stored for the first time.
type SaveSuccess struct{}

func (SaveSuccess) savedRequest() {}

// SaveDuplicate means a request with the same primary key already
// exists. OriginalID is the stored request's id; LastReply is the most
// recent reply stored for it, nil when none arrived yet.
type SaveDuplicate struct {
	OriginalID string
	LastReply  Reply
}

func (SaveDuplicate) savedRequest() {}

// StorageOptions configures [NewStorage]. Backend is required.
type StorageOptions struct {
	Log     *slog.Logger
	Backend Backend
	Metrics MailboxMetrics
}

// Storage is the durable mailbox. It persists envelopes and replies
// through a [Backend] and dispatches saved replies to locally registered
// handlers.
type Storage struct {
	log      *slog.Logger
	backend  Backend
	metrics  MailboxMetrics
	registry *handlerRegistry
	now      func() time.Time
}

func NewStorage(opts StorageOptions) (*Storage, error) {
	if opts.Backend == nil {
		return nil, errors.New("mailbox: backend is required")
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = NopMailboxMetrics()
	}
	return &Storage{
		log:      opts.Log.With("component", "mailbox"),
		backend:  opts.Backend,
		metrics:  opts.Metrics,
		registry: newHandlerRegistry(),
		now:      time.Now,
	}, nil
}

func persistErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}

// SaveRequest persists a request. A non-empty primaryKey deduplicates:
// when a request was already stored under (address, tag, primaryKey) the
// new one is not persisted and [SaveDuplicate] reports the original id
// and its last stored reply, letting the caller resume a retried call
// instead of re-executing it.
func (s *Storage) SaveRequest(ctx context.Context, req *Request, primaryKey string) (SaveResult, error) {
	if req.RequestID == "" {
		return nil, errors.New("save request: empty request id")
	}
	if primaryKey != "" {
		original, ok, err := s.backend.FindByPrimaryKey(ctx, req.To, req.Tag, primaryKey)
		if err != nil {
			return nil, persistErr("find by primary key", err)
		}
		if ok {
			rows, err := s.backend.RepliesFor(ctx, original.ID)
			if err != nil {
				return nil, persistErr("load replies", err)
			}
			var last Reply
			if len(rows) > 0 {
				last, err = DecodeReply(rows[len(rows)-1].Payload)
				if err != nil {
					s.metrics.MalformedMessage()
					return nil, err
				}
			}
			s.metrics.RequestSaved(true)
			return SaveDuplicate{OriginalID: original.ID, LastReply: last}, nil
		}
	}

	payload, err := EncodeEnvelope(req)
	if err != nil {
		return nil, err
	}
	row := MessageRow{
		ID:         req.RequestID,
		Kind:       KindRequest,
		Shard:      req.To.Shard,
		EntityType: req.To.EntityType,
		EntityID:   req.To.EntityID,
		Tag:        req.Tag,
		PrimaryKey: primaryKey,
		RequestID:  req.RequestID,
		Payload:    payload,
		DeliverAt:  req.DeliverAt,
	}
	if err := s.backend.InsertMessage(ctx, row); err != nil {
		return nil, persistErr("insert request", err)
	}
	s.metrics.RequestSaved(false)
	return SaveSuccess{}, nil
}

// SaveEnvelope persists any envelope. Saving an [AckChunk] also marks
// the acknowledged chunk and advances the request's ack cursor.
func (s *Storage) SaveEnvelope(ctx context.Context, env Envelope) error {
	switch e := env.(type) {
	case *Request:
		_, err := s.SaveRequest(ctx, e, "")
		return err
	case *AckChunk:
		payload, err := EncodeEnvelope(e)
		if err != nil {
			return err
		}
		row := MessageRow{
			ID:         e.ID,
			Kind:       KindAckChunk,
			Shard:      e.To.Shard,
			EntityType: e.To.EntityType,
			EntityID:   e.To.EntityID,
			RequestID:  e.RequestID,
			Payload:    payload,
		}
		if err := s.backend.InsertMessage(ctx, row); err != nil {
			return persistErr("insert ack", err)
		}
		return s.ackReply(ctx, e.RequestID, e.ReplyID)
	case *Interrupt:
		payload, err := EncodeEnvelope(e)
		if err != nil {
			return err
		}
		row := MessageRow{
			ID:         e.ID,
			Kind:       KindInterrupt,
			Shard:      e.To.Shard,
			EntityType: e.To.EntityType,
			EntityID:   e.To.EntityID,
			RequestID:  e.RequestID,
			Payload:    payload,
		}
		if err := s.backend.InsertMessage(ctx, row); err != nil {
			return persistErr("insert interrupt", err)
		}
		return nil
	default:
		return fmt.Errorf("save envelope: unknown type %T", env)
	}
}

func (s *Storage) ackReply(ctx context.Context, requestID, replyID string) error {
	acked, ok, err := s.backend.MarkReplyAcked(ctx, requestID, replyID)
	if err != nil {
		return persistErr("mark reply acked", err)
	}
	if !ok || acked.Kind != ReplyKindChunk {
		return nil
	}
	request, found, err := s.backend.GetMessage(ctx, requestID)
	if err != nil {
		return persistErr("load request", err)
	}
	if found && acked.Sequence > request.LastAckedSeq {
		if err := s.backend.SetAckCursor(ctx, requestID, acked.Sequence); err != nil {
			return persistErr("advance ack cursor", err)
		}
	}
	return nil
}

// SaveReply persists a reply, dispatches it to registered handlers and,
// for a terminal reply, marks the request processed and resolves every
// pending wait on it.
func (s *Storage) SaveReply(ctx context.Context, reply Reply) error {
	payload, err := EncodeReply(reply)
	if err != nil {
		return err
	}
	row := ReplyRow{
		ID:        reply.ReplyID(),
		RequestID: reply.ReplyTo(),
		Payload:   payload,
	}
	if chunk, ok := reply.(*ReplyChunk); ok {
		row.Kind = ReplyKindChunk
		row.Sequence = chunk.Sequence
	}
	if err := s.backend.InsertReply(ctx, row); err != nil {
		return persistErr("insert reply", err)
	}
	if reply.Terminal() {
		if err := s.backend.MarkProcessed(ctx, reply.ReplyTo(), true); err != nil {
			return persistErr("mark processed", err)
		}
	}
	s.metrics.ReplySaved(reply.Terminal())
	s.registry.deliver(reply)
	s.metrics.HandlersActive(s.registry.size())
	return nil
}

// ClearReplies removes all replies of a request and re-opens it: the
// processed flag and ack cursor are reset so the request replays fresh.
func (s *Storage) ClearReplies(ctx context.Context, requestID string) error {
	if err := s.backend.DeleteReplies(ctx, requestID); err != nil {
		return persistErr("delete replies", err)
	}
	if err := s.backend.MarkProcessed(ctx, requestID, false); err != nil {
		return persistErr("reset processed", err)
	}
	if err := s.backend.SetAckCursor(ctx, requestID, 0); err != nil {
		return persistErr("reset ack cursor", err)
	}
	return nil
}

// RepliesFor returns the replies a caller still has to consume, per
// request: all of them while no chunk was acknowledged yet, otherwise
// only chunks past the ack cursor plus any terminal reply. A stored
// reply that no longer decodes surfaces as [ErrMalformedMessage].
func (s *Storage) RepliesFor(ctx context.Context, requests ...*Request) (map[string][]Reply, error) {
	ids := make([]string, 0, len(requests))
	for _, req := range requests {
		ids = append(ids, req.RequestID)
	}
	return s.RepliesForUnfiltered(ctx, ids...)
}

// RepliesForUnfiltered is [Storage.RepliesFor] keyed by request id alone,
// for callers that no longer hold the request envelope.
func (s *Storage) RepliesForUnfiltered(ctx context.Context, requestIDs ...string) (map[string][]Reply, error) {
	out := make(map[string][]Reply, len(requestIDs))
	for _, id := range requestIDs {
		replies, err := s.repliesOf(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = replies
	}
	return out, nil
}

func (s *Storage) repliesOf(ctx context.Context, requestID string) ([]Reply, error) {
	cursor := 0
	if request, ok, err := s.backend.GetMessage(ctx, requestID); err != nil {
		return nil, persistErr("load request", err)
	} else if ok {
		cursor = request.LastAckedSeq
	}
	rows, err := s.backend.RepliesFor(ctx, requestID)
	if err != nil {
		return nil, persistErr("load replies", err)
	}
	var out []Reply
	for _, row := range rows {
		reply, err := DecodeReply(row.Payload)
		if err != nil {
			s.metrics.MalformedMessage()
			return nil, err
		}
		if cursor > 0 {
			if chunk, ok := reply.(*ReplyChunk); ok && chunk.Sequence <= cursor {
				continue
			}
		}
		out = append(out, reply)
	}
	return out, nil
}

// RequestIDForPrimaryKey resolves the request stored under
// (address, tag, primaryKey), reporting whether one exists.
func (s *Storage) RequestIDForPrimaryKey(ctx context.Context, addr EntityAddress, tag, primaryKey string) (string, bool, error) {
	row, ok, err := s.backend.FindByPrimaryKey(ctx, addr, tag, primaryKey)
	if err != nil {
		return "", false, persistErr("find by primary key", err)
	}
	if !ok {
		return "", false, nil
	}
	return row.ID, true, nil
}

// RegisterReplyHandler subscribes respond to every reply saved for the
// request. The returned registration's Done channel resolves on the
// terminal reply, or with [ErrEntityNotAssigned] when the request's
// shard is unregistered from this pod.
func (s *Storage) RegisterReplyHandler(req *Request, respond ReplyHandlerFunc) *HandlerRegistration {
	h := s.registry.register(req.RequestID, req.To.Shard, respond)
	s.metrics.HandlersActive(s.registry.size())
	return h
}

// UnregisterReplyHandler drops a registration without resolving its
// wait, for callers abandoning the request.
func (s *Storage) UnregisterReplyHandler(h *HandlerRegistration) {
	s.registry.unregister(h.ID, h.requestID)
	s.metrics.HandlersActive(s.registry.size())
}

// UnregisterShardReplyHandlers fails every pending wait of the shards
// with [ErrEntityNotAssigned]. Called when shard ownership moves away so
// waiters re-route to the new owner.
func (s *Storage) UnregisterShardReplyHandlers(shards ...sharding.ShardID) {
	if n := s.registry.failShards(shards, ErrEntityNotAssigned); n > 0 {
		s.log.Info("failed pending reply waits of moved shards", "shards", len(shards), "handlers", n)
	}
	s.metrics.HandlersActive(s.registry.size())
}

// UnprocessedMessages returns the envelopes of the shards that a new
// owner must replay, claiming each for the lease window. A stored
// envelope that no longer decodes is converted into a synthetic defect
// reply so its sender is unblocked, and excluded from the batch.
func (s *Storage) UnprocessedMessages(ctx context.Context, shards ...sharding.ShardID) ([]Envelope, error) {
	rows, err := s.backend.UnprocessedMessages(ctx, shards, s.now())
	if err != nil {
		return nil, persistErr("load unprocessed", err)
	}
	return s.decodeRows(ctx, rows)
}

// UnprocessedMessagesByID is [Storage.UnprocessedMessages] for an
// explicit id set.
func (s *Storage) UnprocessedMessagesByID(ctx context.Context, ids ...string) ([]Envelope, error) {
	rows, err := s.backend.MessagesByID(ctx, ids, s.now())
	if err != nil {
		return nil, persistErr("load messages", err)
	}
	return s.decodeRows(ctx, rows)
}

func (s *Storage) decodeRows(ctx context.Context, rows []MessageRow) ([]Envelope, error) {
	out := make([]Envelope, 0, len(rows))
	for _, row := range rows {
		env, err := DecodeEnvelope(row.Payload)
		if err != nil {
			s.metrics.MalformedMessage()
			s.log.Error("stored message no longer decodes, replacing with defect reply",
				"message_id", row.ID, "request_id", row.RequestID, "error", err)
			defect := DefectReply(gonanoid.Must(), row.RequestID, "stored message can no longer be decoded")
			if err := s.SaveReply(ctx, defect); err != nil {
				s.log.Warn("saving defect reply failed", "request_id", row.RequestID, "error", err)
			}
			continue
		}
		out = append(out, env)
	}
	s.metrics.UnprocessedBatch(len(out))
	return out, nil
}

// ResetShards clears the replay leases of whole shards, typically right
// after this pod was assigned them.
func (s *Storage) ResetShards(ctx context.Context, shards ...sharding.ShardID) error {
	if err := s.backend.ResetShards(ctx, shards); err != nil {
		return persistErr("reset shards", err)
	}
	return nil
}

// ResetAddress clears the replay leases of a single entity.
func (s *Storage) ResetAddress(ctx context.Context, addr EntityAddress) error {
	if err := s.backend.ResetAddress(ctx, addr); err != nil {
		return persistErr("reset address", err)
	}
	return nil
}

// ClearAddress deletes everything stored for a single entity.
func (s *Storage) ClearAddress(ctx context.Context, addr EntityAddress) error {
	if err := s.backend.ClearAddress(ctx, addr); err != nil {
		return persistErr("clear address", err)
	}
	return nil
}
