package mailbox

import (
	"encoding/json"
	"time"

	"github.com/codewandler/shardmgr-go/core/sharding"
)

// EntityAddress locates a single entity: the shard it hashes to plus its
// type and id. All envelopes for one entity carry the same address.
type EntityAddress struct {
	Shard      sharding.ShardID `json:"shard"`
	EntityType string           `json:"entity_type"`
	EntityID   string           `json:"entity_id"`
}

func (a EntityAddress) String() string {
	return a.EntityType + "/" + a.EntityID
}

// EnvelopeKind discriminates persisted envelope rows.
type EnvelopeKind int

const (
	KindRequest EnvelopeKind = iota
	KindAckChunk
	KindInterrupt
)

func (k EnvelopeKind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindAckChunk:
		return "ack_chunk"
	case KindInterrupt:
		return "interrupt"
	default:
		return "unknown"
	}
}

// Envelope is anything that can be sent toward an entity. The variant set
// is closed: [Request], [AckChunk], [Interrupt].
type Envelope interface {
	EnvelopeID() string
	Kind() EnvelopeKind
	Address() EntityAddress

	sealed()
}

// Request asks an entity to run the RPC identified by Tag with Payload.
// Headers and the trace fields travel with the request so the receiving
// pod can continue the caller's trace.
type Request struct {
	RequestID string            `json:"request_id"`
	To        EntityAddress     `json:"address"`
	Tag       string            `json:"tag"`
	Payload   json.RawMessage   `json:"payload,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	TraceID   string            `json:"trace_id,omitempty"`
	SpanID    string            `json:"span_id,omitempty"`
	Sampled   bool              `json:"sampled,omitempty"`

	// DeliverAt delays replay of the request until the given time.
	DeliverAt *time.Time `json:"deliver_at,omitempty"`
}

func (r *Request) EnvelopeID() string     { return r.RequestID }
func (r *Request) Kind() EnvelopeKind     { return KindRequest }
func (r *Request) Address() EntityAddress { return r.To }
func (r *Request) sealed()                {}

// AckChunk acknowledges one streamed [ReplyChunk] of RequestID, allowing
// the entity to produce the next one.
type AckChunk struct {
	ID        string        `json:"id"`
	RequestID string        `json:"request_id"`
	ReplyID   string        `json:"reply_id"`
	To        EntityAddress `json:"address"`
}

func (a *AckChunk) EnvelopeID() string     { return a.ID }
func (a *AckChunk) Kind() EnvelopeKind     { return KindAckChunk }
func (a *AckChunk) Address() EntityAddress { return a.To }
func (a *AckChunk) sealed()                {}

// Interrupt asks the entity to abort the in-flight RequestID.
type Interrupt struct {
	ID        string        `json:"id"`
	RequestID string        `json:"request_id"`
	To        EntityAddress `json:"address"`
}

func (i *Interrupt) EnvelopeID() string     { return i.ID }
func (i *Interrupt) Kind() EnvelopeKind     { return KindInterrupt }
func (i *Interrupt) Address() EntityAddress { return i.To }
func (i *Interrupt) sealed()                {}
