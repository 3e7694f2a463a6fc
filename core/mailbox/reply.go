package mailbox

import "encoding/json"

// ReplyKind discriminates persisted reply rows.
type ReplyKind int

const (
	ReplyKindExit ReplyKind = iota
	ReplyKindChunk
)

func (k ReplyKind) String() string {
	switch k {
	case ReplyKindExit:
		return "exit"
	case ReplyKindChunk:
		return "chunk"
	default:
		return "unknown"
	}
}

// ExitResult is the outcome a terminal reply carries: either a value or
// an error description.
type ExitResult struct {
	Success bool            `json:"success"`
	Value   json.RawMessage `json:"value,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Reply is an entity's answer to a request. The variant set is closed:
// [ReplyExit] (terminal) or [ReplyChunk] (one streamed unit).
type Reply interface {
	ReplyID() string
	// ReplyTo is the id of the request being answered.
	ReplyTo() string
	// Terminal reports whether this reply completes the request.
	Terminal() bool

	sealedReply()
}

// ReplyExit terminates a request. At most one exit reply exists per
// request; saving it marks the request processed.
type ReplyExit struct {
	ID        string     `json:"id"`
	RequestID string     `json:"request_id"`
	Exit      ExitResult `json:"exit"`
}

func (r *ReplyExit) ReplyID() string { return r.ID }
func (r *ReplyExit) ReplyTo() string { return r.RequestID }
func (r *ReplyExit) Terminal() bool  { return true }
func (r *ReplyExit) sealedReply()    {}

// ReplyChunk carries one unit of a streamed response. Sequence numbers
// start at 1 and are unique per request; the caller acknowledges each
// chunk with an [AckChunk] envelope.
type ReplyChunk struct {
	ID        string            `json:"id"`
	RequestID string            `json:"request_id"`
	Sequence  int               `json:"sequence"`
	Values    []json.RawMessage `json:"values,omitempty"`
}

func (r *ReplyChunk) ReplyID() string { return r.ID }
func (r *ReplyChunk) ReplyTo() string { return r.RequestID }
func (r *ReplyChunk) Terminal() bool  { return false }
func (r *ReplyChunk) sealedReply()    {}

// DefectReply builds a terminal failure reply for a request, used when a
// stored message cannot be decoded anymore and the sender must still be
// unblocked.
func DefectReply(id, requestID, reason string) *ReplyExit {
	return &ReplyExit{
		ID:        id,
		RequestID: requestID,
		Exit:      ExitResult{Success: false, Error: reason},
	}
}
