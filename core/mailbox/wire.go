package mailbox

import (
	"fmt"

	"github.com/codewandler/shardmgr-go/internal/codec"
)

// Envelope and reply payloads are stored as a kind-tagged document so the
// stored bytes decode back to the exact variant that was saved.

type envelopeDoc struct {
	Kind      EnvelopeKind `json:"kind"`
	Request   *Request     `json:"request,omitempty"`
	AckChunk  *AckChunk    `json:"ack_chunk,omitempty"`
	Interrupt *Interrupt   `json:"interrupt,omitempty"`
}

type replyDoc struct {
	Kind  ReplyKind   `json:"kind"`
	Exit  *ReplyExit  `json:"exit,omitempty"`
	Chunk *ReplyChunk `json:"chunk,omitempty"`
}

// EncodeEnvelope serializes an envelope for storage.
func EncodeEnvelope(env Envelope) ([]byte, error) {
	doc := envelopeDoc{Kind: env.Kind()}
	switch e := env.(type) {
	case *Request:
		doc.Request = e
	case *AckChunk:
		doc.AckChunk = e
	case *Interrupt:
		doc.Interrupt = e
	default:
		return nil, fmt.Errorf("encode envelope: unknown type %T", env)
	}
	return codec.Default.Marshal(doc)
}

// DecodeEnvelope deserializes a stored envelope payload. A payload that
// does not carry its tagged variant fails with [ErrMalformedMessage].
func DecodeEnvelope(data []byte) (Envelope, error) {
	var doc envelopeDoc
	if err := codec.Default.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	switch doc.Kind {
	case KindRequest:
		if doc.Request != nil {
			return doc.Request, nil
		}
	case KindAckChunk:
		if doc.AckChunk != nil {
			return doc.AckChunk, nil
		}
	case KindInterrupt:
		if doc.Interrupt != nil {
			return doc.Interrupt, nil
		}
	}
	return nil, fmt.Errorf("%w: envelope kind %d without body", ErrMalformedMessage, doc.Kind)
}

// EncodeReply serializes a reply for storage.
func EncodeReply(reply Reply) ([]byte, error) {
	var doc replyDoc
	switch r := reply.(type) {
	case *ReplyExit:
		doc = replyDoc{Kind: ReplyKindExit, Exit: r}
	case *ReplyChunk:
		doc = replyDoc{Kind: ReplyKindChunk, Chunk: r}
	default:
		return nil, fmt.Errorf("encode reply: unknown type %T", reply)
	}
	return codec.Default.Marshal(doc)
}

// DecodeReply deserializes a stored reply payload.
func DecodeReply(data []byte) (Reply, error) {
	var doc replyDoc
	if err := codec.Default.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	switch doc.Kind {
	case ReplyKindExit:
		if doc.Exit != nil {
			return doc.Exit, nil
		}
	case ReplyKindChunk:
		if doc.Chunk != nil {
			return doc.Chunk, nil
		}
	}
	return nil, fmt.Errorf("%w: reply kind %d without body", ErrMalformedMessage, doc.Kind)
}
