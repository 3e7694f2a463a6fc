package mailbox

import "errors"

var (
	// ErrEntityNotAssigned resolves pending reply waits of a shard that
	// moved away from this pod. Callers should re-route to the new owner.
	ErrEntityNotAssigned = errors.New("entity is no longer assigned to this pod")

	// ErrPersistence wraps every failure of the underlying backend.
	ErrPersistence = errors.New("mailbox persistence failed")

	// ErrMalformedMessage marks a stored payload that no longer decodes.
	ErrMalformedMessage = errors.New("malformed stored message")
)
