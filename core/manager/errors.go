package manager

import "errors"

var (
	// ErrPodNotRegistered is returned when a shard assignment is applied to
	// an address that is absent from the pod map. This indicates a race or a
	// programming error and is surfaced to the caller, never swallowed.
	ErrPodNotRegistered = errors.New("pod is not registered")
)
