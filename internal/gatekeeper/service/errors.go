package service

import "errors"

var (
	// ErrPolicyUnavailable wraps a failure to read group policy for a
	// resolved user.  The event is denied rather than dropped.
	ErrPolicyUnavailable = errors.New("policy unavailable")

	ErrDispatchQueueFull = errors.New("dispatch queue full")
	ErrDispatcherStopped = errors.New("dispatcher stopped")
)
