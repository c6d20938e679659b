package queue

import "errors"

var (
	// ErrInvalidTask rejects empty or oversized task submissions.
	ErrInvalidTask = errors.New("invalid task")

	// ErrQueueFull is returned when the pending queue is at its configured bound.
	ErrQueueFull = errors.New("queue full")

	// ErrNotFound is returned for unknown job ids.
	ErrNotFound = errors.New("job not found")

	// ErrClosed is returned for submissions after shutdown has begun.
	ErrClosed = errors.New("queue closed")
)
