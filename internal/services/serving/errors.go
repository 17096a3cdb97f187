package serving

import "errors"

var (
	// ErrTimeout is returned when a request gives up before its work
	// finishes. The admission slot is released; any forward pass already on
	// a worker runs to completion and still populates the caches.
	ErrTimeout = errors.New("request timed out")

	// ErrBatchTooLarge rejects oversized batches before any admission or
	// preprocessing happens.
	ErrBatchTooLarge = errors.New("batch exceeds configured limit")

	// ErrShutdown is returned once the frontend has been stopped.
	ErrShutdown = errors.New("frontend is shut down")
)
