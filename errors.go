package sharesync

import "errors"

var (
	// Ledger errors.
	ErrJobExists     = errors.New("sharesync: job already exists")
	ErrJobNotFound   = errors.New("sharesync: job not found")
	ErrDuplicateItem = errors.New("sharesync: item already exists")
	ErrItemNotFound  = errors.New("sharesync: item not found")

	// ErrItemActive is returned when deleting an item that has not
	// reached a terminal status.
	ErrItemActive = errors.New("sharesync: item is not completed or failed")

	// ErrItemNotRetryable is returned when a manual retry is requested
	// for an item that is not in the failed status.
	ErrItemNotRetryable = errors.New("sharesync: only failed items can be retried")

	// Envelope errors.
	ErrUnknownKind       = errors.New("sharesync: unknown operation kind")
	ErrMalformedEnvelope = errors.New("sharesync: malformed envelope")

	// Transport errors.
	ErrNotConnected = errors.New("sharesync: broker not connected")
	ErrQueueClosed  = errors.New("sharesync: queue closed")
)
