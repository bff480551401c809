package job

import (
	"time"

	"github.com/google/uuid"
)

// ItemStatus represents the lifecycle state of a job item.
type ItemStatus string

const (
	// ItemPending means the item is waiting for its first delivery.
	ItemPending ItemStatus = "Pending"
	// ItemProcessing means a worker is currently handling the item.
	ItemProcessing ItemStatus = "Processing"
	// ItemCompleted means the item was handled successfully.
	ItemCompleted ItemStatus = "Completed"
	// ItemFailed means the item exhausted its retry budget.
	ItemFailed ItemStatus = "Failed"
	// ItemRequeued means the item failed and was republished for retry.
	ItemRequeued ItemStatus = "Requeued"
)

// Terminal reports whether the status is a final state.
func (s ItemStatus) Terminal() bool {
	return s == ItemCompleted || s == ItemFailed
}

// Item is one unit of work within a job. MessageID matches the
// envelope published to the broker; Payload holds the exact serialized
// message so a failed item can be republished verbatim.
type Item struct {
	MessageID   uuid.UUID  `json:"message_id"`
	JobID       uuid.UUID  `json:"job_id"`
	Kind        string     `json:"kind"`
	Identifier  string     `json:"identifier"`
	Payload     []byte     `json:"payload"`
	Status      ItemStatus `json:"status"`
	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}
