// Package joblog persists operational log entries alongside the job
// ledger so administrators can inspect a job's history without access
// to process logs. Writes are batched through an asynchronous Writer to
// keep the hot path off the database.
package joblog

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Entry levels.
const (
	LevelInfo    = "Information"
	LevelWarning = "Warning"
	LevelError   = "Error"
)

// Entry is one persisted log record. JobID and MessageID are optional;
// zero values mean the entry is not tied to a job or item.
type Entry struct {
	ID        int64     `json:"id"`
	JobID     uuid.UUID `json:"job_id,omitempty"`
	MessageID uuid.UUID `json:"message_id,omitempty"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the persistence contract for log entries.
type Store interface {
	// AppendLogs persists a batch of entries in one round trip.
	AppendLogs(ctx context.Context, entries []*Entry) error

	// ListLogs returns a job's entries, oldest first.
	ListLogs(ctx context.Context, jobID uuid.UUID, limit int) ([]*Entry, error)
}
