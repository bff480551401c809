package job

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a job.
type Status string

const (
	// StatusQueued means the job has been created and its items published.
	StatusQueued Status = "Queued"
	// StatusProcessing means at least one item has started processing.
	StatusProcessing Status = "Processing"
	// StatusCompleted means every item finished and none failed permanently.
	StatusCompleted Status = "Completed"
	// StatusFailed means every item finished and at least one failed permanently.
	StatusFailed Status = "Failed"
	// StatusPaused is an administrative state. Workers treat a paused job
	// as a pipeline-pause signal and requeue its deliveries uncounted.
	StatusPaused Status = "Paused"
)

// Terminal reports whether the status is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Priority is the scheduling label attached to a job. It maps to a
// numeric broker priority; the broker treats it as a best-effort
// scheduling hint, not a strict ordering guarantee.
type Priority string

const (
	PriorityLow    Priority = "Low"
	PriorityMedium Priority = "Medium"
	PriorityHigh   Priority = "High"
)

// Value returns the numeric broker priority (0-10) for the label.
// Unknown labels map to the medium priority.
func (p Priority) Value() int {
	switch strings.ToUpper(string(p)) {
	case "HIGH":
		return 10
	case "LOW":
		return 1
	default:
		return 5
	}
}

// PriorityFromValue returns the label for a numeric priority.
func PriorityFromValue(v int) Priority {
	switch v {
	case 10:
		return PriorityHigh
	case 1:
		return PriorityLow
	default:
		return PriorityMedium
	}
}

// Job is the durable record of one batch of operations. Counters obey
// Processed + Failed <= Total; Total is fixed at creation and the
// counters are incremented only by the dispatcher.
type Job struct {
	ID          uuid.UUID  `json:"id"`
	Kind        string     `json:"kind"`
	FileName    string     `json:"file_name,omitempty"`
	RequestedBy string     `json:"requested_by,omitempty"`
	Environment string     `json:"environment"`
	SiteURL     string     `json:"site_url,omitempty"`
	Total       int        `json:"total"`
	Processed   int        `json:"processed"`
	Failed      int        `json:"failed"`
	Status      Status     `json:"status"`
	Priority    Priority   `json:"priority"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Done reports whether every item has reached a terminal status.
func (j *Job) Done() bool {
	return j.Processed+j.Failed >= j.Total
}
