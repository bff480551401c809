package job_test

import (
	"testing"

	"github.com/steveoberholzer/ShareSync/job"
)

func TestPriority_Value(t *testing.T) {
	tests := []struct {
		label job.Priority
		want  int
	}{
		{job.PriorityHigh, 10},
		{job.PriorityMedium, 5},
		{job.PriorityLow, 1},
		{job.Priority("high"), 10},
		{job.Priority("LOW"), 1},
		{job.Priority(""), 5},
		{job.Priority("urgent"), 5},
	}
	for _, tt := range tests {
		if got := tt.label.Value(); got != tt.want {
			t.Errorf("Priority(%q).Value() = %d, want %d", tt.label, got, tt.want)
		}
	}
}

func TestPriorityFromValue_RoundTrip(t *testing.T) {
	for _, p := range []job.Priority{job.PriorityLow, job.PriorityMedium, job.PriorityHigh} {
		if got := job.PriorityFromValue(p.Value()); got != p {
			t.Errorf("PriorityFromValue(%d) = %q, want %q", p.Value(), got, p)
		}
	}
	if got := job.PriorityFromValue(7); got != job.PriorityMedium {
		t.Errorf("PriorityFromValue(7) = %q, want %q", got, job.PriorityMedium)
	}
}

func TestStatus_Terminal(t *testing.T) {
	terminal := map[job.Status]bool{
		job.StatusQueued:     false,
		job.StatusProcessing: false,
		job.StatusCompleted:  true,
		job.StatusFailed:     true,
		job.StatusPaused:     false,
	}
	for s, want := range terminal {
		if got := s.Terminal(); got != want {
			t.Errorf("Status(%q).Terminal() = %v, want %v", s, got, want)
		}
	}
}

func TestJob_Done(t *testing.T) {
	j := &job.Job{Total: 3, Processed: 2, Failed: 0}
	if j.Done() {
		t.Error("Done() = true with 2/3 accounted for")
	}
	j.Failed = 1
	if !j.Done() {
		t.Error("Done() = false with all items accounted for")
	}
}
