package janitor_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	sharesync "github.com/steveoberholzer/ShareSync"
	"github.com/steveoberholzer/ShareSync/janitor"
	"github.com/steveoberholzer/ShareSync/job"
	"github.com/steveoberholzer/ShareSync/store/memory"
)

func seedJob(t *testing.T, st *memory.Store, status job.Status, finishedAgo time.Duration) uuid.UUID {
	t.Helper()
	j := &job.Job{
		ID:          uuid.New(),
		Kind:        "permission.sync",
		Environment: "test",
		Total:       1,
		Status:      job.StatusQueued,
		Priority:    job.PriorityMedium,
		CreatedAt:   time.Now().UTC().Add(-finishedAgo - time.Hour),
	}
	if err := st.CreateJob(context.Background(), j); err != nil {
		t.Fatal(err)
	}
	it := &job.Item{
		MessageID:  uuid.New(),
		JobID:      j.ID,
		Kind:       j.Kind,
		Identifier: "interaction-1",
		Status:     job.ItemCompleted,
		MaxRetries: 3,
		CreatedAt:  j.CreatedAt,
	}
	if err := st.CreateItem(context.Background(), it); err != nil {
		t.Fatal(err)
	}
	if status.Terminal() {
		if err := st.MarkStarted(context.Background(), j.ID); err != nil {
			t.Fatal(err)
		}
		if err := st.MarkFinished(context.Background(), j.ID, status); err != nil {
			t.Fatal(err)
		}
		// Backdate the completion stamp for retention checks.
		finished := time.Now().UTC().Add(-finishedAgo)
		got, err := st.GetJob(context.Background(), j.ID)
		if err != nil {
			t.Fatal(err)
		}
		got.CompletedAt = &finished
		if err := st.PutJob(context.Background(), got); err != nil {
			t.Fatal(err)
		}
	}
	return j.ID
}

func TestRunOncePurgesOldFinishedJobs(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	oldDone := seedJob(t, st, job.StatusCompleted, 48*time.Hour)
	oldFailed := seedJob(t, st, job.StatusFailed, 72*time.Hour)
	freshDone := seedJob(t, st, job.StatusCompleted, time.Hour)
	active := seedJob(t, st, job.StatusQueued, 0)

	jan := janitor.New(st, slog.New(slog.NewTextHandler(io.Discard, nil)), janitor.WithRetention(24*time.Hour))
	purged, err := jan.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if purged != 2 {
		t.Fatalf("purged = %d, want 2", purged)
	}

	for _, id := range []uuid.UUID{oldDone, oldFailed} {
		if _, err := st.GetJob(ctx, id); !errors.Is(err, sharesync.ErrJobNotFound) {
			t.Fatalf("job %s still present, err = %v", id, err)
		}
		items, err := st.ListItems(ctx, id, job.ItemListOpts{})
		if err != nil {
			t.Fatal(err)
		}
		if len(items) != 0 {
			t.Fatalf("job %s kept %d items", id, len(items))
		}
	}
	for _, id := range []uuid.UUID{freshDone, active} {
		if _, err := st.GetJob(ctx, id); err != nil {
			t.Fatalf("job %s missing: %v", id, err)
		}
	}
}

func TestRunOnceIsIdempotent(t *testing.T) {
	st := memory.New()
	seedJob(t, st, job.StatusCompleted, 48*time.Hour)

	jan := janitor.New(st, slog.New(slog.NewTextHandler(io.Discard, nil)), janitor.WithRetention(24*time.Hour))
	if purged, err := jan.RunOnce(context.Background()); err != nil || purged != 1 {
		t.Fatalf("first sweep: purged=%d err=%v", purged, err)
	}
	if purged, err := jan.RunOnce(context.Background()); err != nil || purged != 0 {
		t.Fatalf("second sweep: purged=%d err=%v", purged, err)
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	jan := janitor.New(memory.New(), slog.New(slog.NewTextHandler(io.Discard, nil)),
		janitor.WithSchedule("not a schedule"))
	if err := jan.Start(); err == nil {
		t.Fatal("expected schedule parse error")
	}
}
