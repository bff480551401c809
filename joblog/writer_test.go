package joblog_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/steveoberholzer/ShareSync/joblog"
)

type captureStore struct {
	mu      sync.Mutex
	batches [][]*joblog.Entry
}

func (c *captureStore) AppendLogs(_ context.Context, entries []*joblog.Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]*joblog.Entry, len(entries))
	copy(cp, entries)
	c.batches = append(c.batches, cp)
	return nil
}

func (c *captureStore) ListLogs(_ context.Context, _ uuid.UUID, _ int) ([]*joblog.Entry, error) {
	return nil, nil
}

func (c *captureStore) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, b := range c.batches {
		n += len(b)
	}
	return n
}

func TestWriter_FlushOnClose(t *testing.T) {
	store := &captureStore{}
	w := joblog.NewWriter(store, slog.New(slog.NewTextHandler(io.Discard, nil)), joblog.WithFlushInterval(time.Hour))

	for i := 0; i < 5; i++ {
		w.Append(&joblog.Entry{Level: joblog.LevelInfo, Message: "entry"})
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := store.total(); got != 5 {
		t.Fatalf("expected 5 entries flushed, got %d", got)
	}
}

func TestWriter_FlushOnBatchSize(t *testing.T) {
	store := &captureStore{}
	w := joblog.NewWriter(store, slog.New(slog.NewTextHandler(io.Discard, nil)),
		joblog.WithFlushInterval(time.Hour),
		joblog.WithBatchSize(3),
	)
	defer w.Close()

	for i := 0; i < 3; i++ {
		w.Append(&joblog.Entry{Level: joblog.LevelInfo, Message: "entry"})
	}

	deadline := time.Now().Add(2 * time.Second)
	for store.total() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("expected 3 entries flushed, got %d", store.total())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWriter_FlushOnInterval(t *testing.T) {
	store := &captureStore{}
	w := joblog.NewWriter(store, slog.New(slog.NewTextHandler(io.Discard, nil)), joblog.WithFlushInterval(20*time.Millisecond))
	defer w.Close()

	w.Append(&joblog.Entry{Level: joblog.LevelError, Message: "entry"})

	deadline := time.Now().Add(2 * time.Second)
	for store.total() < 1 {
		if time.Now().After(deadline) {
			t.Fatal("entry never flushed on interval")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWriter_StampsCreatedAt(t *testing.T) {
	store := &captureStore{}
	w := joblog.NewWriter(store, slog.New(slog.NewTextHandler(io.Discard, nil)), joblog.WithFlushInterval(time.Hour))

	w.Append(&joblog.Entry{Level: joblog.LevelInfo, Message: "entry"})
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if store.batches[0][0].CreatedAt.IsZero() {
		t.Fatal("expected CreatedAt to be stamped")
	}
}
