package joblog

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Writer batches log entries and flushes them to the store on a timer
// or when the batch fills, whichever comes first. Appends never block
// the caller; entries are dropped with a warning if the buffer is full.
type Writer struct {
	store  Store
	logger *slog.Logger

	queue      chan *Entry
	flushEvery time.Duration
	batchSize  int

	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithFlushInterval sets how often buffered entries are flushed.
func WithFlushInterval(d time.Duration) WriterOption {
	return func(w *Writer) { w.flushEvery = d }
}

// WithBatchSize sets the flush threshold and the per-flush batch cap.
func WithBatchSize(n int) WriterOption {
	return func(w *Writer) { w.batchSize = n }
}

// NewWriter creates a Writer and starts its flush loop.
func NewWriter(store Store, logger *slog.Logger, opts ...WriterOption) *Writer {
	w := &Writer{
		store:      store,
		logger:     logger,
		flushEvery: 5 * time.Second,
		batchSize:  1000,
		closed:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.queue = make(chan *Entry, w.batchSize*2)

	go w.run()
	return w
}

// Append enqueues an entry for the next flush. It never blocks.
func (w *Writer) Append(e *Entry) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	select {
	case <-w.closed:
		w.logger.Warn("log entry dropped after close", slog.String("message", e.Message))
	case w.queue <- e:
	default:
		w.logger.Warn("log buffer full, entry dropped", slog.String("message", e.Message))
	}
}

func (w *Writer) run() {
	defer close(w.done)

	ticker := time.NewTicker(w.flushEvery)
	defer ticker.Stop()

	batch := make([]*Entry, 0, w.batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := w.store.AppendLogs(context.Background(), batch); err != nil {
			w.logger.Error("log flush failed",
				slog.Int("entries", len(batch)),
				slog.String("error", err.Error()),
			)
		}
		batch = batch[:0]
	}

	for {
		select {
		case e := <-w.queue:
			batch = append(batch, e)
			if len(batch) >= w.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-w.closed:
			// Drain whatever is still queued, then flush once.
			for {
				select {
				case e := <-w.queue:
					batch = append(batch, e)
					if len(batch) >= w.batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

// Close stops the flush loop after draining buffered entries.
func (w *Writer) Close() error {
	w.closeOnce.Do(func() { close(w.closed) })
	<-w.done
	return nil
}
