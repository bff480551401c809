// Package memory provides a fully in-memory ledger. Safe for
// concurrent access. Intended for unit testing and development.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	sharesync "github.com/steveoberholzer/ShareSync"
	"github.com/steveoberholzer/ShareSync/job"
	"github.com/steveoberholzer/ShareSync/joblog"
)

var (
	_ job.Store    = (*Store)(nil)
	_ joblog.Store = (*Store)(nil)
)

// Store is an in-memory implementation of the job ledger and log store.
type Store struct {
	mu sync.RWMutex

	jobs  map[uuid.UUID]*job.Job
	items map[uuid.UUID]*job.Item
	logs  []*joblog.Entry

	nextLogID int64
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:  make(map[uuid.UUID]*job.Job),
		items: make(map[uuid.UUID]*job.Item),
	}
}

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

func (m *Store) CreateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[j.ID]; exists {
		return sharesync.ErrJobExists
	}
	cp := *j
	m.jobs[j.ID] = &cp
	return nil
}

// PutJob overwrites a stored job unconditionally. Test support; the
// ledger interface has no blind replace.
func (m *Store) PutJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *j
	m.jobs[j.ID] = &cp
	return nil
}

func (m *Store) GetJob(_ context.Context, jobID uuid.UUID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return nil, sharesync.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *Store) ListJobs(_ context.Context, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		cp := *j
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool {
		return out[i].CreatedAt.After(out[k].CreatedAt)
	})
	return paginate(out, opts.Offset, opts.Limit), nil
}

func (m *Store) SetJobStatus(_ context.Context, jobID uuid.UUID, status job.Status, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return sharesync.ErrJobNotFound
	}
	j.Status = status
	if errMsg != "" {
		j.Error = errMsg
	}
	return nil
}

func (m *Store) SetJobPriority(_ context.Context, jobID uuid.UUID, p job.Priority) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return sharesync.ErrJobNotFound
	}
	j.Priority = p
	return nil
}

func (m *Store) IncrementProcessed(_ context.Context, jobID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return sharesync.ErrJobNotFound
	}
	j.Processed++
	return nil
}

func (m *Store) IncrementFailed(_ context.Context, jobID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return sharesync.ErrJobNotFound
	}
	j.Failed++
	return nil
}

func (m *Store) DecrementFailed(_ context.Context, jobID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return sharesync.ErrJobNotFound
	}
	if j.Failed > 0 {
		j.Failed--
	}
	return nil
}

func (m *Store) MarkStarted(_ context.Context, jobID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return sharesync.ErrJobNotFound
	}
	if j.Status.Terminal() {
		return nil
	}
	// Stamp the first delivery regardless of how the job got here; a
	// job resumed from Paused straight into Processing still needs its
	// start time recorded.
	if j.StartedAt == nil {
		now := time.Now().UTC()
		j.StartedAt = &now
	}
	if j.Status == job.StatusQueued {
		j.Status = job.StatusProcessing
	}
	return nil
}

func (m *Store) MarkFinished(_ context.Context, jobID uuid.UUID, final job.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return sharesync.ErrJobNotFound
	}
	if j.Status.Terminal() {
		return nil
	}
	j.Status = final
	if j.CompletedAt == nil {
		now := time.Now().UTC()
		j.CompletedAt = &now
	}
	return nil
}

func (m *Store) CreateItem(_ context.Context, it *job.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.items[it.MessageID]; exists {
		return sharesync.ErrDuplicateItem
	}
	cp := *it
	m.items[it.MessageID] = &cp
	return nil
}

func (m *Store) GetItem(_ context.Context, messageID uuid.UUID) (*job.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	it, ok := m.items[messageID]
	if !ok {
		return nil, sharesync.ErrItemNotFound
	}
	cp := *it
	return &cp, nil
}

func (m *Store) ListItems(_ context.Context, jobID uuid.UUID, opts job.ItemListOpts) ([]*job.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*job.Item, 0)
	for _, it := range m.items {
		if it.JobID != jobID {
			continue
		}
		if opts.Status != "" && it.Status != opts.Status {
			continue
		}
		cp := *it
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool {
		return out[i].CreatedAt.Before(out[k].CreatedAt)
	})
	return out, nil
}

func (m *Store) SearchItems(_ context.Context, opts job.ItemSearchOpts) ([]*job.Item, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*job.Item, 0)
	for _, it := range m.items {
		if opts.Status != "" && it.Status != opts.Status {
			continue
		}
		if opts.Kind != "" && it.Kind != opts.Kind {
			continue
		}
		if opts.Search != "" && !strings.Contains(strings.ToLower(it.Identifier), strings.ToLower(opts.Search)) {
			continue
		}
		cp := *it
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool {
		return out[i].CreatedAt.Before(out[k].CreatedAt)
	})

	total := len(out)
	return paginate(out, opts.Offset, opts.Limit), total, nil
}

func (m *Store) UpdateItemStatus(_ context.Context, messageID uuid.UUID, status job.ItemStatus, upd job.ItemUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[messageID]
	if !ok {
		return nil
	}
	it.Status = status
	if upd.Error != nil {
		it.Error = *upd.Error
	}
	if upd.RetryCount != nil {
		it.RetryCount = *upd.RetryCount
	}
	if status.Terminal() && it.ProcessedAt == nil {
		now := time.Now().UTC()
		it.ProcessedAt = &now
	}
	return nil
}

func (m *Store) DeleteItem(_ context.Context, messageID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[messageID]
	if !ok {
		return sharesync.ErrItemNotFound
	}
	if !it.Status.Terminal() {
		return sharesync.ErrItemActive
	}
	delete(m.items, messageID)
	return nil
}

func (m *Store) PurgeJobs(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	purged := make(map[uuid.UUID]struct{})
	for id, j := range m.jobs {
		if !j.Status.Terminal() || j.CompletedAt == nil || !j.CompletedAt.Before(before) {
			continue
		}
		delete(m.jobs, id)
		purged[id] = struct{}{}
	}
	if len(purged) == 0 {
		return 0, nil
	}

	for messageID, it := range m.items {
		if _, ok := purged[it.JobID]; ok {
			delete(m.items, messageID)
		}
	}
	kept := m.logs[:0]
	for _, e := range m.logs {
		if _, ok := purged[e.JobID]; !ok {
			kept = append(kept, e)
		}
	}
	m.logs = kept
	return len(purged), nil
}

func (m *Store) Stats(_ context.Context) (*job.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &job.Stats{
		Jobs:  make(map[job.Status]int),
		Items: make(map[job.ItemStatus]int),
	}
	for _, j := range m.jobs {
		stats.Jobs[j.Status]++
	}
	for _, it := range m.items {
		stats.Items[it.Status]++
	}
	return stats, nil
}

func (m *Store) AppendLogs(_ context.Context, entries []*joblog.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range entries {
		cp := *e
		m.nextLogID++
		cp.ID = m.nextLogID
		m.logs = append(m.logs, &cp)
	}
	return nil
}

func (m *Store) ListLogs(_ context.Context, jobID uuid.UUID, limit int) ([]*joblog.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*joblog.Entry, 0)
	for _, e := range m.logs {
		if jobID != uuid.Nil && e.JobID != jobID {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func paginate[T any](in []T, offset, limit int) []T {
	if offset >= len(in) {
		return []T{}
	}
	in = in[offset:]
	if limit > 0 && len(in) > limit {
		in = in[:limit]
	}
	return in
}
