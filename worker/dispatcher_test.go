package worker_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	sharesync "github.com/steveoberholzer/ShareSync"
	"github.com/steveoberholzer/ShareSync/broker"
	"github.com/steveoberholzer/ShareSync/handler"
	"github.com/steveoberholzer/ShareSync/job"
	"github.com/steveoberholzer/ShareSync/message"
	"github.com/steveoberholzer/ShareSync/store/memory"
	"github.com/steveoberholzer/ShareSync/throttle"
	"github.com/steveoberholzer/ShareSync/worker"
)

type rig struct {
	store      *memory.Store
	transport  *broker.Memory
	registry   *handler.Registry
	controller *throttle.Controller
	dispatcher *worker.Dispatcher
}

func newRig(t *testing.T) *rig {
	t.Helper()

	store := memory.New()
	transport := broker.NewMemory()
	if err := transport.DeclareTopology(context.Background()); err != nil {
		t.Fatalf("declare topology: %v", err)
	}
	t.Cleanup(func() { transport.Close() })

	registry := handler.NewRegistry()
	controller := throttle.New(time.Millisecond,
		throttle.WithBounds(time.Millisecond, 10*time.Millisecond),
	)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return &rig{
		store:      store,
		transport:  transport,
		registry:   registry,
		controller: controller,
		dispatcher: worker.NewDispatcher(store, transport, registry, controller, logger),
	}
}

func (r *rig) createJob(t *testing.T, total int) *job.Job {
	t.Helper()
	j := &job.Job{
		ID:          uuid.New(),
		Kind:        string(message.KindPermissionSync),
		Environment: "production",
		Total:       total,
		Status:      job.StatusQueued,
		Priority:    job.PriorityHigh,
		CreatedAt:   time.Now().UTC(),
	}
	if err := r.store.CreateJob(context.Background(), j); err != nil {
		t.Fatalf("create job: %v", err)
	}
	return j
}

func (r *rig) createEnvelope(t *testing.T, jobID uuid.UUID) *message.Envelope {
	t.Helper()
	env := message.New(jobID, message.KindPermissionSync, "production", 3)
	env.PermissionSync = &message.PermissionSync{
		InteractionID: 42,
		FolderID:      7,
		InternalRole:  message.PermissionContribute,
		InternalUsers: []string{"user@example.com"},
	}
	it := &job.Item{
		MessageID:  env.MessageID,
		JobID:      jobID,
		Kind:       string(env.Kind),
		Identifier: env.Identifier(),
		Payload:    mustEncode(t, env),
		Status:     job.ItemPending,
		MaxRetries: env.MaxRetries,
		CreatedAt:  time.Now().UTC(),
	}
	if err := r.store.CreateItem(context.Background(), it); err != nil {
		t.Fatalf("create item: %v", err)
	}
	return env
}

func mustEncode(t *testing.T, env *message.Envelope) []byte {
	t.Helper()
	b, err := message.Encode(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return b
}

// waitFor polls until cond returns true or the deadline expires.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDispatch_Success(t *testing.T) {
	r := newRig(t)
	j := r.createJob(t, 1)
	env := r.createEnvelope(t, j.ID)

	r.registry.Register(message.KindPermissionSync, handler.Func(func(_ context.Context, _ *message.Envelope) handler.Result {
		return handler.OK()
	}))

	if err := r.dispatcher.Dispatch(context.Background(), env); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	it, err := r.store.GetItem(context.Background(), env.MessageID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if it.Status != job.ItemCompleted {
		t.Fatalf("item status = %s, want Completed", it.Status)
	}
	if it.ProcessedAt == nil {
		t.Fatal("expected ProcessedAt stamped")
	}

	got, _ := r.store.GetJob(context.Background(), j.ID)
	if got.Processed != 1 || got.Failed != 0 {
		t.Fatalf("counters = %d/%d, want 1/0", got.Processed, got.Failed)
	}
	if got.Status != job.StatusCompleted {
		t.Fatalf("job status = %s, want Completed", got.Status)
	}
	if got.CompletedAt == nil || got.StartedAt == nil {
		t.Fatal("expected StartedAt and CompletedAt stamped")
	}
}

func TestDispatch_RetryThenSuccess(t *testing.T) {
	r := newRig(t)
	j := r.createJob(t, 1)
	env := r.createEnvelope(t, j.ID)

	var calls atomic.Int32
	r.registry.Register(message.KindPermissionSync, handler.Func(func(_ context.Context, _ *message.Envelope) handler.Result {
		if calls.Add(1) <= 2 {
			return handler.Fail("access denied")
		}
		return handler.OK()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := r.transport.Subscribe(ctx, message.QueuePermissionSync, r.dispatcher.Dispatch); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := r.transport.Publish(ctx, message.QueuePermissionSync, env, j.Priority.Value()); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitFor(t, func() bool {
		got, err := r.store.GetJob(context.Background(), j.ID)
		return err == nil && got.Status.Terminal()
	}, "job never reached a terminal status")

	got, _ := r.store.GetJob(context.Background(), j.ID)
	if got.Status != job.StatusCompleted || got.Processed != 1 || got.Failed != 0 {
		t.Fatalf("job = %s %d/%d, want Completed 1/0", got.Status, got.Processed, got.Failed)
	}

	it, _ := r.store.GetItem(context.Background(), env.MessageID)
	if it.Status != job.ItemCompleted {
		t.Fatalf("item status = %s, want Completed", it.Status)
	}
	if it.RetryCount != 2 {
		t.Fatalf("item retry count = %d, want 2", it.RetryCount)
	}
	if n := calls.Load(); n != 3 {
		t.Fatalf("handler calls = %d, want 3", n)
	}
	if dl := r.transport.DeadLetters(); len(dl) != 0 {
		t.Fatalf("expected no dead letters, got %d", len(dl))
	}
}

func TestDispatch_ExhaustedRetriesEscalate(t *testing.T) {
	r := newRig(t)
	j := r.createJob(t, 1)
	env := r.createEnvelope(t, j.ID)

	var calls atomic.Int32
	r.registry.Register(message.KindPermissionSync, handler.Func(func(_ context.Context, _ *message.Envelope) handler.Result {
		calls.Add(1)
		return handler.Fail("access denied")
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := r.transport.Subscribe(ctx, message.QueuePermissionSync, r.dispatcher.Dispatch); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := r.transport.Publish(ctx, message.QueuePermissionSync, env, j.Priority.Value()); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitFor(t, func() bool {
		got, err := r.store.GetJob(context.Background(), j.ID)
		return err == nil && got.Status.Terminal()
	}, "job never reached a terminal status")

	got, _ := r.store.GetJob(context.Background(), j.ID)
	if got.Status != job.StatusFailed || got.Processed != 0 || got.Failed != 1 {
		t.Fatalf("job = %s %d/%d, want Failed 0/1", got.Status, got.Processed, got.Failed)
	}

	it, _ := r.store.GetItem(context.Background(), env.MessageID)
	if it.Status != job.ItemFailed {
		t.Fatalf("item status = %s, want Failed", it.Status)
	}
	if it.RetryCount != 3 {
		t.Fatalf("item retry count = %d, want 3", it.RetryCount)
	}
	if it.Error != "access denied" {
		t.Fatalf("item error = %q", it.Error)
	}
	if n := calls.Load(); n != 3 {
		t.Fatalf("handler calls = %d, want 3", n)
	}

	dl := r.transport.DeadLetters()
	if len(dl) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(dl))
	}
	if dl[0].MessageID != env.MessageID || dl[0].RetryCount != 3 {
		t.Fatalf("dead letter = %s retry %d", dl[0].MessageID, dl[0].RetryCount)
	}
}

func TestDispatch_ThrottlingBacksOff(t *testing.T) {
	r := newRig(t)
	j := r.createJob(t, 1)
	env := r.createEnvelope(t, j.ID)

	r.registry.Register(message.KindPermissionSync, handler.Func(func(_ context.Context, _ *message.Envelope) handler.Result {
		return handler.FailCode("too many requests", 429)
	}))

	before := r.controller.Delay()
	if err := r.dispatcher.Dispatch(context.Background(), env); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if after := r.controller.Delay(); after <= before {
		t.Fatalf("delay did not grow after throttling: %v -> %v", before, after)
	}
	if stats := r.controller.Stats(); stats.ThrottleCount != 1 {
		t.Fatalf("throttle count = %d, want 1", stats.ThrottleCount)
	}

	it, _ := r.store.GetItem(context.Background(), env.MessageID)
	if it.Status != job.ItemRequeued {
		t.Fatalf("item status = %s, want Requeued", it.Status)
	}
}

func TestDispatch_PausedJobRecirculates(t *testing.T) {
	r := newRig(t)
	j := r.createJob(t, 1)
	env := r.createEnvelope(t, j.ID)
	if err := r.store.SetJobStatus(context.Background(), j.ID, job.StatusPaused, ""); err != nil {
		t.Fatalf("pause: %v", err)
	}

	called := false
	r.registry.Register(message.KindPermissionSync, handler.Func(func(_ context.Context, _ *message.Envelope) handler.Result {
		called = true
		return handler.OK()
	}))

	if err := r.dispatcher.Dispatch(context.Background(), env); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if called {
		t.Fatal("handler must not run for a paused job")
	}

	it, _ := r.store.GetItem(context.Background(), env.MessageID)
	if it.Status != job.ItemPending {
		t.Fatalf("item status = %s, want Pending", it.Status)
	}
	if it.RetryCount != 0 {
		t.Fatalf("retry count = %d, want 0 for paused recirculation", it.RetryCount)
	}
	if depth := r.transport.Depth(message.QueuePermissionSync); depth != 1 {
		t.Fatalf("queue depth = %d, want 1 republished message", depth)
	}
}

func TestDispatch_UnregisteredKindEscalatesAndPaces(t *testing.T) {
	r := newRig(t)
	j := r.createJob(t, 1)
	env := r.createEnvelope(t, j.ID)
	// Nothing registered for the envelope's kind.

	const delay = 30 * time.Millisecond
	ctrl := throttle.New(delay, throttle.WithBounds(delay, 10*delay))
	d := worker.NewDispatcher(r.store, r.transport, r.registry, ctrl, slog.New(slog.NewTextHandler(io.Discard, nil)))

	start := time.Now()
	if err := d.Dispatch(context.Background(), env); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if elapsed := time.Since(start); elapsed < delay {
		t.Fatalf("dispatch returned after %v, want at least %v of pacing", elapsed, delay)
	}

	it, _ := r.store.GetItem(context.Background(), env.MessageID)
	if it.Status != job.ItemFailed {
		t.Fatalf("item status = %s, want Failed", it.Status)
	}

	got, _ := r.store.GetJob(context.Background(), j.ID)
	if got.Status != job.StatusFailed || got.Failed != 1 {
		t.Fatalf("job = %s failed %d, want Failed 1", got.Status, got.Failed)
	}

	if dl := r.transport.DeadLetters(); len(dl) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(dl))
	}
}

func TestDispatch_UnknownJobRejected(t *testing.T) {
	r := newRig(t)
	env := message.New(uuid.New(), message.KindPermissionSync, "production", 3)
	env.PermissionSync = &message.PermissionSync{
		InteractionID: 1, FolderID: 1,
		InternalRole: message.PermissionRead, InternalUsers: []string{"u@example.com"},
	}

	err := r.dispatcher.Dispatch(context.Background(), env)
	if !errors.Is(err, sharesync.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestDispatch_MixedOutcomeFinalizesFailed(t *testing.T) {
	r := newRig(t)
	j := r.createJob(t, 2)
	good := r.createEnvelope(t, j.ID)
	bad := r.createEnvelope(t, j.ID)

	r.registry.Register(message.KindPermissionSync, handler.Func(func(_ context.Context, env *message.Envelope) handler.Result {
		if env.MessageID == good.MessageID {
			return handler.OK()
		}
		return handler.Fail("access denied")
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := r.transport.Subscribe(ctx, message.QueuePermissionSync, r.dispatcher.Dispatch); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	for _, env := range []*message.Envelope{good, bad} {
		if err := r.transport.Publish(ctx, message.QueuePermissionSync, env, j.Priority.Value()); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	waitFor(t, func() bool {
		got, err := r.store.GetJob(context.Background(), j.ID)
		return err == nil && got.Status.Terminal()
	}, "job never reached a terminal status")

	got, _ := r.store.GetJob(context.Background(), j.ID)
	if got.Status != job.StatusFailed {
		t.Fatalf("job status = %s, want Failed", got.Status)
	}
	if got.Processed != 1 || got.Failed != 1 {
		t.Fatalf("counters = %d/%d, want 1/1", got.Processed, got.Failed)
	}
}

func TestPool_StartStop(t *testing.T) {
	r := newRig(t)
	j := r.createJob(t, 1)
	env := r.createEnvelope(t, j.ID)

	r.registry.Register(message.KindPermissionSync, handler.Func(func(_ context.Context, _ *message.Envelope) handler.Result {
		return handler.OK()
	}))

	pool := worker.NewPool(r.transport, r.dispatcher, slog.New(slog.NewTextHandler(io.Discard, nil)),
		worker.WithShutdownGrace(time.Second),
	)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := r.transport.Publish(context.Background(), message.QueuePermissionSync, env, j.Priority.Value()); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitFor(t, func() bool {
		got, err := r.store.GetJob(context.Background(), j.ID)
		return err == nil && got.Status == job.StatusCompleted
	}, "job never completed through the pool")

	if err := pool.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	// Stopping twice is a no-op.
	if err := pool.Stop(context.Background()); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}
