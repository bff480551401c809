package broker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/steveoberholzer/ShareSync/broker"
	"github.com/steveoberholzer/ShareSync/message"
)

func resetEnvelope(folderID int) *message.Envelope {
	e := message.New(uuid.New(), message.KindPermissionReset, "DEV", 3)
	e.PermissionReset = &message.PermissionReset{
		SiteURL:    "https://tenant.example.com/sites/a",
		Library:    "Documents",
		FolderID:   folderID,
		FolderType: "Folder",
	}
	return e
}

func TestMemory_DeliversByPriority(t *testing.T) {
	m := broker.NewMemory()
	if err := m.DeclareTopology(context.Background()); err != nil {
		t.Fatalf("DeclareTopology: %v", err)
	}
	defer m.Close()

	// Publish low priority first, then high: high must arrive first.
	low := resetEnvelope(1)
	high := resetEnvelope(2)
	if err := m.Publish(context.Background(), message.QueuePermissionReset, low, 1); err != nil {
		t.Fatalf("publish low: %v", err)
	}
	if err := m.Publish(context.Background(), message.QueuePermissionReset, high, 10); err != nil {
		t.Fatalf("publish high: %v", err)
	}

	var mu sync.Mutex
	var order []int
	done := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	err := m.Subscribe(ctx, message.QueuePermissionReset, func(_ context.Context, env *message.Envelope) error {
		mu.Lock()
		order = append(order, env.PermissionReset.FolderID)
		if len(order) == 2 {
			close(done)
		}
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for deliveries")
	}

	mu.Lock()
	defer mu.Unlock()
	if order[0] != 2 || order[1] != 1 {
		t.Errorf("delivery order = %v, want [2 1]", order)
	}
}

func TestMemory_HandlerErrorDeadLetters(t *testing.T) {
	m := broker.NewMemory()
	if err := m.DeclareTopology(context.Background()); err != nil {
		t.Fatalf("DeclareTopology: %v", err)
	}
	defer m.Close()

	env := resetEnvelope(9)
	if err := m.Publish(context.Background(), message.QueuePermissionReset, env, 5); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handled := make(chan struct{})
	err := m.Subscribe(ctx, message.QueuePermissionReset, func(_ context.Context, _ *message.Envelope) error {
		defer close(handled)
		return errors.New("boom")
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	<-handled
	waitFor(t, func() bool { return len(m.DeadLetters()) == 1 })
	if got := m.DeadLetters()[0].MessageID; got != env.MessageID {
		t.Errorf("dead letter id = %s, want %s", got, env.MessageID)
	}
}

func TestMemory_UndecodableGoesToRawDeadLetters(t *testing.T) {
	m := broker.NewMemory()
	if err := m.DeclareTopology(context.Background()); err != nil {
		t.Fatalf("DeclareTopology: %v", err)
	}
	defer m.Close()

	if err := m.Inject(message.QueueFolderValidate, []byte("{broken"), 5); err != nil {
		t.Fatalf("Inject: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	called := false
	err := m.Subscribe(ctx, message.QueueFolderValidate, func(_ context.Context, _ *message.Envelope) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	waitFor(t, func() bool { return len(m.RawDeadLetters()) == 1 })
	if called {
		t.Error("handler was invoked for an undecodable message")
	}
}

func TestMemory_PublishUndeclaredQueue(t *testing.T) {
	m := broker.NewMemory()
	// No DeclareTopology.
	err := m.Publish(context.Background(), message.QueueFolderCreate, resetEnvelopeAsCreate(), 5)
	if err == nil {
		t.Fatal("Publish to undeclared queue succeeded")
	}
}

func resetEnvelopeAsCreate() *message.Envelope {
	e := message.New(uuid.New(), message.KindFolderCreate, "DEV", 3)
	e.FolderCreate = &message.FolderCreate{Name: "x", SiteURL: "https://s", Library: "Documents", InternalRole: message.PermissionRead}
	return e
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("condition not met in time")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}
