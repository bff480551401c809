package message_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"

	sharesync "github.com/steveoberholzer/ShareSync"
	"github.com/steveoberholzer/ShareSync/message"
)

func permissionSyncEnvelope() *message.Envelope {
	e := message.New(uuid.New(), message.KindPermissionSync, "UAT", 3)
	e.PermissionSync = &message.PermissionSync{
		InteractionID: 42,
		ProjectID:     7,
		EngagementID:  3,
		SiteURL:       "https://tenant.example.com/sites/engagements",
		Library:       "Documents",
		FolderID:      1042,
		InternalRole:  message.PermissionContribute,
		InternalUsers: []string{"ana@example.com", "bob@example.com"},
		ExternalRole:  message.PermissionRead,
		ExternalUsers: []string{"guest@partner.example"},
	}
	return e
}

func TestRoundTrip_AllFields(t *testing.T) {
	e := permissionSyncEnvelope()
	e.RetryCount = 2

	wire, err := message.Encode(e)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := message.Decode(wire)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if got.MessageID != e.MessageID || got.JobID != e.JobID {
		t.Errorf("ids changed: got %s/%s, want %s/%s", got.MessageID, got.JobID, e.MessageID, e.JobID)
	}
	if got.RetryCount != 2 || got.MaxRetries != 3 {
		t.Errorf("retry fields = %d/%d, want 2/3", got.RetryCount, got.MaxRetries)
	}
	if got.Environment != "UAT" {
		t.Errorf("Environment = %q, want %q", got.Environment, "UAT")
	}
	if got.PermissionSync == nil || got.PermissionSync.FolderID != 1042 {
		t.Fatalf("payload not preserved: %+v", got.PermissionSync)
	}
	if len(got.PermissionSync.InternalUsers) != 2 {
		t.Errorf("InternalUsers = %v", got.PermissionSync.InternalUsers)
	}
}

func TestRoundTrip_StableThroughRequeueCycles(t *testing.T) {
	e := permissionSyncEnvelope()

	// Simulate requeue cycles: decode, bump retry count, re-encode.
	wire, err := message.Encode(e)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	for cycle := 1; cycle <= 3; cycle++ {
		decoded, decErr := message.Decode(wire)
		if decErr != nil {
			t.Fatalf("cycle %d decode: %v", cycle, decErr)
		}
		decoded.RetryCount++
		wire, err = message.Encode(decoded)
		if err != nil {
			t.Fatalf("cycle %d encode: %v", cycle, err)
		}
	}

	final, err := message.Decode(wire)
	if err != nil {
		t.Fatalf("final decode: %v", err)
	}
	if final.RetryCount != 3 {
		t.Errorf("RetryCount after 3 cycles = %d, want 3", final.RetryCount)
	}
	if final.MessageID != e.MessageID {
		t.Errorf("MessageID changed across requeues")
	}

	// A fixed envelope must re-encode identically.
	again, err := message.Encode(final)
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if !bytes.Equal(wire, again) {
		t.Error("encoding is not stable across a decode/encode cycle")
	}
}

func TestDecode_RejectsMalformed(t *testing.T) {
	if _, err := message.Decode([]byte("{not json")); !errors.Is(err, sharesync.ErrMalformedEnvelope) {
		t.Errorf("garbage input: err = %v, want ErrMalformedEnvelope", err)
	}

	// Known kind, missing payload.
	e := message.New(uuid.New(), message.KindFolderValidate, "DEV", 3)
	raw, _ := jsonMarshal(t, e)
	if _, err := message.Decode(raw); !errors.Is(err, sharesync.ErrMalformedEnvelope) {
		t.Errorf("missing payload: err = %v, want ErrMalformedEnvelope", err)
	}

	// Kind and payload disagree.
	e = permissionSyncEnvelope()
	e.Kind = message.KindFolderCreate
	e.FolderCreate = &message.FolderCreate{Name: "x"}
	raw, _ = jsonMarshal(t, e)
	if _, err := message.Decode(raw); !errors.Is(err, sharesync.ErrMalformedEnvelope) {
		t.Errorf("mismatched payload: err = %v, want ErrMalformedEnvelope", err)
	}
}

func TestDecode_RejectsUnknownKind(t *testing.T) {
	e := permissionSyncEnvelope()
	e.Kind = message.Kind("site.demolish")
	raw, _ := jsonMarshal(t, e)
	if _, err := message.Decode(raw); !errors.Is(err, sharesync.ErrUnknownKind) {
		t.Errorf("err = %v, want ErrUnknownKind", err)
	}
}

func TestIdentifier(t *testing.T) {
	e := permissionSyncEnvelope()
	if got := e.Identifier(); got != "Interaction:42" {
		t.Errorf("Identifier() = %q, want %q", got, "Interaction:42")
	}

	reset := message.New(uuid.New(), message.KindPermissionReset, "DEV", 3)
	reset.PermissionReset = &message.PermissionReset{FolderType: "Folder", FolderID: 7}
	if got := reset.Identifier(); got != "Folder:7" {
		t.Errorf("Identifier() = %q, want %q", got, "Folder:7")
	}
}

func TestQueueFor(t *testing.T) {
	for _, kind := range message.Kinds() {
		q, err := message.QueueFor(kind)
		if err != nil {
			t.Errorf("QueueFor(%q): %v", kind, err)
		}
		if q == message.QueueDeadLetter {
			t.Errorf("QueueFor(%q) returned the dead-letter queue", kind)
		}
	}
	if _, err := message.QueueFor(message.Kind("nope")); !errors.Is(err, sharesync.ErrUnknownKind) {
		t.Errorf("unknown kind: err = %v, want ErrUnknownKind", err)
	}
}

// jsonMarshal serializes without Encode's validation, to build broken
// wire data for decode tests.
func jsonMarshal(t *testing.T, e *message.Envelope) ([]byte, error) {
	t.Helper()
	b, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	return b, nil
}
