// Package message defines the wire envelope for job items. An Envelope
// is a tagged union: the Kind tag selects which payload field is set,
// and the codec rejects envelopes whose tag and payload disagree.
package message

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	sharesync "github.com/steveoberholzer/ShareSync"
)

// Kind identifies the operation an envelope carries. The set is closed;
// unknown kinds are rejected at decode time.
type Kind string

const (
	// KindFolderCreate creates a new interaction folder with permissions.
	KindFolderCreate Kind = "folder.create"
	// KindPermissionSync applies permissions to an existing folder.
	KindPermissionSync Kind = "permission.sync"
	// KindPermissionReset removes unique permissions from a folder,
	// restoring inheritance from its parent.
	KindPermissionReset Kind = "permission.reset"
	// KindFolderValidate checks that folders exist on the site.
	KindFolderValidate Kind = "folder.validate"
)

// Kinds returns every known operation kind.
func Kinds() []Kind {
	return []Kind{KindFolderCreate, KindPermissionSync, KindPermissionReset, KindFolderValidate}
}

// Permission levels understood by the downstream site.
const (
	PermissionRead        = "Read"
	PermissionContribute  = "Contribute"
	PermissionFullControl = "Full Control"
)

// Envelope is the wire representation of a job item. The envelope
// fields are shared by every kind; exactly one payload pointer is set,
// matching Kind. Envelopes are value data: they are copied across the
// producer, transport, dispatcher, and handler boundaries, and must
// round-trip bit-for-bit through requeue cycles.
type Envelope struct {
	MessageID   uuid.UUID `json:"message_id"`
	JobID       uuid.UUID `json:"job_id"`
	Kind        Kind      `json:"kind"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
	RetryCount  int       `json:"retry_count"`
	MaxRetries  int       `json:"max_retries"`
	Environment string    `json:"environment"`

	FolderCreate    *FolderCreate    `json:"folder_create,omitempty"`
	PermissionSync  *PermissionSync  `json:"permission_sync,omitempty"`
	PermissionReset *PermissionReset `json:"permission_reset,omitempty"`
	FolderValidate  *FolderValidate  `json:"folder_validate,omitempty"`
}

// FolderCreate is the payload for KindFolderCreate.
type FolderCreate struct {
	Name          string   `json:"name"`
	ProjectID     int      `json:"project_id"`
	EngagementID  int      `json:"engagement_id"`
	SiteURL       string   `json:"site_url"`
	Library       string   `json:"library"`
	Subfolder     string   `json:"subfolder,omitempty"`
	CreatedBy     string   `json:"created_by,omitempty"`
	InternalRole  string   `json:"internal_role"`
	InternalUsers []string `json:"internal_users"`
	ExternalRole  string   `json:"external_role,omitempty"`
	ExternalUsers []string `json:"external_users,omitempty"`

	// CreatedFolderID is assigned by the handler after a successful
	// creation and carried back for ledger display.
	CreatedFolderID *int `json:"created_folder_id,omitempty"`
}

// PermissionSync is the payload for KindPermissionSync.
type PermissionSync struct {
	InteractionID int      `json:"interaction_id"`
	ProjectID     int      `json:"project_id"`
	EngagementID  int      `json:"engagement_id"`
	SiteURL       string   `json:"site_url"`
	Library       string   `json:"library"`
	FolderID      int      `json:"folder_id"`
	InternalRole  string   `json:"internal_role"`
	InternalUsers []string `json:"internal_users"`
	ExternalRole  string   `json:"external_role,omitempty"`
	ExternalUsers []string `json:"external_users,omitempty"`
}

// PermissionReset is the payload for KindPermissionReset. FolderType
// is one of "Interaction", "Project", "Engagement", or "Folder".
type PermissionReset struct {
	SiteURL    string `json:"site_url"`
	Library    string `json:"library"`
	FolderID   int    `json:"folder_id"`
	FolderType string `json:"folder_type"`
}

// FolderValidate is the payload for KindFolderValidate.
type FolderValidate struct {
	SiteURL   string `json:"site_url"`
	Library   string `json:"library"`
	FolderIDs []int  `json:"folder_ids"`
}

// New returns an envelope with a fresh message id and enqueue timestamp.
// The caller sets the payload field matching kind.
func New(jobID uuid.UUID, kind Kind, environment string, maxRetries int) *Envelope {
	return &Envelope{
		MessageID:   uuid.New(),
		JobID:       jobID,
		Kind:        kind,
		EnqueuedAt:  time.Now().UTC(),
		MaxRetries:  maxRetries,
		Environment: environment,
	}
}

// Validate checks that the kind is known and exactly the matching
// payload is present.
func (e *Envelope) Validate() error {
	var want, extra int
	for _, p := range []struct {
		kind Kind
		set  bool
	}{
		{KindFolderCreate, e.FolderCreate != nil},
		{KindPermissionSync, e.PermissionSync != nil},
		{KindPermissionReset, e.PermissionReset != nil},
		{KindFolderValidate, e.FolderValidate != nil},
	} {
		if p.kind == e.Kind {
			want++
			if !p.set {
				return fmt.Errorf("%w: kind %q without payload", sharesync.ErrMalformedEnvelope, e.Kind)
			}
		} else if p.set {
			extra++
		}
	}
	if want == 0 {
		return fmt.Errorf("%w: %q", sharesync.ErrUnknownKind, e.Kind)
	}
	if extra > 0 {
		return fmt.Errorf("%w: kind %q with mismatched payload", sharesync.ErrMalformedEnvelope, e.Kind)
	}
	if e.MessageID == uuid.Nil {
		return fmt.Errorf("%w: missing message id", sharesync.ErrMalformedEnvelope)
	}
	return nil
}

// Identifier returns the free-form display string for the item this
// envelope carries, e.g. "Interaction:42".
func (e *Envelope) Identifier() string {
	switch e.Kind {
	case KindFolderCreate:
		if e.FolderCreate != nil {
			return "New:" + e.FolderCreate.Name
		}
	case KindPermissionSync:
		if e.PermissionSync != nil {
			return fmt.Sprintf("Interaction:%d", e.PermissionSync.InteractionID)
		}
	case KindPermissionReset:
		if e.PermissionReset != nil {
			return fmt.Sprintf("%s:%d", e.PermissionReset.FolderType, e.PermissionReset.FolderID)
		}
	case KindFolderValidate:
		if e.FolderValidate != nil {
			return fmt.Sprintf("Validate:%d folders", len(e.FolderValidate.FolderIDs))
		}
	}
	return "Unknown"
}
