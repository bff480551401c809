package handler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/steveoberholzer/ShareSync/message"
)

// FolderCreate creates a new interaction folder and applies its initial
// permissions in one operation.
type FolderCreate struct {
	client SiteClient
	logger *slog.Logger
}

// NewFolderCreate creates the folder-creation handler.
func NewFolderCreate(client SiteClient, logger *slog.Logger) *FolderCreate {
	return &FolderCreate{client: client, logger: logger}
}

// Handle creates the folder, records the assigned folder id on the
// payload, then applies the requested grants.
func (h *FolderCreate) Handle(ctx context.Context, env *message.Envelope) Result {
	p := env.FolderCreate

	folderID, err := h.client.CreateFolder(ctx, p.SiteURL, p.Library, p.Subfolder, p.Name)
	if err != nil {
		return resultFromErr(err)
	}
	p.CreatedFolderID = &folderID

	grants := grantsFor(p.InternalRole, p.InternalUsers, p.ExternalRole, p.ExternalUsers)
	if len(grants) > 0 {
		if err := h.client.ApplyPermissions(ctx, p.SiteURL, p.Library, folderID, grants); err != nil {
			return resultFromErr(err)
		}
	}

	h.logger.Info("folder created",
		slog.String("name", p.Name),
		slog.Int("folder_id", folderID),
		slog.Int("grants", len(grants)),
	)
	return OKData(folderID)
}

// PermissionSync applies permissions to an existing interaction folder.
type PermissionSync struct {
	client SiteClient
	logger *slog.Logger
}

// NewPermissionSync creates the permission-sync handler.
func NewPermissionSync(client SiteClient, logger *slog.Logger) *PermissionSync {
	return &PermissionSync{client: client, logger: logger}
}

// Handle replaces the folder's role assignments with the message's
// internal and external grants.
func (h *PermissionSync) Handle(ctx context.Context, env *message.Envelope) Result {
	p := env.PermissionSync

	grants := grantsFor(p.InternalRole, p.InternalUsers, p.ExternalRole, p.ExternalUsers)
	if err := h.client.ApplyPermissions(ctx, p.SiteURL, p.Library, p.FolderID, grants); err != nil {
		return resultFromErr(err)
	}

	h.logger.Info("permissions applied",
		slog.Int("interaction_id", p.InteractionID),
		slog.Int("folder_id", p.FolderID),
		slog.Int("grants", len(grants)),
	)
	return OK()
}

// PermissionReset removes a folder's unique permissions. For
// interaction folders the site exposes no direct reset, so the close
// operation is used as a substitute; the substitution is surfaced
// transparently as plain success or failure.
type PermissionReset struct {
	client SiteClient
	logger *slog.Logger
}

// NewPermissionReset creates the permission-reset handler.
func NewPermissionReset(client SiteClient, logger *slog.Logger) *PermissionReset {
	return &PermissionReset{client: client, logger: logger}
}

// Handle resets the folder to inherited permissions.
func (h *PermissionReset) Handle(ctx context.Context, env *message.Envelope) Result {
	p := env.PermissionReset

	var err error
	if p.FolderType == "Interaction" {
		err = h.client.CloseFolder(ctx, p.SiteURL, p.Library, p.FolderID)
	} else {
		err = h.client.ResetInheritance(ctx, p.SiteURL, p.Library, p.FolderID)
	}
	if err != nil {
		return resultFromErr(err)
	}

	h.logger.Info("unique permissions removed",
		slog.String("folder_type", p.FolderType),
		slog.Int("folder_id", p.FolderID),
	)
	return OK()
}

// FolderValidate checks that every folder in the message exists.
type FolderValidate struct {
	client SiteClient
	logger *slog.Logger
}

// NewFolderValidate creates the folder-validation handler.
func NewFolderValidate(client SiteClient, logger *slog.Logger) *FolderValidate {
	return &FolderValidate{client: client, logger: logger}
}

// Handle reports success only when every folder id exists on the site.
// The failure message names the missing ids.
func (h *FolderValidate) Handle(ctx context.Context, env *message.Envelope) Result {
	p := env.FolderValidate

	var missing []string
	for _, id := range p.FolderIDs {
		exists, err := h.client.FolderExists(ctx, p.SiteURL, p.Library, id)
		if err != nil {
			return resultFromErr(err)
		}
		if !exists {
			missing = append(missing, fmt.Sprintf("%d", id))
		}
	}

	if len(missing) > 0 {
		return Fail("missing folders: " + strings.Join(missing, ", "))
	}

	h.logger.Info("folders validated", slog.Int("count", len(p.FolderIDs)))
	return OKData(len(p.FolderIDs))
}
