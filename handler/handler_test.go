package handler_test

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/steveoberholzer/ShareSync/handler"
	"github.com/steveoberholzer/ShareSync/message"
)

// fakeSite scripts each site call.
type fakeSite struct {
	createErr   error
	createID    int
	applyErr    error
	applied     []handler.Grant
	closeErr    error
	closed      []int
	resetErr    error
	resets      []int
	existing    map[int]bool
	existsErr   error
	existsCalls int
}

func (f *fakeSite) CreateFolder(_ context.Context, _, _, _, _ string) (int, error) {
	if f.createErr != nil {
		return 0, f.createErr
	}
	return f.createID, nil
}

func (f *fakeSite) ApplyPermissions(_ context.Context, _, _ string, _ int, grants []handler.Grant) error {
	if f.applyErr != nil {
		return f.applyErr
	}
	f.applied = append(f.applied, grants...)
	return nil
}

func (f *fakeSite) CloseFolder(_ context.Context, _, _ string, folderID int) error {
	if f.closeErr != nil {
		return f.closeErr
	}
	f.closed = append(f.closed, folderID)
	return nil
}

func (f *fakeSite) ResetInheritance(_ context.Context, _, _ string, folderID int) error {
	if f.resetErr != nil {
		return f.resetErr
	}
	f.resets = append(f.resets, folderID)
	return nil
}

func (f *fakeSite) FolderExists(_ context.Context, _, _ string, folderID int) (bool, error) {
	f.existsCalls++
	if f.existsErr != nil {
		return false, f.existsErr
	}
	return f.existing[folderID], nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFolderCreate_AppliesGrantsAndRecordsID(t *testing.T) {
	site := &fakeSite{createID: 314}
	h := handler.NewFolderCreate(site, discard())

	env := message.New(uuid.New(), message.KindFolderCreate, "DEV", 3)
	env.FolderCreate = &message.FolderCreate{
		Name:          "Q3 Review",
		SiteURL:       "https://tenant.example.com/sites/a",
		Library:       "Documents",
		InternalRole:  message.PermissionContribute,
		InternalUsers: []string{"ana@example.com"},
		ExternalRole:  message.PermissionRead,
		ExternalUsers: []string{"guest@partner.example"},
	}

	res := h.Handle(context.Background(), env)
	if !res.Success {
		t.Fatalf("Handle failed: %s", res.Error)
	}
	if env.FolderCreate.CreatedFolderID == nil || *env.FolderCreate.CreatedFolderID != 314 {
		t.Errorf("CreatedFolderID = %v, want 314", env.FolderCreate.CreatedFolderID)
	}
	if len(site.applied) != 2 {
		t.Errorf("applied %d grants, want 2", len(site.applied))
	}
	if site.applied[0].Role != message.PermissionContribute {
		t.Errorf("internal grant role = %q", site.applied[0].Role)
	}
}

func TestFolderCreate_NormalizesSiteError(t *testing.T) {
	site := &fakeSite{createErr: &handler.SiteError{Code: 429, Message: "too many requests"}}
	h := handler.NewFolderCreate(site, discard())

	env := message.New(uuid.New(), message.KindFolderCreate, "DEV", 3)
	env.FolderCreate = &message.FolderCreate{Name: "x", SiteURL: "https://s", Library: "Documents"}

	res := h.Handle(context.Background(), env)
	if res.Success {
		t.Fatal("Handle succeeded, want failure")
	}
	if res.Code != 429 {
		t.Errorf("Code = %d, want 429", res.Code)
	}
	if res.Error != "too many requests" {
		t.Errorf("Error = %q", res.Error)
	}
}

func TestPermissionReset_SubstitutesCloseForInteractions(t *testing.T) {
	site := &fakeSite{}
	h := handler.NewPermissionReset(site, discard())

	env := message.New(uuid.New(), message.KindPermissionReset, "DEV", 3)
	env.PermissionReset = &message.PermissionReset{
		SiteURL: "https://s", Library: "Documents", FolderID: 8, FolderType: "Interaction",
	}
	if res := h.Handle(context.Background(), env); !res.Success {
		t.Fatalf("interaction reset failed: %s", res.Error)
	}
	if len(site.closed) != 1 || site.closed[0] != 8 {
		t.Errorf("closed = %v, want [8]", site.closed)
	}
	if len(site.resets) != 0 {
		t.Errorf("resets = %v, want none for interaction folders", site.resets)
	}

	// Non-interaction folders use the direct inheritance reset.
	env.PermissionReset.FolderType = "Project"
	env.PermissionReset.FolderID = 9
	if res := h.Handle(context.Background(), env); !res.Success {
		t.Fatalf("project reset failed: %s", res.Error)
	}
	if len(site.resets) != 1 || site.resets[0] != 9 {
		t.Errorf("resets = %v, want [9]", site.resets)
	}
}

func TestFolderValidate_ReportsMissing(t *testing.T) {
	site := &fakeSite{existing: map[int]bool{1: true, 3: true}}
	h := handler.NewFolderValidate(site, discard())

	env := message.New(uuid.New(), message.KindFolderValidate, "DEV", 3)
	env.FolderValidate = &message.FolderValidate{
		SiteURL: "https://s", Library: "Documents", FolderIDs: []int{1, 2, 3},
	}

	res := h.Handle(context.Background(), env)
	if res.Success {
		t.Fatal("Handle succeeded with a missing folder")
	}
	if !strings.Contains(res.Error, "2") {
		t.Errorf("Error = %q, want missing id 2 named", res.Error)
	}
	if site.existsCalls != 3 {
		t.Errorf("existsCalls = %d, want 3", site.existsCalls)
	}
}

func TestRegistry_LookupIsClosed(t *testing.T) {
	reg := handler.DefaultRegistry(&fakeSite{}, discard())

	for _, kind := range message.Kinds() {
		if _, ok := reg.Get(kind); !ok {
			t.Errorf("no handler registered for %q", kind)
		}
	}
	if _, ok := reg.Get(message.Kind("site.demolish")); ok {
		t.Error("unknown kind resolved to a handler")
	}
}
