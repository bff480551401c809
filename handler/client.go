package handler

import (
	"context"
	"errors"
	"fmt"
)

// Grant assigns one permission role to one user.
type Grant struct {
	UserEmail string `json:"user_email"`
	Role      string `json:"role"`
}

// SiteClient is the capability contract for the downstream
// document-management site. The concrete system is swappable behind
// this interface; implementations own their own authentication and
// timeouts.
type SiteClient interface {
	// CreateFolder creates a folder and returns its site folder id.
	CreateFolder(ctx context.Context, siteURL, library, parentPath, name string) (int, error)

	// ApplyPermissions replaces the folder's role assignments with
	// the given grants.
	ApplyPermissions(ctx context.Context, siteURL, library string, folderID int, grants []Grant) error

	// CloseFolder closes an interaction folder, which also removes
	// its unique permissions.
	CloseFolder(ctx context.Context, siteURL, library string, folderID int) error

	// ResetInheritance removes a folder's unique permissions so it
	// inherits from its parent again.
	ResetInheritance(ctx context.Context, siteURL, library string, folderID int) error

	// FolderExists reports whether the folder is present on the site.
	FolderExists(ctx context.Context, siteURL, library string, folderID int) (bool, error)
}

// SiteError is a structured failure from the site, carrying the
// upstream error code when the site reported one.
type SiteError struct {
	Code    int
	Message string
}

// Error implements the error interface.
func (e *SiteError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("site error %d: %s", e.Code, e.Message)
	}
	return "site error: " + e.Message
}

// resultFromErr normalizes a site call error into a failed Result,
// preserving the upstream code when the error is a SiteError.
func resultFromErr(err error) Result {
	var se *SiteError
	if errors.As(err, &se) {
		return FailCode(se.Message, se.Code)
	}
	return Fail(err.Error())
}

// grantsFor builds the grant list from the internal and external role
// assignments carried on a message.
func grantsFor(internalRole string, internalUsers []string, externalRole string, externalUsers []string) []Grant {
	grants := make([]Grant, 0, len(internalUsers)+len(externalUsers))
	for _, email := range internalUsers {
		grants = append(grants, Grant{UserEmail: email, Role: internalRole})
	}
	for _, email := range externalUsers {
		grants = append(grants, Grant{UserEmail: email, Role: externalRole})
	}
	return grants
}
