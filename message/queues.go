package message

import (
	"fmt"

	sharesync "github.com/steveoberholzer/ShareSync"
)

// Queue names. One queue per operation kind plus the dead-letter queue
// every operation queue overflows into.
const (
	QueueFolderCreate    = "sharesync.folder.create"
	QueuePermissionSync  = "sharesync.permission.sync"
	QueuePermissionReset = "sharesync.permission.reset"
	QueueFolderValidate  = "sharesync.folder.validate"
	QueueDeadLetter      = "sharesync.deadletter"
)

// QueueFor returns the operation queue for a kind.
func QueueFor(kind Kind) (string, error) {
	switch kind {
	case KindFolderCreate:
		return QueueFolderCreate, nil
	case KindPermissionSync:
		return QueuePermissionSync, nil
	case KindPermissionReset:
		return QueuePermissionReset, nil
	case KindFolderValidate:
		return QueueFolderValidate, nil
	default:
		return "", fmt.Errorf("%w: %q", sharesync.ErrUnknownKind, kind)
	}
}

// OperationQueues returns every operation queue, excluding dead-letter.
func OperationQueues() []string {
	return []string{QueueFolderCreate, QueuePermissionSync, QueuePermissionReset, QueueFolderValidate}
}
