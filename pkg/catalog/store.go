package catalog

import (
	"errors"

	"worksheethub/pkg/domain"
)

var (
	// ErrNotFound is returned when a referenced entry does not exist.
	ErrNotFound = errors.New("worksheet not found")
	// ErrConflict is returned on an entry id collision.
	ErrConflict = errors.New("worksheet id already exists")
	// ErrForbidden is returned when the caller lacks the admin capability.
	ErrForbidden = errors.New("admin access required")
)

// ScanQuery selects a standard-scoped page of entries. Token, when set,
// must be a member of the entry's search index (matched lowercased).
// After resumes the scan strictly after the cursor position.
type ScanQuery struct {
	Standard string
	Token    string
	PageSize int
	After    *PageCursor
}

// Store persists catalog entries and serves the filtered ordered scan.
// Scans return entries ordered by uploadedAt descending with id
// descending as the tie-break, at most PageSize rows per call.
type Store interface {
	CreateEntry(entry domain.CatalogEntry) error
	GetEntry(id string) (domain.CatalogEntry, bool, error)
	ReplaceEntry(entry domain.CatalogEntry) error
	DeleteEntry(id string) error
	ScanByStandard(q ScanQuery) ([]domain.CatalogEntry, error)
	SaveContact(contact domain.Contact) error
}

// NotificationStore persists per-user notification records.
type NotificationStore interface {
	SaveNotification(n domain.Notification) error
	ListNotificationsForUser(userID string, limit int) ([]domain.Notification, error)
	MarkNotificationRead(userID, id string) error
}
