package domain

import "time"

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

type NotificationType string

const (
	NotificationNewEntry NotificationType = "NEW_ENTRY"
)

type ContactStatus string

const (
	ContactUnread ContactStatus = "unread"
	ContactRead   ContactStatus = "read"
)

// FileRef locates a worksheet file in object storage. An entry owns
// exactly one file; replacing the file replaces the whole ref.
type FileRef struct {
	Key       string `json:"-"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"sizeBytes"`
}

// CatalogEntry is one uploaded worksheet's metadata plus its derived
// search index. SearchIndex is never caller-supplied; it is recomputed
// from the other fields on every create and edit.
type CatalogEntry struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Subject     string    `json:"subject"`
	Standard    string    `json:"standard"`
	Topic       string    `json:"topic,omitempty"`
	Subtopic    string    `json:"subtopic,omitempty"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags"`
	SearchIndex []string  `json:"searchIndex"`
	File        FileRef   `json:"file"`
	UploadedAt  time.Time `json:"uploadedAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// NotificationPayload is the small structured payload attached to a
// notification record.
type NotificationPayload struct {
	EntryID  string `json:"entryId"`
	Standard string `json:"standard"`
}

// Notification is one user's copy of a broadcast event. UserID is a
// non-owning reference; deleting a user does not remove its notifications.
type Notification struct {
	ID        string              `json:"id"`
	UserID    string              `json:"userId"`
	Type      NotificationType    `json:"type"`
	Title     string              `json:"title"`
	Message   string              `json:"message"`
	Payload   NotificationPayload `json:"payload"`
	Read      bool                `json:"read"`
	CreatedAt time.Time           `json:"createdAt"`
}

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      UserRole  `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

// Principal is the authenticated caller attached to each request.
type Principal struct {
	UserID string
	Admin  bool
}

type Contact struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Email       string        `json:"email"`
	PhoneNumber string        `json:"phoneNumber"`
	Description string        `json:"description"`
	Status      ContactStatus `json:"status"`
	CreatedAt   time.Time     `json:"createdAt"`
}
