package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type EntryModel struct {
	ID          string `gorm:"primaryKey"`
	Title       string `gorm:"not null"`
	Subject     string `gorm:"not null"`
	Standard    string `gorm:"not null;index:idx_entries_standard_uploaded,priority:1"`
	Topic       string
	Subtopic    string
	Description string         `gorm:"type:text"`
	Tags        datatypes.JSON `gorm:"type:jsonb"`
	SearchIndex datatypes.JSON `gorm:"type:jsonb"`
	FileKey     string         `gorm:"not null"`
	FileName    string         `gorm:"not null"`
	FileSize    int64          `gorm:"not null"`
	UploadedAt  time.Time      `gorm:"not null;index:idx_entries_standard_uploaded,priority:2,sort:desc"`
	UpdatedAt   time.Time      `gorm:"not null"`
}

// EntryTokenModel is the secondary search index: one row per
// (entry, token), keyed for the standard+token scan.
type EntryTokenModel struct {
	EntryID  string `gorm:"primaryKey"`
	Token    string `gorm:"primaryKey;index:idx_entry_tokens_lookup,priority:2"`
	Standard string `gorm:"not null;index:idx_entry_tokens_lookup,priority:1"`
}

type NotificationModel struct {
	ID        string `gorm:"primaryKey"`
	UserID    string `gorm:"not null;index"`
	Type      string `gorm:"not null"`
	Title     string `gorm:"not null"`
	Message   string
	Payload   datatypes.JSON `gorm:"type:jsonb"`
	Read      bool           `gorm:"not null;default:false"`
	CreatedAt time.Time      `gorm:"not null;index"`
}

type UserModel struct {
	ID        string `gorm:"primaryKey"`
	Email     string `gorm:"uniqueIndex;not null"`
	Name      string
	Role      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

type ContactModel struct {
	ID          string `gorm:"primaryKey"`
	Name        string `gorm:"not null"`
	Email       string `gorm:"not null"`
	PhoneNumber string `gorm:"not null"`
	Description string `gorm:"type:text;not null"`
	Status      string `gorm:"not null"`
	CreatedAt   time.Time
}
