package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"worksheethub/pkg/domain"
	"worksheethub/pkg/notify"
	"worksheethub/pkg/storage"
)

const defaultPageSize = 10

// ValidationError marks missing or malformed caller input.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func validationf(format string, args ...any) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// Notifier broadcasts a catalog event to every known user.
type Notifier interface {
	Deliver(ev notify.Event) (int, error)
}

// Config wires the service's collaborators.
type Config struct {
	Store         Store
	Notifications NotificationStore
	Objects       storage.ObjectStore
	Notifier      Notifier
	PresignExpiry time.Duration
}

// Service orchestrates the tokenizer, catalog store, object store and
// notification fan-out. It owns the consistency contract between an
// entry and its derived search index: the index is recomputed wholly
// from the entry's current fields on every create and edit.
type Service struct {
	store         Store
	notifications NotificationStore
	objects       storage.ObjectStore
	notifier      Notifier
	presignExpiry time.Duration
}

func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("catalog store required")
	}
	if cfg.Objects == nil {
		return nil, errors.New("object store required")
	}
	presignExpiry := cfg.PresignExpiry
	if presignExpiry <= 0 {
		presignExpiry = 15 * time.Minute
	}
	return &Service{
		store:         cfg.Store,
		notifications: cfg.Notifications,
		objects:       cfg.Objects,
		notifier:      cfg.Notifier,
		presignExpiry: presignExpiry,
	}, nil
}

// FileUpload carries an incoming worksheet file.
type FileUpload struct {
	Filename string
	Reader   io.Reader
	Size     int64
}

// CreateInput is the metadata for a new worksheet. Title, subject and
// standard are required; the rest may be empty.
type CreateInput struct {
	Title       string
	Subject     string
	Standard    string
	Topic       string
	Subtopic    string
	Description string
	Tags        []string
	File        FileUpload
}

// Create validates the metadata, stores the file, persists the entry
// with its derived index, and then fans a NEW_ENTRY notification out to
// all known users. Fan-out failure is logged and never fails the create.
func (s *Service) Create(principal domain.Principal, in CreateInput) (domain.CatalogEntry, error) {
	if !principal.Admin {
		return domain.CatalogEntry{}, ErrForbidden
	}
	if strings.TrimSpace(in.Title) == "" || strings.TrimSpace(in.Subject) == "" || strings.TrimSpace(in.Standard) == "" {
		return domain.CatalogEntry{}, validationf("title, subject, and standard are required")
	}
	if in.File.Reader == nil || strings.TrimSpace(in.File.Filename) == "" {
		return domain.CatalogEntry{}, validationf("worksheet file is required")
	}

	id := uuid.NewString()
	key := buildStorageKey(id, in.File.Filename)
	if err := s.objects.Put(context.Background(), key, in.File.Reader, in.File.Size, contentTypeFor(in.File.Filename)); err != nil {
		return domain.CatalogEntry{}, fmt.Errorf("store worksheet file: %w", err)
	}

	now := time.Now().UTC()
	entry := domain.CatalogEntry{
		ID:          id,
		Title:       in.Title,
		Subject:     in.Subject,
		Standard:    in.Standard,
		Topic:       in.Topic,
		Subtopic:    in.Subtopic,
		Description: in.Description,
		Tags:        in.Tags,
		SearchIndex: Tokenize(in.Title, in.Subject, in.Topic, in.Subtopic, in.Description, in.Tags),
		File: domain.FileRef{
			Key:       key,
			Filename:  filepath.Base(in.File.Filename),
			SizeBytes: in.File.Size,
		},
		UploadedAt: now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateEntry(entry); err != nil {
		_ = s.objects.Delete(context.Background(), key)
		return domain.CatalogEntry{}, fmt.Errorf("save worksheet: %w", err)
	}

	if s.notifier != nil {
		count, err := s.notifier.Deliver(notify.Event{
			ID:      entry.ID,
			Type:    domain.NotificationNewEntry,
			Title:   fmt.Sprintf("New %s worksheet uploaded", entry.Standard),
			Message: fmt.Sprintf("%s has been uploaded. Check it out!", entry.Title),
			Payload: domain.NotificationPayload{EntryID: entry.ID, Standard: entry.Standard},
		})
		if err != nil {
			slog.Warn("worksheet notification fanout failed", "entry_id", entry.ID, "err", err)
		} else {
			slog.Info("worksheet notifications delivered", "entry_id", entry.ID, "count", count)
		}
	}
	return entry, nil
}

// EditInput is a partial update; nil fields keep the current value.
type EditInput struct {
	Title       *string
	Subject     *string
	Standard    *string
	Topic       *string
	Subtopic    *string
	Description *string
	Tags        *[]string
	File        *FileUpload
}

// Edit merges the partial update over the current entry, optionally
// replacing the file, recomputes the search index from the merged view
// and overwrites the stored entry. Old-file deletion is best-effort.
func (s *Service) Edit(principal domain.Principal, id string, in EditInput) (domain.CatalogEntry, error) {
	if !principal.Admin {
		return domain.CatalogEntry{}, ErrForbidden
	}
	entry, ok, err := s.store.GetEntry(id)
	if err != nil {
		return domain.CatalogEntry{}, fmt.Errorf("load worksheet: %w", err)
	}
	if !ok {
		return domain.CatalogEntry{}, ErrNotFound
	}

	if in.File != nil {
		if in.File.Reader == nil || strings.TrimSpace(in.File.Filename) == "" {
			return domain.CatalogEntry{}, validationf("replacement worksheet file is invalid")
		}
		newKey := buildStorageKey(id, in.File.Filename)
		if err := s.objects.Put(context.Background(), newKey, in.File.Reader, in.File.Size, contentTypeFor(in.File.Filename)); err != nil {
			return domain.CatalogEntry{}, fmt.Errorf("store replacement file: %w", err)
		}
		if err := s.objects.Delete(context.Background(), entry.File.Key); err != nil {
			slog.Warn("old worksheet file delete failed", "entry_id", id, "key", entry.File.Key, "err", err)
		}
		entry.File = domain.FileRef{
			Key:       newKey,
			Filename:  filepath.Base(in.File.Filename),
			SizeBytes: in.File.Size,
		}
	}

	if in.Title != nil {
		entry.Title = *in.Title
	}
	if in.Subject != nil {
		entry.Subject = *in.Subject
	}
	if in.Standard != nil {
		entry.Standard = *in.Standard
	}
	if in.Topic != nil {
		entry.Topic = *in.Topic
	}
	if in.Subtopic != nil {
		entry.Subtopic = *in.Subtopic
	}
	if in.Description != nil {
		entry.Description = *in.Description
	}
	if in.Tags != nil {
		entry.Tags = *in.Tags
	}

	entry.SearchIndex = Tokenize(entry.Title, entry.Subject, entry.Topic, entry.Subtopic, entry.Description, entry.Tags)
	entry.UpdatedAt = time.Now().UTC()
	if err := s.store.ReplaceEntry(entry); err != nil {
		return domain.CatalogEntry{}, fmt.Errorf("save worksheet: %w", err)
	}
	return entry, nil
}

// Delete removes the entry. The owned file is deleted best-effort
// first; a failed object delete is logged and never blocks the
// metadata removal.
func (s *Service) Delete(principal domain.Principal, id string) error {
	if !principal.Admin {
		return ErrForbidden
	}
	entry, ok, err := s.store.GetEntry(id)
	if err != nil {
		return fmt.Errorf("load worksheet: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	if err := s.objects.Delete(context.Background(), entry.File.Key); err != nil {
		slog.Warn("worksheet file delete failed", "entry_id", id, "key", entry.File.Key, "err", err)
	}
	return s.store.DeleteEntry(id)
}

// Get returns one entry by id.
func (s *Service) Get(principal domain.Principal, id string) (domain.CatalogEntry, error) {
	if principal.UserID == "" {
		return domain.CatalogEntry{}, ErrForbidden
	}
	entry, ok, err := s.store.GetEntry(id)
	if err != nil {
		return domain.CatalogEntry{}, fmt.Errorf("load worksheet: %w", err)
	}
	if !ok {
		return domain.CatalogEntry{}, ErrNotFound
	}
	return entry, nil
}

// SearchInput selects a page of entries for one standard.
type SearchInput struct {
	Standard string
	Query    string
	PageSize int
	Cursor   string
}

// SearchResult is one page plus the resume position. NextCursor and
// HasMore are the page-length heuristic: a full page yields a cursor
// even when no further rows exist, so an empty follow-up page is a
// valid terminal response.
type SearchResult struct {
	Entries    []domain.CatalogEntry `json:"entries"`
	NextCursor *string               `json:"nextCursor"`
	HasMore    bool                  `json:"hasMore"`
}

// Search returns entries for a standard, optionally filtered by one
// search token, ordered newest-first and resumable via cursor.
func (s *Service) Search(principal domain.Principal, in SearchInput) (SearchResult, error) {
	if principal.UserID == "" {
		return SearchResult{}, ErrForbidden
	}
	if strings.TrimSpace(in.Standard) == "" {
		return SearchResult{}, validationf("standard is required")
	}
	pageSize := in.PageSize
	if pageSize == 0 {
		pageSize = defaultPageSize
	}
	if pageSize < 0 {
		return SearchResult{}, validationf("pageSize must be positive")
	}

	q := ScanQuery{
		Standard: in.Standard,
		Token:    strings.ToLower(strings.TrimSpace(in.Query)),
		PageSize: pageSize,
	}
	if in.Cursor != "" {
		cursor, err := DecodeCursor(in.Cursor)
		if err != nil {
			return SearchResult{}, validationf("invalid cursor: %v", err)
		}
		q.After = &cursor
	}

	entries, err := s.store.ScanByStandard(q)
	if err != nil {
		return SearchResult{}, fmt.Errorf("scan worksheets: %w", err)
	}
	result := SearchResult{Entries: entries}
	if len(entries) == pageSize {
		last := entries[len(entries)-1]
		encoded := CursorFor(last.UploadedAt, last.ID).Encode()
		result.NextCursor = &encoded
		result.HasMore = true
	}
	return result, nil
}

// DownloadURL returns a short-lived presigned URL for the entry's file.
func (s *Service) DownloadURL(principal domain.Principal, id string) (string, string, error) {
	if principal.UserID == "" {
		return "", "", ErrForbidden
	}
	entry, ok, err := s.store.GetEntry(id)
	if err != nil {
		return "", "", fmt.Errorf("load worksheet: %w", err)
	}
	if !ok {
		return "", "", ErrNotFound
	}
	url, err := s.objects.PresignGet(context.Background(), entry.File.Key, s.presignExpiry)
	if err != nil {
		return "", "", fmt.Errorf("presign download: %w", err)
	}
	return url, entry.File.Filename, nil
}

// ListNotifications returns the caller's newest notifications.
func (s *Service) ListNotifications(principal domain.Principal, limit int) ([]domain.Notification, error) {
	if principal.UserID == "" {
		return nil, ErrForbidden
	}
	if s.notifications == nil {
		return []domain.Notification{}, nil
	}
	if limit <= 0 {
		limit = 20
	}
	return s.notifications.ListNotificationsForUser(principal.UserID, limit)
}

// MarkNotificationRead flags one of the caller's notifications as read.
func (s *Service) MarkNotificationRead(principal domain.Principal, id string) error {
	if principal.UserID == "" {
		return ErrForbidden
	}
	if s.notifications == nil {
		return ErrNotFound
	}
	return s.notifications.MarkNotificationRead(principal.UserID, id)
}

// ContactInput is a contact-form submission; every field is required.
type ContactInput struct {
	Name        string
	Email       string
	PhoneNumber string
	Description string
}

// SubmitContact stores a contact-form submission for admin follow-up.
func (s *Service) SubmitContact(in ContactInput) (domain.Contact, error) {
	if strings.TrimSpace(in.Name) == "" || strings.TrimSpace(in.Email) == "" ||
		strings.TrimSpace(in.PhoneNumber) == "" || strings.TrimSpace(in.Description) == "" {
		return domain.Contact{}, validationf("all fields are required")
	}
	contact := domain.Contact{
		ID:          uuid.NewString(),
		Name:        in.Name,
		Email:       in.Email,
		PhoneNumber: in.PhoneNumber,
		Description: in.Description,
		Status:      domain.ContactUnread,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.SaveContact(contact); err != nil {
		return domain.Contact{}, fmt.Errorf("save contact: %w", err)
	}
	return contact, nil
}

// buildStorageKey returns a key unique per upload. The uuid segment
// keeps a re-upload of the same filename from colliding with the blob
// it replaces, so the best-effort delete of the old key can never hit
// the new bytes.
func buildStorageKey(id, filename string) string {
	return "worksheets/" + id + "/" + uuid.NewString() + "-" + safeFilename(filename)
}

func safeFilename(name string) string {
	name = strings.TrimSpace(filepath.Base(name))
	if name == "" || name == "." || name == "/" {
		return "worksheet"
	}
	return name
}

func contentTypeFor(filename string) string {
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return contentType
}
