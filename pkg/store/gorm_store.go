package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"worksheethub/pkg/catalog"
	"worksheethub/pkg/domain"
)

const migrateLockID int64 = 52185218

// GormStore implements the catalog store, the notification store and
// the user directory on GORM + Postgres. The search index is kept in
// two places written in one transaction: a jsonb column on the entry
// row (the source of truth returned to callers) and an entry_tokens
// side table serving the (standard, token) scan without a full scan.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&EntryModel{}, &EntryTokenModel{}, &NotificationModel{}, &UserModel{}, &ContactModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

// NewGormStoreWithDB wraps an already-open gorm.DB and migrates the
// schema directly. It serves non-postgres substrates (the sqlite
// driver in tests) where advisory locks do not exist.
func NewGormStoreWithDB(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&EntryModel{}, &EntryTokenModel{}, &NotificationModel{}, &UserModel{}, &ContactModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// CreateEntry persists a new entry and its token rows.
func (s *GormStore) CreateEntry(entry domain.CatalogEntry) error {
	model := entryToModel(entry)
	return s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&EntryModel{}).Where("id = ?", entry.ID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return catalog.ErrConflict
		}
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		return insertTokenRows(tx, entry)
	})
}

// GetEntry returns one entry by id.
func (s *GormStore) GetEntry(id string) (domain.CatalogEntry, bool, error) {
	var model EntryModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.CatalogEntry{}, false, nil
		}
		return domain.CatalogEntry{}, false, err
	}
	return entryFromModel(model), true, nil
}

// ReplaceEntry overwrites every mutable field and rebuilds the token
// rows in the same transaction, keeping the side index consistent with
// the entry's current fields.
func (s *GormStore) ReplaceEntry(entry domain.CatalogEntry) error {
	model := entryToModel(entry)
	return s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&EntryModel{}).Where("id = ?", entry.ID).Updates(map[string]any{
			"title":        model.Title,
			"subject":      model.Subject,
			"standard":     model.Standard,
			"topic":        model.Topic,
			"subtopic":     model.Subtopic,
			"description":  model.Description,
			"tags":         model.Tags,
			"search_index": model.SearchIndex,
			"file_key":     model.FileKey,
			"file_name":    model.FileName,
			"file_size":    model.FileSize,
			"updated_at":   model.UpdatedAt,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return catalog.ErrNotFound
		}
		if err := tx.Delete(&EntryTokenModel{}, "entry_id = ?", entry.ID).Error; err != nil {
			return err
		}
		return insertTokenRows(tx, entry)
	})
}

// DeleteEntry removes the entry and its token rows. It never touches
// object storage; file cleanup is the caller's concern.
func (s *GormStore) DeleteEntry(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&EntryTokenModel{}, "entry_id = ?", id).Error; err != nil {
			return err
		}
		res := tx.Delete(&EntryModel{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return catalog.ErrNotFound
		}
		return nil
	})
}

// ScanByStandard returns one page ordered by uploaded_at desc, id desc.
// The keyset predicate is written in the expanded form so the same SQL
// runs on postgres and the sqlite test driver.
func (s *GormStore) ScanByStandard(q catalog.ScanQuery) ([]domain.CatalogEntry, error) {
	if q.PageSize <= 0 {
		return []domain.CatalogEntry{}, nil
	}
	tx := s.db.Model(&EntryModel{}).Where("entry_models.standard = ?", q.Standard)
	if q.Token != "" {
		tx = tx.Joins("JOIN entry_token_models ON entry_token_models.entry_id = entry_models.id").
			Where("entry_token_models.token = ?", strings.ToLower(q.Token))
	}
	if q.After != nil {
		tx = tx.Where(
			"entry_models.uploaded_at < ? OR (entry_models.uploaded_at = ? AND entry_models.id < ?)",
			q.After.UploadedAt, q.After.UploadedAt, q.After.ID,
		)
	}
	var models []EntryModel
	if err := tx.Order("entry_models.uploaded_at DESC").
		Order("entry_models.id DESC").
		Limit(q.PageSize).
		Find(&models).Error; err != nil {
		return nil, err
	}
	entries := make([]domain.CatalogEntry, 0, len(models))
	for _, m := range models {
		entries = append(entries, entryFromModel(m))
	}
	return entries, nil
}

func insertTokenRows(tx *gorm.DB, entry domain.CatalogEntry) error {
	if len(entry.SearchIndex) == 0 {
		return nil
	}
	rows := make([]EntryTokenModel, 0, len(entry.SearchIndex))
	for _, token := range entry.SearchIndex {
		rows = append(rows, EntryTokenModel{EntryID: entry.ID, Token: token, Standard: entry.Standard})
	}
	return tx.CreateInBatches(&rows, 200).Error
}

// SaveNotification stores one fan-out record.
func (s *GormStore) SaveNotification(n domain.Notification) error {
	model := notificationToModel(n)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(&model).Error
}

// ListNotificationsForUser returns the user's newest notifications.
func (s *GormStore) ListNotificationsForUser(userID string, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		return []domain.Notification{}, nil
	}
	var models []NotificationModel
	if err := s.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Notification, 0, len(models))
	for _, m := range models {
		res = append(res, notificationFromModel(m))
	}
	return res, nil
}

// MarkNotificationRead flags one of the user's notifications as read.
func (s *GormStore) MarkNotificationRead(userID, id string) error {
	res := s.db.Model(&NotificationModel{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("read", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

// SaveUser registers or updates a user-directory record.
func (s *GormStore) SaveUser(u domain.User) error {
	model := userToModel(u)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "name", "role"}),
	}).Create(&model).Error
}

// GetUser returns a user by ID.
func (s *GormStore) GetUser(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// ListUserIDs snapshots every known user id for notification fan-out.
func (s *GormStore) ListUserIDs() ([]string, error) {
	var ids []string
	if err := s.db.Model(&UserModel{}).Order("created_at ASC").Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// SaveContact stores a contact-form submission.
func (s *GormStore) SaveContact(c domain.Contact) error {
	model := contactToModel(c)
	return s.db.Create(&model).Error
}

func entryToModel(e domain.CatalogEntry) EntryModel {
	tags, _ := json.Marshal(e.Tags)
	index, _ := json.Marshal(e.SearchIndex)
	return EntryModel{
		ID:          e.ID,
		Title:       e.Title,
		Subject:     e.Subject,
		Standard:    e.Standard,
		Topic:       e.Topic,
		Subtopic:    e.Subtopic,
		Description: e.Description,
		Tags:        tags,
		SearchIndex: index,
		FileKey:     e.File.Key,
		FileName:    e.File.Filename,
		FileSize:    e.File.SizeBytes,
		UploadedAt:  e.UploadedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

func entryFromModel(m EntryModel) domain.CatalogEntry {
	var tags []string
	if len(m.Tags) > 0 {
		_ = json.Unmarshal(m.Tags, &tags)
	}
	var index []string
	if len(m.SearchIndex) > 0 {
		_ = json.Unmarshal(m.SearchIndex, &index)
	}
	return domain.CatalogEntry{
		ID:          m.ID,
		Title:       m.Title,
		Subject:     m.Subject,
		Standard:    m.Standard,
		Topic:       m.Topic,
		Subtopic:    m.Subtopic,
		Description: m.Description,
		Tags:        tags,
		SearchIndex: index,
		File: domain.FileRef{
			Key:       m.FileKey,
			Filename:  m.FileName,
			SizeBytes: m.FileSize,
		},
		UploadedAt: m.UploadedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func notificationToModel(n domain.Notification) NotificationModel {
	payload, _ := json.Marshal(n.Payload)
	return NotificationModel{
		ID:        n.ID,
		UserID:    n.UserID,
		Type:      string(n.Type),
		Title:     n.Title,
		Message:   n.Message,
		Payload:   payload,
		Read:      n.Read,
		CreatedAt: n.CreatedAt,
	}
}

func notificationFromModel(m NotificationModel) domain.Notification {
	var payload domain.NotificationPayload
	if len(m.Payload) > 0 {
		_ = json.Unmarshal(m.Payload, &payload)
	}
	return domain.Notification{
		ID:        m.ID,
		UserID:    m.UserID,
		Type:      domain.NotificationType(m.Type),
		Title:     m.Title,
		Message:   m.Message,
		Payload:   payload,
		Read:      m.Read,
		CreatedAt: m.CreatedAt,
	}
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Role:      string(u.Role),
		CreatedAt: u.CreatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	role := domain.UserRole(m.Role)
	if role == "" {
		role = domain.RoleUser
	}
	return domain.User{
		ID:        m.ID,
		Email:     m.Email,
		Name:      m.Name,
		Role:      role,
		CreatedAt: m.CreatedAt,
	}
}

func contactToModel(c domain.Contact) ContactModel {
	return ContactModel{
		ID:          c.ID,
		Name:        c.Name,
		Email:       c.Email,
		PhoneNumber: c.PhoneNumber,
		Description: c.Description,
		Status:      string(c.Status),
		CreatedAt:   c.CreatedAt,
	}
}
