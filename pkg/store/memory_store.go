package store

import (
	"sort"
	"sync"

	"worksheethub/pkg/catalog"
	"worksheethub/pkg/domain"
)

// MemoryStore keeps catalog state in-process. It mirrors the GormStore
// contract so service tests run without a database.
type MemoryStore struct {
	mu            sync.RWMutex
	entries       map[string]domain.CatalogEntry
	notifications map[string][]domain.Notification // key: user ID
	users         map[string]domain.User
	userOrder     []string
	contacts      map[string]domain.Contact
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:       make(map[string]domain.CatalogEntry),
		notifications: make(map[string][]domain.Notification),
		users:         make(map[string]domain.User),
		contacts:      make(map[string]domain.Contact),
	}
}

func (m *MemoryStore) CreateEntry(entry domain.CatalogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[entry.ID]; exists {
		return catalog.ErrConflict
	}
	m.entries[entry.ID] = entry
	return nil
}

func (m *MemoryStore) GetEntry(id string) (domain.CatalogEntry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[id]
	return entry, ok, nil
}

func (m *MemoryStore) ReplaceEntry(entry domain.CatalogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[entry.ID]; !exists {
		return catalog.ErrNotFound
	}
	m.entries[entry.ID] = entry
	return nil
}

func (m *MemoryStore) DeleteEntry(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[id]; !exists {
		return catalog.ErrNotFound
	}
	delete(m.entries, id)
	return nil
}

// ScanByStandard filters, orders by uploadedAt desc with id desc as the
// tie-break, applies the exclusive cursor and returns one page.
func (m *MemoryStore) ScanByStandard(q catalog.ScanQuery) ([]domain.CatalogEntry, error) {
	if q.PageSize <= 0 {
		return []domain.CatalogEntry{}, nil
	}
	m.mu.RLock()
	matched := make([]domain.CatalogEntry, 0, len(m.entries))
	for _, entry := range m.entries {
		if entry.Standard != q.Standard {
			continue
		}
		if q.Token != "" && !catalog.HasToken(entry.SearchIndex, q.Token) {
			continue
		}
		if q.After != nil && !q.After.Before(entry.UploadedAt, entry.ID) {
			continue
		}
		matched = append(matched, entry)
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].UploadedAt.Equal(matched[j].UploadedAt) {
			return matched[i].UploadedAt.After(matched[j].UploadedAt)
		}
		return matched[i].ID > matched[j].ID
	})
	if len(matched) > q.PageSize {
		matched = matched[:q.PageSize]
	}
	return matched, nil
}

func (m *MemoryStore) SaveNotification(n domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Deterministic ids make retried fan-outs overwrite, not duplicate.
	records := m.notifications[n.UserID]
	for i, existing := range records {
		if existing.ID == n.ID {
			records[i] = n
			return nil
		}
	}
	m.notifications[n.UserID] = append(records, n)
	return nil
}

func (m *MemoryStore) ListNotificationsForUser(userID string, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		return []domain.Notification{}, nil
	}
	m.mu.RLock()
	records := append([]domain.Notification(nil), m.notifications[userID]...)
	m.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.After(records[j].CreatedAt)
		}
		return records[i].ID > records[j].ID
	})
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (m *MemoryStore) MarkNotificationRead(userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	records := m.notifications[userID]
	for i, n := range records {
		if n.ID == id {
			records[i].Read = true
			return nil
		}
	}
	return catalog.ErrNotFound
}

func (m *MemoryStore) SaveUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.users[u.ID]; !exists {
		m.userOrder = append(m.userOrder, u.ID)
	}
	m.users[u.ID] = u
	return nil
}

func (m *MemoryStore) GetUser(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) ListUserIDs() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.userOrder...), nil
}

func (m *MemoryStore) SaveContact(c domain.Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contacts[c.ID] = c
	return nil
}

// ContactCount reports stored contact submissions; used by tests.
func (m *MemoryStore) ContactCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.contacts)
}
