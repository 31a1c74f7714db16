package store

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"worksheethub/pkg/catalog"
	"worksheethub/pkg/domain"
)

func newTestRedisStore(t *testing.T) *RedisNotificationStore {
	t.Helper()
	mr := miniredis.RunT(t)
	return NewRedisNotificationStore(mr.Addr(), "")
}

func redisNotification(id, userID string, createdAt time.Time) domain.Notification {
	return domain.Notification{
		ID:        id,
		UserID:    userID,
		Type:      domain.NotificationNewEntry,
		Title:     "New Grade-9 worksheet uploaded",
		Message:   "Check it out!",
		Payload:   domain.NotificationPayload{EntryID: "entry-" + id, Standard: "Grade-9"},
		CreatedAt: createdAt,
	}
}

func TestRedisSaveAndListOrder(t *testing.T) {
	s := newTestRedisStore(t)
	base := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		n := redisNotification(fmt.Sprintf("n%d", i), "u1", base.Add(time.Duration(i)*time.Minute))
		if err := s.SaveNotification(n); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}

	list, err := s.ListNotificationsForUser("u1", 3)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("limit ignored, got %d", len(list))
	}
	if list[0].ID != "n4" || list[1].ID != "n3" || list[2].ID != "n2" {
		t.Fatalf("order: %s, %s, %s", list[0].ID, list[1].ID, list[2].ID)
	}
	if list[0].Payload.EntryID != "entry-n4" {
		t.Fatalf("payload lost: %+v", list[0].Payload)
	}

	other, err := s.ListNotificationsForUser("u2", 10)
	if err != nil {
		t.Fatalf("list other user: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("feeds leaked across users: %d", len(other))
	}
}

func TestRedisSaveDedupesOnID(t *testing.T) {
	s := newTestRedisStore(t)
	at := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	n := redisNotification("n1", "u1", at)
	if err := s.SaveNotification(n); err != nil {
		t.Fatalf("save: %v", err)
	}
	// Retried fan-out write with the same deterministic id.
	if err := s.SaveNotification(n); err != nil {
		t.Fatalf("retry save: %v", err)
	}
	list, err := s.ListNotificationsForUser("u1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("duplicate id yielded %d records", len(list))
	}
}

func TestRedisMarkRead(t *testing.T) {
	s := newTestRedisStore(t)
	base := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if err := s.SaveNotification(redisNotification(fmt.Sprintf("n%d", i), "u1", base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}

	if err := s.MarkNotificationRead("u1", "n1"); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	list, err := s.ListNotificationsForUser("u1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	// Order must be unchanged and only n1 flagged.
	if list[0].ID != "n2" || list[1].ID != "n1" || list[2].ID != "n0" {
		t.Fatalf("order changed: %s, %s, %s", list[0].ID, list[1].ID, list[2].ID)
	}
	if list[0].Read || !list[1].Read || list[2].Read {
		t.Fatalf("read flags: %v %v %v", list[0].Read, list[1].Read, list[2].Read)
	}

	if err := s.MarkNotificationRead("u1", "missing"); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("missing id: %v", err)
	}
	if err := s.MarkNotificationRead("u2", "n1"); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("foreign user: %v", err)
	}
}

func TestRedisFeedCap(t *testing.T) {
	s := newTestRedisStore(t)
	s.cap = 10
	base := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 15; i++ {
		if err := s.SaveNotification(redisNotification(fmt.Sprintf("n%02d", i), "u1", base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}
	list, err := s.ListNotificationsForUser("u1", 100)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 10 {
		t.Fatalf("feed length = %d, want 10", len(list))
	}
	// The oldest five were evicted.
	if list[0].ID != "n14" || list[len(list)-1].ID != "n05" {
		t.Fatalf("window: newest=%s oldest=%s", list[0].ID, list[len(list)-1].ID)
	}
}
