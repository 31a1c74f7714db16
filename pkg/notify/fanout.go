package notify

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"worksheethub/pkg/domain"
)

const defaultWriteConcurrency = 8

// Namespace for deterministic notification ids. A record's id is derived
// from (event id, user id) so a retried fan-out writes the same ids and
// cannot double-deliver.
var notificationNamespace = uuid.MustParse("9f2c1d4e-5a6b-4c7d-8e9f-0a1b2c3d4e5f")

// Directory exposes the known-user snapshot the fan-out targets. The
// snapshot is taken once per event; users registered while a fan-out is
// in flight may or may not be included.
type Directory interface {
	ListUserIDs() ([]string, error)
}

// Sink persists individual notification records.
type Sink interface {
	SaveNotification(n domain.Notification) error
}

// Event is one catalog occurrence to broadcast to every known user.
type Event struct {
	ID      string
	Type    domain.NotificationType
	Title   string
	Message string
	Payload domain.NotificationPayload
}

// Fanout replicates an event into one notification record per user.
// Delivery is best-effort: per-user writes run concurrently, a failed
// write never aborts the others, and the result is the count actually
// persisted rather than an all-or-nothing verdict.
type Fanout struct {
	users       Directory
	sink        Sink
	concurrency int
}

func New(users Directory, sink Sink) *Fanout {
	return &Fanout{users: users, sink: sink, concurrency: defaultWriteConcurrency}
}

// Deliver writes one record per user known at call time and returns the
// number persisted. It fails only when the user snapshot itself cannot
// be read; write failures are logged and reflected in the count.
func (f *Fanout) Deliver(ev Event) (int, error) {
	userIDs, err := f.users.ListUserIDs()
	if err != nil {
		return 0, fmt.Errorf("list users for fanout: %w", err)
	}
	if len(userIDs) == 0 {
		return 0, nil
	}

	createdAt := time.Now().UTC()
	var delivered atomic.Int64
	var g errgroup.Group
	g.SetLimit(f.concurrency)
	for _, userID := range userIDs {
		userID := userID
		g.Go(func() error {
			record := domain.Notification{
				ID:        NotificationID(ev.ID, userID),
				UserID:    userID,
				Type:      ev.Type,
				Title:     ev.Title,
				Message:   ev.Message,
				Payload:   ev.Payload,
				CreatedAt: createdAt,
			}
			if err := f.sink.SaveNotification(record); err != nil {
				slog.Warn("notification write failed",
					"event_id", ev.ID,
					"user_id", userID,
					"err", err,
				)
				return nil
			}
			delivered.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	count := int(delivered.Load())
	if count < len(userIDs) {
		slog.Warn("notification fanout partially failed",
			"event_id", ev.ID,
			"delivered", count,
			"targets", len(userIDs),
		)
	}
	return count, nil
}

// NotificationID returns the deterministic record id for an
// (event, user) pair.
func NotificationID(eventID, userID string) string {
	return uuid.NewSHA1(notificationNamespace, []byte(eventID+":"+userID)).String()
}
