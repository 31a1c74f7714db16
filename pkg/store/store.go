// Package store provides the persistence implementations behind the
// catalog: a GORM-backed store for production, an in-memory twin for
// tests, and a Redis notification store for deployments that keep the
// pull-polled notification feed out of the primary database.
package store

import (
	"worksheethub/pkg/catalog"
	"worksheethub/pkg/notify"
)

var (
	_ catalog.Store             = (*GormStore)(nil)
	_ catalog.NotificationStore = (*GormStore)(nil)
	_ notify.Directory          = (*GormStore)(nil)
	_ notify.Sink               = (*GormStore)(nil)

	_ catalog.Store             = (*MemoryStore)(nil)
	_ catalog.NotificationStore = (*MemoryStore)(nil)
	_ notify.Directory          = (*MemoryStore)(nil)

	_ catalog.NotificationStore = (*RedisNotificationStore)(nil)
	_ notify.Sink               = (*RedisNotificationStore)(nil)
)
