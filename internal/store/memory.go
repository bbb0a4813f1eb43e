package store

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/captionhq/storage-quota/internal/errors"
	"github.com/captionhq/storage-quota/pkg/model"
)

// expiring wraps a record with its expiry deadline for TTL emulation.
// A zero deadline means no expiry.
type expiring[T any] struct {
	value     T
	expiresAt time.Time
}

func (e expiring[T]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryStore implements Store in process memory. It backs tests and the
// explicit degraded mode used when Redis is disabled; it provides no
// cross-process sharing.
type MemoryStore struct {
	clock errors.Clock

	blocking      *TypedStore[model.BlockingState]
	statistics    *TypedStore[model.EnforcementStatistics]
	monitorConfig *TypedStore[model.MonitorConfig]
	events        *TypedStore[expiring[model.WarningEvent]]
	notifications *TypedStore[expiring[model.WarningNotification]]
}

// NewMemoryStore creates an empty MemoryStore using the given clock for
// TTL expiry.
func NewMemoryStore(clock errors.Clock) *MemoryStore {
	return &MemoryStore{
		clock:         clock,
		blocking:      NewTypedStore[model.BlockingState](),
		statistics:    NewTypedStore[model.EnforcementStatistics](),
		monitorConfig: NewTypedStore[model.MonitorConfig](),
		events:        NewTypedStore[expiring[model.WarningEvent]](),
		notifications: NewTypedStore[expiring[model.WarningNotification]](),
	}
}

// Ping always succeeds for the in-memory store.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// GetBlockingState returns the blocking record, or nil when absent.
func (s *MemoryStore) GetBlockingState(ctx context.Context) (*model.BlockingState, error) {
	state, ok := s.blocking.Get(keyBlockingState)
	if !ok {
		return nil, nil
	}
	return &state, nil
}

// SetBlockingState stores the blocking record.
func (s *MemoryStore) SetBlockingState(ctx context.Context, state model.BlockingState) error {
	s.blocking.Set(keyBlockingState, state)
	return nil
}

// ClearBlockingState removes the blocking record.
func (s *MemoryStore) ClearBlockingState(ctx context.Context) error {
	s.blocking.Delete(keyBlockingState)
	return nil
}

// GetStatistics returns the statistics record, or nil when absent.
func (s *MemoryStore) GetStatistics(ctx context.Context) (*model.EnforcementStatistics, error) {
	stats, ok := s.statistics.Get(keyStatistics)
	if !ok {
		return nil, nil
	}
	return &stats, nil
}

// SetStatistics stores the statistics record.
func (s *MemoryStore) SetStatistics(ctx context.Context, stats model.EnforcementStatistics) error {
	s.statistics.Set(keyStatistics, stats)
	return nil
}

// AppendEvent records one audit event with the retention TTL.
func (s *MemoryStore) AppendEvent(ctx context.Context, event model.WarningEvent, ttl time.Duration) error {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = s.clock.Now().Add(ttl)
	}
	key := strconv.FormatInt(event.Timestamp.UnixNano(), 10) + ":" + uuid.NewString()[:8]
	s.events.Set(key, expiring[model.WarningEvent]{value: event, expiresAt: expiresAt})
	return nil
}

// ListEvents returns all unexpired events, oldest first.
func (s *MemoryStore) ListEvents(ctx context.Context) ([]model.WarningEvent, error) {
	now := s.clock.Now()

	var events []model.WarningEvent
	for key, e := range s.events.Snapshot() {
		if e.expired(now) {
			s.events.Delete(key)
			continue
		}
		events = append(events, e.value)
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events, nil
}

// PurgeEventsBefore deletes events older than cutoff, returning them
// oldest first.
func (s *MemoryStore) PurgeEventsBefore(ctx context.Context, cutoff time.Time) ([]model.WarningEvent, error) {
	var purged []model.WarningEvent
	for key, e := range s.events.Snapshot() {
		if e.value.Timestamp.Before(cutoff) {
			purged = append(purged, e.value)
			s.events.Delete(key)
		}
	}

	sort.Slice(purged, func(i, j int) bool {
		return purged[i].Timestamp.Before(purged[j].Timestamp)
	})
	return purged, nil
}

// PutNotification stores a notification with the retention TTL.
func (s *MemoryStore) PutNotification(ctx context.Context, n *model.WarningNotification, ttl time.Duration) error {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = s.clock.Now().Add(ttl)
	}
	s.notifications.Set(n.ID, expiring[model.WarningNotification]{value: *n, expiresAt: expiresAt})
	return nil
}

// GetNotification returns the notification with the given ID, or nil.
func (s *MemoryStore) GetNotification(ctx context.Context, id string) (*model.WarningNotification, error) {
	e, ok := s.notifications.Get(id)
	if !ok || e.expired(s.clock.Now()) {
		return nil, nil
	}
	n := e.value
	return &n, nil
}

// ListNotifications returns all unexpired notifications, newest first.
func (s *MemoryStore) ListNotifications(ctx context.Context) ([]*model.WarningNotification, error) {
	now := s.clock.Now()

	var notifications []*model.WarningNotification
	for id, e := range s.notifications.Snapshot() {
		if e.expired(now) {
			s.notifications.Delete(id)
			continue
		}
		n := e.value
		notifications = append(notifications, &n)
	}

	sort.Slice(notifications, func(i, j int) bool {
		return notifications[i].CreatedAt.After(notifications[j].CreatedAt)
	})
	return notifications, nil
}

// PurgeNotificationsBefore deletes notifications created before cutoff.
func (s *MemoryStore) PurgeNotificationsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	purged := 0
	for id, e := range s.notifications.Snapshot() {
		if e.value.CreatedAt.Before(cutoff) {
			s.notifications.Delete(id)
			purged++
		}
	}
	return purged, nil
}

// GetMonitorConfig returns the stored monitor configuration, or nil.
func (s *MemoryStore) GetMonitorConfig(ctx context.Context) (*model.MonitorConfig, error) {
	cfg, ok := s.monitorConfig.Get(keyMonitorConfig)
	if !ok {
		return nil, nil
	}
	return &cfg, nil
}

// SetMonitorConfig stores the monitor configuration.
func (s *MemoryStore) SetMonitorConfig(ctx context.Context, cfg model.MonitorConfig) error {
	s.monitorConfig.Set(keyMonitorConfig, cfg)
	return nil
}
