package store

import (
	"context"
	"time"

	"github.com/captionhq/storage-quota/pkg/model"
)

// Key suffixes under the configured prefix. All records are read and
// written as whole serialized documents, which keeps concurrent
// last-writer-wins replacement safe.
const (
	keyBlockingState = "blocking_state"
	keyStatistics    = "stats"
	keyMonitorConfig = "monitor_config"
	keyEvents        = "events"
	keyNotifications = "notifications"
)

// Store is the shared persistence boundary for the quota subsystem.
// The blocking state, statistics, and notification records are the only
// cross-process shared mutable state; every implementation must treat
// records as atomic documents.
//
// Getters return (nil, nil) when the record is absent.
type Store interface {
	// Ping verifies connectivity for health checks.
	Ping(ctx context.Context) error

	GetBlockingState(ctx context.Context) (*model.BlockingState, error)
	SetBlockingState(ctx context.Context, state model.BlockingState) error
	ClearBlockingState(ctx context.Context) error

	GetStatistics(ctx context.Context) (*model.EnforcementStatistics, error)
	SetStatistics(ctx context.Context, stats model.EnforcementStatistics) error

	// AppendEvent records one audit event with the given retention TTL.
	AppendEvent(ctx context.Context, event model.WarningEvent, ttl time.Duration) error
	// ListEvents returns all retained events, oldest first.
	ListEvents(ctx context.Context) ([]model.WarningEvent, error)
	// PurgeEventsBefore deletes events older than cutoff and returns the
	// deleted events so they can be archived.
	PurgeEventsBefore(ctx context.Context, cutoff time.Time) ([]model.WarningEvent, error)

	PutNotification(ctx context.Context, n *model.WarningNotification, ttl time.Duration) error
	GetNotification(ctx context.Context, id string) (*model.WarningNotification, error)
	// ListNotifications returns all retained notifications, newest first.
	ListNotifications(ctx context.Context) ([]*model.WarningNotification, error)
	// PurgeNotificationsBefore deletes notifications created before cutoff
	// and returns how many were removed.
	PurgeNotificationsBefore(ctx context.Context, cutoff time.Time) (int, error)

	GetMonitorConfig(ctx context.Context) (*model.MonitorConfig, error)
	SetMonitorConfig(ctx context.Context, cfg model.MonitorConfig) error

	Close() error
}
