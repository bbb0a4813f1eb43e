package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/captionhq/storage-quota/internal/errors"
	"github.com/captionhq/storage-quota/internal/observability"
	"github.com/captionhq/storage-quota/pkg/model"
)

// scanBatch is the COUNT hint for SCAN over event/notification namespaces.
const scanBatch = 100

// NewRedisClient builds a go-redis client with conservative pool settings
// suited to the small number of keys this subsystem touches.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		PoolSize:     5,
		MinIdleConns: 1,
		MaxRetries:   3,
		PoolTimeout:  10 * time.Second,
	})
}

// RedisStore implements Store on a shared Redis instance. Records are
// whole JSON documents; event and notification keys carry TTLs equal to
// their retention horizons so Redis expires them even if no purge runs.
type RedisStore struct {
	client    *redis.Client
	prefix    string
	metrics   *observability.Metrics
	collector *errors.ErrorCollector
}

// NewRedisStore creates a RedisStore using the given client and key prefix.
func NewRedisStore(client *redis.Client, prefix string, metrics *observability.Metrics, collector *errors.ErrorCollector) *RedisStore {
	return &RedisStore{
		client:    client,
		prefix:    prefix,
		metrics:   metrics,
		collector: collector,
	}
}

func (s *RedisStore) key(parts ...string) string {
	return s.prefix + ":" + strings.Join(parts, ":")
}

// wrap converts a redis error into a typed StoreUnavailable error and
// records it. Returns nil for nil input.
func (s *RedisStore) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	s.metrics.StoreErrorsTotal.WithLabelValues(op).Inc()
	s.metrics.ErrorsTotal.WithLabelValues(string(errors.ErrStoreUnavailable)).Inc()
	s.collector.Report(errors.QuotaError{
		Code:      errors.ErrStoreUnavailable,
		Message:   fmt.Sprintf("redis %s: %v", op, err),
		Component: "store",
		Timestamp: time.Now().UnixMilli(),
		Err:       err,
	})
	return errors.New(errors.ErrStoreUnavailable, "store",
		fmt.Sprintf("redis %s failed: %v", op, err), err)
}

// Ping verifies connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.wrap("ping", s.client.Ping(ctx).Err())
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) getJSON(ctx context.Context, op, key string, out any) (bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, s.wrap(op, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, s.wrap(op, err)
	}
	return true, nil
}

func (s *RedisStore) setJSON(ctx context.Context, op, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return s.wrap(op, err)
	}
	return s.wrap(op, s.client.Set(ctx, key, data, ttl).Err())
}

// GetBlockingState returns the persisted blocking record, or nil when the
// gate is not blocked.
func (s *RedisStore) GetBlockingState(ctx context.Context) (*model.BlockingState, error) {
	var state model.BlockingState
	ok, err := s.getJSON(ctx, "get_blocking_state", s.key(keyBlockingState), &state)
	if err != nil || !ok {
		return nil, err
	}
	return &state, nil
}

// SetBlockingState persists the blocking record without a TTL; blocks
// survive until explicitly cleared.
func (s *RedisStore) SetBlockingState(ctx context.Context, state model.BlockingState) error {
	return s.setJSON(ctx, "set_blocking_state", s.key(keyBlockingState), state, 0)
}

// ClearBlockingState deletes the blocking record. Deleting an absent
// record is not an error.
func (s *RedisStore) ClearBlockingState(ctx context.Context) error {
	return s.wrap("clear_blocking_state", s.client.Del(ctx, s.key(keyBlockingState)).Err())
}

// GetStatistics returns the persisted statistics record, or nil if never
// written.
func (s *RedisStore) GetStatistics(ctx context.Context) (*model.EnforcementStatistics, error) {
	var stats model.EnforcementStatistics
	ok, err := s.getJSON(ctx, "get_statistics", s.key(keyStatistics), &stats)
	if err != nil || !ok {
		return nil, err
	}
	return &stats, nil
}

// SetStatistics persists the statistics record.
func (s *RedisStore) SetStatistics(ctx context.Context, stats model.EnforcementStatistics) error {
	return s.setJSON(ctx, "set_statistics", s.key(keyStatistics), stats, 0)
}

// eventKey builds a unique per-event key carrying the event timestamp so
// purges can order and filter by age without deserializing.
func (s *RedisStore) eventKey(ts time.Time) string {
	return s.key(keyEvents, strconv.FormatInt(ts.UnixNano(), 10), uuid.NewString()[:8])
}

// eventKeyTimestamp parses the nanosecond timestamp segment out of an
// event key.
func (s *RedisStore) eventKeyTimestamp(key string) (int64, bool) {
	rest, ok := strings.CutPrefix(key, s.key(keyEvents)+":")
	if !ok {
		return 0, false
	}
	seg, _, _ := strings.Cut(rest, ":")
	nanos, err := strconv.ParseInt(seg, 10, 64)
	if err != nil {
		return 0, false
	}
	return nanos, true
}

// AppendEvent records one audit event under its own key with the retention
// TTL.
func (s *RedisStore) AppendEvent(ctx context.Context, event model.WarningEvent, ttl time.Duration) error {
	return s.setJSON(ctx, "append_event", s.eventKey(event.Timestamp), event, ttl)
}

func (s *RedisStore) scanKeys(ctx context.Context, op, match string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, match, scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, s.wrap(op, err)
	}
	return keys, nil
}

// ListEvents returns all retained events, oldest first.
func (s *RedisStore) ListEvents(ctx context.Context) ([]model.WarningEvent, error) {
	keys, err := s.scanKeys(ctx, "list_events", s.key(keyEvents)+":*")
	if err != nil || len(keys) == 0 {
		return nil, err
	}

	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, s.wrap("list_events", err)
	}

	events := make([]model.WarningEvent, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			// Key expired between SCAN and MGET.
			continue
		}
		var ev model.WarningEvent
		if err := json.Unmarshal([]byte(str), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events, nil
}

// PurgeEventsBefore deletes events older than cutoff and returns them for
// archival, oldest first.
func (s *RedisStore) PurgeEventsBefore(ctx context.Context, cutoff time.Time) ([]model.WarningEvent, error) {
	keys, err := s.scanKeys(ctx, "purge_events", s.key(keyEvents)+":*")
	if err != nil || len(keys) == 0 {
		return nil, err
	}

	var expired []string
	for _, k := range keys {
		nanos, ok := s.eventKeyTimestamp(k)
		if !ok {
			continue
		}
		if time.Unix(0, nanos).Before(cutoff) {
			expired = append(expired, k)
		}
	}
	if len(expired) == 0 {
		return nil, nil
	}

	vals, err := s.client.MGet(ctx, expired...).Result()
	if err != nil {
		return nil, s.wrap("purge_events", err)
	}

	events := make([]model.WarningEvent, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var ev model.WarningEvent
		if err := json.Unmarshal([]byte(str), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})

	if err := s.client.Del(ctx, expired...).Err(); err != nil {
		return nil, s.wrap("purge_events", err)
	}
	return events, nil
}

// PutNotification stores a notification under its ID with the retention
// TTL. Used both for creation and for acknowledge updates.
func (s *RedisStore) PutNotification(ctx context.Context, n *model.WarningNotification, ttl time.Duration) error {
	return s.setJSON(ctx, "put_notification", s.key(keyNotifications, n.ID), n, ttl)
}

// GetNotification returns the notification with the given ID, or nil if
// absent.
func (s *RedisStore) GetNotification(ctx context.Context, id string) (*model.WarningNotification, error) {
	var n model.WarningNotification
	ok, err := s.getJSON(ctx, "get_notification", s.key(keyNotifications, id), &n)
	if err != nil || !ok {
		return nil, err
	}
	return &n, nil
}

// ListNotifications returns all retained notifications, newest first.
func (s *RedisStore) ListNotifications(ctx context.Context) ([]*model.WarningNotification, error) {
	keys, err := s.scanKeys(ctx, "list_notifications", s.key(keyNotifications)+":*")
	if err != nil || len(keys) == 0 {
		return nil, err
	}

	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, s.wrap("list_notifications", err)
	}

	notifications := make([]*model.WarningNotification, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var n model.WarningNotification
		if err := json.Unmarshal([]byte(str), &n); err != nil {
			continue
		}
		notifications = append(notifications, &n)
	}

	sort.Slice(notifications, func(i, j int) bool {
		return notifications[i].CreatedAt.After(notifications[j].CreatedAt)
	})
	return notifications, nil
}

// PurgeNotificationsBefore deletes notifications created before cutoff.
func (s *RedisStore) PurgeNotificationsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	notifications, err := s.ListNotifications(ctx)
	if err != nil {
		return 0, err
	}

	var expired []string
	for _, n := range notifications {
		if n.CreatedAt.Before(cutoff) {
			expired = append(expired, s.key(keyNotifications, n.ID))
		}
	}
	if len(expired) == 0 {
		return 0, nil
	}

	if err := s.client.Del(ctx, expired...).Err(); err != nil {
		return 0, s.wrap("purge_notifications", err)
	}
	return len(expired), nil
}

// GetMonitorConfig returns the stored monitor configuration, or nil if
// never written.
func (s *RedisStore) GetMonitorConfig(ctx context.Context) (*model.MonitorConfig, error) {
	var cfg model.MonitorConfig
	ok, err := s.getJSON(ctx, "get_monitor_config", s.key(keyMonitorConfig), &cfg)
	if err != nil || !ok {
		return nil, err
	}
	return &cfg, nil
}

// SetMonitorConfig persists the monitor configuration.
func (s *RedisStore) SetMonitorConfig(ctx context.Context, cfg model.MonitorConfig) error {
	return s.setJSON(ctx, "set_monitor_config", s.key(keyMonitorConfig), cfg, 0)
}
