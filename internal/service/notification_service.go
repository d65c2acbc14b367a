package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tarang-school/pay-api/internal/models"
	appErrors "github.com/tarang-school/pay-api/pkg/errors"
)

type notificationStore interface {
	GetScope(ctx context.Context, scope string) ([]models.Notification, int64, error)
	Append(ctx context.Context, scope string, n models.Notification) error
	Replace(ctx context.Context, scope string, notifications []models.Notification, version int64) error
}

// NotificationService manages per-scope notification lifecycles:
// append, age-based pruning, read toggling and dismissal. Records older
// than the retention window are dropped lazily on the next read of the
// scope and the compacted set is written back.
type NotificationService struct {
	store     notificationStore
	retention time.Duration
	metrics   *MetricsService
	logger    *zap.Logger
	now       func() time.Time

	mu     sync.Mutex
	lastID int64
}

// NewNotificationService constructs NotificationService. A zero
// retention defaults to 30 days.
func NewNotificationService(store notificationStore, retention time.Duration, logger *zap.Logger) *NotificationService {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{store: store, retention: retention, logger: logger, now: time.Now}
}

// WithClock overrides the service clock.
func (s *NotificationService) WithClock(now func() time.Time) *NotificationService {
	s.now = now
	return s
}

// WithMetrics attaches the prune counter.
func (s *NotificationService) WithMetrics(metrics *MetricsService) *NotificationService {
	s.metrics = metrics
	return s
}

// nextID derives an id from the creation timestamp in milliseconds,
// bumping past the previously issued id so two appends within the same
// millisecond stay unique within their scope.
func (s *NotificationService) nextID(now time.Time) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := now.UnixMilli()
	if id <= s.lastID {
		id = s.lastID + 1
	}
	s.lastID = id
	return id
}

// Append adds a notification to the scope. New records always start
// unread; the id derives from the creation timestamp in milliseconds.
func (s *NotificationService) Append(ctx context.Context, scope, title, subtitle, description string) error {
	now := s.now()
	n := models.Notification{
		ID:          s.nextID(now),
		Title:       title,
		Subtitle:    subtitle,
		Description: description,
		Timestamp:   now.UTC(),
		Read:        false,
	}
	if err := s.store.Append(ctx, scope, n); err != nil {
		return appErrors.Wrap(err, appErrors.ErrTransient.Code, appErrors.ErrTransient.Status, "failed to append notification")
	}
	return nil
}

// List returns the scope's live notifications, most recent first.
// Records past the retention window are pruned and, when any were
// dropped, the compacted set is persisted back (write-on-read). A lost
// compaction race is harmless: the next read prunes again.
func (s *NotificationService) List(ctx context.Context, scope string) ([]models.Notification, error) {
	notifications, version, err := s.store.GetScope(ctx, scope)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrTransient.Code, appErrors.ErrTransient.Status, "failed to load notifications")
	}

	cutoff := s.now().Add(-s.retention)
	live := make([]models.Notification, 0, len(notifications))
	for _, n := range notifications {
		if n.Timestamp.Before(cutoff) {
			continue
		}
		live = append(live, n)
	}

	if len(live) < len(notifications) {
		s.metrics.RecordPruned(len(notifications) - len(live))
		if err := s.store.Replace(ctx, scope, live, version); err != nil && !isVersionConflict(err) {
			s.logger.Warn("notification compaction failed", zap.String("scope", scope), zap.Error(err))
		}
	}

	out := make([]models.Notification, len(live))
	copy(out, live)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// ToggleRead flips the read flag of one record. Unknown ids are a
// no-op, not an error.
func (s *NotificationService) ToggleRead(ctx context.Context, scope string, id int64) error {
	return s.mutate(ctx, scope, func(notifications []models.Notification) ([]models.Notification, bool) {
		for i := range notifications {
			if notifications[i].ID == id {
				notifications[i].Read = !notifications[i].Read
				return notifications, true
			}
		}
		return notifications, false
	})
}

// MarkAllRead marks every record in the scope as read.
func (s *NotificationService) MarkAllRead(ctx context.Context, scope string) error {
	return s.mutate(ctx, scope, func(notifications []models.Notification) ([]models.Notification, bool) {
		changed := false
		for i := range notifications {
			if !notifications[i].Read {
				notifications[i].Read = true
				changed = true
			}
		}
		return notifications, changed
	})
}

// Dismiss removes one record from the scope. Unknown ids are a no-op.
func (s *NotificationService) Dismiss(ctx context.Context, scope string, id int64) error {
	return s.mutate(ctx, scope, func(notifications []models.Notification) ([]models.Notification, bool) {
		for i := range notifications {
			if notifications[i].ID == id {
				return append(notifications[:i], notifications[i+1:]...), true
			}
		}
		return notifications, false
	})
}

// mutate runs a read-modify-write over the scope under the document
// version, retrying once when a concurrent writer got there first.
func (s *NotificationService) mutate(ctx context.Context, scope string, fn func([]models.Notification) ([]models.Notification, bool)) error {
	for attempt := 0; attempt < 2; attempt++ {
		notifications, version, err := s.store.GetScope(ctx, scope)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrTransient.Code, appErrors.ErrTransient.Status, "failed to load notifications")
		}

		updated, changed := fn(notifications)
		if !changed {
			return nil
		}

		if err := s.store.Replace(ctx, scope, updated, version); err != nil {
			if isVersionConflict(err) && attempt == 0 {
				continue
			}
			return appErrors.Wrap(err, appErrors.ErrTransient.Code, appErrors.ErrTransient.Status, "failed to update notifications")
		}
		return nil
	}
	return appErrors.Clone(appErrors.ErrConflict, "notifications updated concurrently, retry")
}
