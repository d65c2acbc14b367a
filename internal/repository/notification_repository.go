package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/tarang-school/pay-api/internal/models"
)

const notificationCollection = "notifications"

// notificationDocument is the stored shape of one scope channel.
type notificationDocument struct {
	Notifications []models.Notification `json:"notifications"`
}

// NotificationRepository manages per-scope notification documents.
// Scopes are either an account email or the shared admin channel.
type NotificationRepository struct {
	store *DocumentStore
}

// NewNotificationRepository constructs a NotificationRepository.
func NewNotificationRepository(store *DocumentStore) *NotificationRepository {
	return &NotificationRepository{store: store}
}

// GetScope returns the notifications for a scope and the document
// version. A missing scope reads as empty at version zero.
func (r *NotificationRepository) GetScope(ctx context.Context, scope string) ([]models.Notification, int64, error) {
	var doc notificationDocument
	version, err := r.store.Get(ctx, notificationCollection, scope, &doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []models.Notification{}, 0, nil
		}
		return nil, 0, err
	}
	if doc.Notifications == nil {
		doc.Notifications = []models.Notification{}
	}
	return doc.Notifications, version, nil
}

// Append adds one notification to the scope in a single atomic write,
// creating the scope document when absent.
func (r *NotificationRepository) Append(ctx context.Context, scope string, n models.Notification) error {
	return r.store.ArrayUnion(ctx, notificationCollection, scope, "notifications", n)
}

// Replace overwrites the scope's notifications only when version still
// matches. Used by pruning and read-state updates, which rewrite the
// whole array. A zero version creates the document, and an append that
// slipped in since the read surfaces as a version conflict rather than
// being overwritten.
func (r *NotificationRepository) Replace(ctx context.Context, scope string, notifications []models.Notification, version int64) error {
	doc := notificationDocument{Notifications: notifications}
	if version == 0 {
		return r.store.Create(ctx, notificationCollection, scope, doc)
	}
	return r.store.CompareAndSet(ctx, notificationCollection, scope, doc, version)
}
