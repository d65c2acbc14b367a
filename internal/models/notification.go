package models

import "time"

// AdminScope is the shared notification channel read by admins.
const AdminScope = "admin"

// Notification is one record inside a scope document's notifications
// array. IDs derive from the creation timestamp in milliseconds and are
// unique within a scope.
type Notification struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Subtitle    string    `json:"subtitle"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
	Avatar      string    `json:"avatar"`
	Read        bool      `json:"read"`
}

// NotificationScope resolves the channel for an account: admins share
// one channel, everyone else reads their own.
func NotificationScope(account *Account) string {
	if account != nil && account.Role == RoleAdmin {
		return AdminScope
	}
	if account != nil {
		return account.Email
	}
	return ""
}
