package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarang-school/pay-api/internal/models"
)

type mockNotificationStore struct {
	scopes   map[string][]models.Notification
	versions map[string]int64
	replaced int
}

func newMockNotificationStore() *mockNotificationStore {
	return &mockNotificationStore{
		scopes:   make(map[string][]models.Notification),
		versions: make(map[string]int64),
	}
}

func (m *mockNotificationStore) GetScope(ctx context.Context, scope string) ([]models.Notification, int64, error) {
	out := make([]models.Notification, len(m.scopes[scope]))
	copy(out, m.scopes[scope])
	return out, m.versions[scope], nil
}

func (m *mockNotificationStore) Append(ctx context.Context, scope string, n models.Notification) error {
	m.scopes[scope] = append(m.scopes[scope], n)
	m.versions[scope]++
	return nil
}

func (m *mockNotificationStore) Replace(ctx context.Context, scope string, notifications []models.Notification, version int64) error {
	m.scopes[scope] = notifications
	m.versions[scope]++
	m.replaced++
	return nil
}

func newTestNotificationService(store *mockNotificationStore) *NotificationService {
	return NewNotificationService(store, 30*24*time.Hour, nil).WithClock(testClock)
}

func TestNotificationAppendStartsUnread(t *testing.T) {
	store := newMockNotificationStore()
	svc := newTestNotificationService(store)

	require.NoError(t, svc.Append(context.Background(), "anna@example.com", "Payment received", "Elsa", "500 kr"))

	records := store.scopes["anna@example.com"]
	require.Len(t, records, 1)
	assert.False(t, records[0].Read)
	assert.Equal(t, testClock().UnixMilli(), records[0].ID)
}

func TestNotificationAppendIDsUniqueWithinMillisecond(t *testing.T) {
	store := newMockNotificationStore()
	svc := newTestNotificationService(store)
	ctx := context.Background()

	// The frozen clock makes both appends land in the same millisecond.
	require.NoError(t, svc.Append(ctx, "admin", "first", "", ""))
	require.NoError(t, svc.Append(ctx, "admin", "second", "", ""))

	records := store.scopes["admin"]
	require.Len(t, records, 2)
	assert.Equal(t, testClock().UnixMilli(), records[0].ID)
	assert.Equal(t, testClock().UnixMilli()+1, records[1].ID)
}

func TestNotificationListPrunesByAge(t *testing.T) {
	store := newMockNotificationStore()
	now := testClock()
	store.scopes["anna@example.com"] = []models.Notification{
		{ID: 1, Title: "stale", Timestamp: now.AddDate(0, 0, -31)},
		{ID: 2, Title: "fresh", Timestamp: now.AddDate(0, 0, -5)},
	}
	store.versions["anna@example.com"] = 1
	svc := newTestNotificationService(store)

	live, err := svc.List(context.Background(), "anna@example.com")
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "fresh", live[0].Title)

	// Write-on-read compaction persisted the pruned set.
	assert.Equal(t, 1, store.replaced)
	require.Len(t, store.scopes["anna@example.com"], 1)
}

func TestNotificationListSkipsWriteWhenNothingPruned(t *testing.T) {
	store := newMockNotificationStore()
	store.scopes["anna@example.com"] = []models.Notification{
		{ID: 1, Timestamp: testClock().AddDate(0, 0, -1)},
	}
	svc := newTestNotificationService(store)

	_, err := svc.List(context.Background(), "anna@example.com")
	require.NoError(t, err)
	assert.Zero(t, store.replaced)
}

func TestNotificationListReverseChronological(t *testing.T) {
	store := newMockNotificationStore()
	now := testClock()
	store.scopes["admin"] = []models.Notification{
		{ID: 100, Timestamp: now.AddDate(0, 0, -3)},
		{ID: 300, Timestamp: now.AddDate(0, 0, -1)},
		{ID: 200, Timestamp: now.AddDate(0, 0, -2)},
	}
	svc := newTestNotificationService(store)

	live, err := svc.List(context.Background(), "admin")
	require.NoError(t, err)
	require.Len(t, live, 3)
	assert.Equal(t, int64(300), live[0].ID)
	assert.Equal(t, int64(200), live[1].ID)
	assert.Equal(t, int64(100), live[2].ID)
}

func TestNotificationToggleReadTwiceRestoresState(t *testing.T) {
	store := newMockNotificationStore()
	store.scopes["anna@example.com"] = []models.Notification{
		{ID: 1, Timestamp: testClock(), Read: false},
	}
	svc := newTestNotificationService(store)
	ctx := context.Background()

	require.NoError(t, svc.ToggleRead(ctx, "anna@example.com", 1))
	assert.True(t, store.scopes["anna@example.com"][0].Read)

	require.NoError(t, svc.ToggleRead(ctx, "anna@example.com", 1))
	assert.False(t, store.scopes["anna@example.com"][0].Read)
}

func TestNotificationToggleReadUnknownIDIsNoOp(t *testing.T) {
	store := newMockNotificationStore()
	store.scopes["anna@example.com"] = []models.Notification{{ID: 1, Timestamp: testClock()}}
	svc := newTestNotificationService(store)

	require.NoError(t, svc.ToggleRead(context.Background(), "anna@example.com", 999))
	assert.Zero(t, store.replaced)
}

func TestNotificationDismiss(t *testing.T) {
	store := newMockNotificationStore()
	store.scopes["anna@example.com"] = []models.Notification{
		{ID: 1, Timestamp: testClock()},
		{ID: 2, Timestamp: testClock()},
	}
	svc := newTestNotificationService(store)
	ctx := context.Background()

	require.NoError(t, svc.Dismiss(ctx, "anna@example.com", 1))
	require.Len(t, store.scopes["anna@example.com"], 1)
	assert.Equal(t, int64(2), store.scopes["anna@example.com"][0].ID)

	// Dismissing a missing id succeeds without a write.
	replacedBefore := store.replaced
	require.NoError(t, svc.Dismiss(ctx, "anna@example.com", 999))
	assert.Equal(t, replacedBefore, store.replaced)
}

func TestNotificationMarkAllRead(t *testing.T) {
	store := newMockNotificationStore()
	store.scopes["admin"] = []models.Notification{
		{ID: 1, Timestamp: testClock(), Read: true},
		{ID: 2, Timestamp: testClock(), Read: false},
	}
	svc := newTestNotificationService(store)

	require.NoError(t, svc.MarkAllRead(context.Background(), "admin"))
	for _, n := range store.scopes["admin"] {
		assert.True(t, n.Read)
	}
}
