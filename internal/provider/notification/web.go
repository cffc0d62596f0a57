package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zjjiang/opd/internal/capability"
)

// WebSchema is the config schema for the web provider.
var WebSchema = []capability.ConfigField{
	{Name: "max_per_user", Label: "Max notifications per user", Type: capability.FieldText, Default: "200"},
}

// Web keeps notifications in memory for delivery through the HTTP API.
// Process restart drops unread notifications; the UI treats them as
// best-effort signals, not durable state.
type Web struct {
	config  map[string]string
	maxPer  int
	mu      sync.Mutex
	byUser  map[string][]Notification
	timeNow func() time.Time
}

// NewWeb builds a Web notification provider from config.
func NewWeb(config map[string]string) (capability.Provider, error) {
	if config == nil {
		config = map[string]string{}
	}
	maxPer := 200
	if raw := config["max_per_user"]; raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &maxPer); err != nil || maxPer <= 0 {
			return nil, fmt.Errorf("notification: invalid max_per_user %q", raw)
		}
	}
	return &Web{
		config:  config,
		maxPer:  maxPer,
		byUser:  map[string][]Notification{},
		timeNow: time.Now,
	}, nil
}

// ProviderName identifies this implementation in the registry catalog.
func (w *Web) ProviderName() string { return "web" }

// Config returns the raw provider config.
func (w *Web) Config() map[string]string { return w.config }

func (w *Web) Initialize(ctx context.Context) error { return nil }

func (w *Web) Cleanup(ctx context.Context) error { return nil }

// HealthCheck always succeeds; the store is in-process.
func (w *Web) HealthCheck(ctx context.Context) capability.HealthStatus {
	now := w.timeNow()
	return capability.HealthStatus{Healthy: true, CheckedAt: now}
}

// Notify appends one notification for a user, evicting the oldest entries
// past the per-user cap.
func (w *Web) Notify(ctx context.Context, userID, event string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	list := append(w.byUser[userID], Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Event:     event,
		CreatedAt: w.timeNow().UTC().Format(time.RFC3339),
	})
	if len(list) > w.maxPer {
		list = list[len(list)-w.maxPer:]
	}
	w.byUser[userID] = list
	return nil
}

// NotifyBatch delivers one event to several users.
func (w *Web) NotifyBatch(ctx context.Context, userIDs []string, event string) error {
	for _, id := range userIDs {
		if err := w.Notify(ctx, id, event); err != nil {
			return err
		}
	}
	return nil
}

// GetNotifications returns a snapshot of a user's notifications, newest last.
func (w *Web) GetNotifications(ctx context.Context, userID string) ([]Notification, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	list := w.byUser[userID]
	out := make([]Notification, len(list))
	copy(out, list)
	return out, nil
}

// MarkRead flags one notification as read.
func (w *Web) MarkRead(ctx context.Context, userID, notificationID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range w.byUser[userID] {
		if w.byUser[userID][i].ID == notificationID {
			w.byUser[userID][i].Read = true
			return nil
		}
	}
	return fmt.Errorf("notification: %q not found for user %q", notificationID, userID)
}

// MarkAllRead flags every notification for a user as read.
func (w *Web) MarkAllRead(ctx context.Context, userID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range w.byUser[userID] {
		w.byUser[userID][i].Read = true
	}
	return nil
}
