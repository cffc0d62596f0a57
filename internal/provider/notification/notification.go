// Package notification defines the notification capability contract and
// its provider implementations.
package notification

import (
	"context"

	"github.com/zjjiang/opd/internal/capability"
)

// Notification is one delivered event for a user.
type Notification struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Event     string `json:"event"`
	Read      bool   `json:"read"`
	CreatedAt string `json:"created_at"`
}

// Provider is the notification capability method set.
type Provider interface {
	capability.Provider

	Notify(ctx context.Context, userID, event string) error
	NotifyBatch(ctx context.Context, userIDs []string, event string) error
	GetNotifications(ctx context.Context, userID string) ([]Notification, error)
	MarkRead(ctx context.Context, userID, notificationID string) error
	MarkAllRead(ctx context.Context, userID string) error
}
