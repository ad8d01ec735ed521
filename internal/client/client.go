// Package client provides the interfaces the panel core uses to reach the
// remote admin API, and an HTTP/JSON implementation of them.
package client

import (
	"context"

	"github.com/alfredjeanlab/panelsync/internal/model"
)

// SettingsAPI is the remote settings resource.
type SettingsAPI interface {
	GetSettings(ctx context.Context) (*model.Settings, error)
	UpdateSettings(ctx context.Context, s *model.Settings) (*model.Settings, error)
}

// NotificationAPI is the remote notification feed.
type NotificationAPI interface {
	ListNotifications(ctx context.Context) ([]model.Notification, error)
	UnreadCount(ctx context.Context) (int, error)
	MarkAllRead(ctx context.Context) error
}

// DashboardAPI serves the metrics shown on the dashboard home page.
type DashboardAPI interface {
	DashboardStats(ctx context.Context) (*model.DashboardStats, error)
	RoleDistribution(ctx context.Context) ([]model.RoleShare, error)
	UserGrowth(ctx context.Context) ([]model.GrowthPoint, error)
}

// PanelClient is everything the panel core calls on the remote API. It is
// implemented by HTTPClient and can be faked per concern in tests.
type PanelClient interface {
	SettingsAPI
	NotificationAPI
	DashboardAPI

	Close() error
}
