package events

import "context"

// In-process topics carried by the Bus.
const (
	// TopicSettingsChanged carries the full model.Settings after every
	// successful write or clear, local or mirrored from another context.
	TopicSettingsChanged = "settings-changed"

	// TopicSessionEnded has no payload. Receivers stop background work.
	TopicSessionEnded = "session-ended"

	// TopicNotificationsUpdated carries a notify.Snapshot after each refresh.
	TopicNotificationsUpdated = "notifications-updated"

	// TopicDashboardUpdated carries a model.DashboardSnapshot after each refresh.
	TopicDashboardUpdated = "dashboard-updated"
)

// SubjectStoragePrefix prefixes the NATS subjects used to announce durable
// storage writes to sibling contexts ("panel.storage.<key>").
const SubjectStoragePrefix = "panel.storage."

// Publisher is the interface for emitting events to other processes.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
