package model

import "time"

// Settings is the user-editable configuration record. The JSON names match
// the persisted record and the remote settings resource.
type Settings struct {
	SystemName             string `json:"systemName"`
	APIEndpoint            string `json:"apiEndpoint"`
	RefreshIntervalSeconds int    `json:"refreshInterval"`
	NotificationsEnabled   bool   `json:"enableNotifications"`
	AutoRefreshEnabled     bool   `json:"enableAutoRefresh"`
}

// DefaultSettings returns the record used when nothing has been persisted.
func DefaultSettings() Settings {
	return Settings{
		SystemName:             "Health Monitoring System",
		APIEndpoint:            "http://localhost:8080",
		RefreshIntervalSeconds: 30,
		NotificationsEnabled:   true,
		AutoRefreshEnabled:     true,
	}
}

// RefreshInterval returns the refresh interval as a duration.
func (s Settings) RefreshInterval() time.Duration {
	return time.Duration(s.RefreshIntervalSeconds) * time.Second
}

// SettingsPatch holds optional replacements for a Settings value.
// Nil pointer fields mean "don't change".
type SettingsPatch struct {
	SystemName             *string `json:"systemName,omitempty"`
	APIEndpoint            *string `json:"apiEndpoint,omitempty"`
	RefreshIntervalSeconds *int    `json:"refreshInterval,omitempty"`
	NotificationsEnabled   *bool   `json:"enableNotifications,omitempty"`
	AutoRefreshEnabled     *bool   `json:"enableAutoRefresh,omitempty"`
}

// PatchFrom returns a patch that replaces every field with the values in s.
func PatchFrom(s Settings) SettingsPatch {
	return SettingsPatch{
		SystemName:             &s.SystemName,
		APIEndpoint:            &s.APIEndpoint,
		RefreshIntervalSeconds: &s.RefreshIntervalSeconds,
		NotificationsEnabled:   &s.NotificationsEnabled,
		AutoRefreshEnabled:     &s.AutoRefreshEnabled,
	}
}

// IsEmpty reports whether the patch changes nothing.
func (p SettingsPatch) IsEmpty() bool {
	return p.SystemName == nil && p.APIEndpoint == nil && p.RefreshIntervalSeconds == nil &&
		p.NotificationsEnabled == nil && p.AutoRefreshEnabled == nil
}

// Apply returns s with the non-nil fields of p merged over it.
func (p SettingsPatch) Apply(s Settings) Settings {
	if p.SystemName != nil {
		s.SystemName = *p.SystemName
	}
	if p.APIEndpoint != nil {
		s.APIEndpoint = *p.APIEndpoint
	}
	if p.RefreshIntervalSeconds != nil {
		s.RefreshIntervalSeconds = *p.RefreshIntervalSeconds
	}
	if p.NotificationsEnabled != nil {
		s.NotificationsEnabled = *p.NotificationsEnabled
	}
	if p.AutoRefreshEnabled != nil {
		s.AutoRefreshEnabled = *p.AutoRefreshEnabled
	}
	return s
}
