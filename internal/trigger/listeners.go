package trigger

import (
	"time"

	"github.com/vietddude/migrator/internal/core/domain"
)

// DefaultListeners returns the listener set registered at startup.
func DefaultListeners() []domain.ListenerConfig {
	return []domain.ListenerConfig{
		{Type: domain.EventTypeContextReady, Enabled: true},
		{Type: domain.EventTypeProjectCreated, Enabled: true, Debounce: 2 * time.Second},
		{Type: domain.EventTypeProjectUpdated, Enabled: true, Debounce: 5 * time.Second},
		{Type: domain.EventTypeScheduleChanged, Enabled: true, Throttle: 10 * time.Second},
		{Type: domain.EventTypeDataSyncRequired, Enabled: true, Throttle: 30 * time.Second},
		{Type: domain.EventTypeManualTrigger, Enabled: true},
	}
}

// ListenerStatus describes one registered listener.
type ListenerStatus struct {
	Type         domain.EventType `json:"type"`
	Enabled      bool             `json:"enabled"`
	Debounce     time.Duration    `json:"debounce,omitempty"`
	Throttle     time.Duration    `json:"throttle,omitempty"`
	HasFilter    bool             `json:"has_filter"`
	HasTransform bool             `json:"has_transform"`
	Pending      bool             `json:"pending"` // a debounced event is waiting
}
