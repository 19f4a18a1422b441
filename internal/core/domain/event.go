package domain

import "time"

// EventType identifies a migration-relevant domain event.
type EventType string

const (
	EventTypeContextReady     EventType = "context_ready"
	EventTypeProjectCreated   EventType = "project_created"
	EventTypeProjectUpdated   EventType = "project_updated"
	EventTypeScheduleChanged  EventType = "schedule_changed"
	EventTypeDataSyncRequired EventType = "data_sync_required"
	EventTypeManualTrigger    EventType = "manual_trigger"
)

// AllEventTypes lists every event kind the dispatcher understands.
var AllEventTypes = []EventType{
	EventTypeContextReady,
	EventTypeProjectCreated,
	EventTypeProjectUpdated,
	EventTypeScheduleChanged,
	EventTypeDataSyncRequired,
	EventTypeManualTrigger,
}

// IsValid reports whether t is one of the known event types.
func (t EventType) IsValid() bool {
	for _, known := range AllEventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// EventPayload is an ephemeral event driving a dispatch decision.
type EventPayload struct {
	Type      EventType      `json:"type"`
	Source    string         `json:"source"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ListenerConfig controls how events of one type are admitted.
// Debounce takes precedence over Throttle when both are set.
type ListenerConfig struct {
	Type      EventType
	Enabled   bool
	Debounce  time.Duration
	Throttle  time.Duration
	Filter    func(EventPayload) bool
	Transform func(EventPayload) EventPayload
}

// EventResult is the outcome of a processed event.
type EventResult string

const (
	EventResultSuccess EventResult = "success"
	EventResultFailed  EventResult = "failed"
	EventResultSkipped EventResult = "skipped"
)

// EventRecord is the audit entry written for every processed event.
type EventRecord struct {
	ID        string       `json:"id"`
	Event     EventPayload `json:"event"`
	Triggered bool         `json:"triggered"`
	Result    EventResult  `json:"result"`
	Reason    string       `json:"reason,omitempty"`
	Error     string       `json:"error,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}
