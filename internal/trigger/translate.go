package trigger

import (
	"time"

	"github.com/vietddude/migrator/internal/core/domain"
	"github.com/vietddude/migrator/internal/infra/bus"
)

// messageEvents maps inbound message types to event types.
var messageEvents = map[string]domain.EventType{
	"CONTEXT_READY":    domain.EventTypeContextReady,
	"PROJECT_CREATED":  domain.EventTypeProjectCreated,
	"PROJECT_UPDATED":  domain.EventTypeProjectUpdated,
	"SCHEDULE_UPDATED": domain.EventTypeScheduleChanged,
	"SCHEDULE_CREATED": domain.EventTypeScheduleChanged,
	"SCHEDULE_DELETED": domain.EventTypeScheduleChanged,
	"SYNC_REQUIRED":    domain.EventTypeDataSyncRequired,
}

// TranslateMessage converts a bus message into an event payload.
// Unrecognized message types return nil.
func TranslateMessage(msg bus.Message, now time.Time) *domain.EventPayload {
	eventType, ok := messageEvents[msg.Type]
	if !ok {
		return nil
	}

	source := msg.Source
	if source == "" {
		source = "message_bus"
	}
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = now
	}
	return &domain.EventPayload{
		Type:      eventType,
		Source:    source,
		Timestamp: ts,
		Data:      msg.Data,
		Metadata:  map[string]any{"message_type": msg.Type},
	}
}
