package outbox

import (
	"encoding/json"
	"time"
)

// ActorRef identifies who caused the event. Empty for system transitions.
type ActorRef struct {
	ID   string `json:"id"`
	Kind string `json:"kind,omitempty"`
}

// PayloadEnvelope is the stable payload structure stored in outbox_events.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}
