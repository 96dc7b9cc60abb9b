package models

import (
	"encoding/json"
	"time"

	"github.com/angelmondragon/stockledger/pkg/enums"
)

// OutboxEvent is a notification queued in the same database as the state it describes.
type OutboxEvent struct {
	ID            int64                     `gorm:"column:id;primaryKey;autoIncrement"`
	EventID       string                    `gorm:"column:event_id;not null;uniqueIndex:ux_outbox_events_event_id"`
	EventType     enums.OutboxEventType     `gorm:"column:event_type;type:varchar(64);not null"`
	AggregateType enums.OutboxAggregateType `gorm:"column:aggregate_type;type:varchar(32);not null"`
	AggregateID   int64                     `gorm:"column:aggregate_id;not null"`
	Payload       json.RawMessage           `gorm:"column:payload;type:jsonb;not null"`
	CreatedAt     time.Time                 `gorm:"column:created_at;autoCreateTime"`
	PublishedAt   *time.Time                `gorm:"column:published_at"`
	AttemptCount  int                       `gorm:"column:attempt_count;not null;default:0"`
	LastError     *string                   `gorm:"column:last_error"`
	FailedAt      *time.Time                `gorm:"column:failed_at"`
}
