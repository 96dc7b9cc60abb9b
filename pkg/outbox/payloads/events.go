package payloads

import (
	"time"

	"github.com/angelmondragon/stockledger/pkg/enums"
)

// OrderStatusChangedEvent is queued after every committed status transition.
type OrderStatusChangedEvent struct {
	OrderID        int64             `json:"order_id"`
	SessionID      string            `json:"session_id"`
	UserID         *string           `json:"user_id,omitempty"`
	PreviousStatus enums.OrderStatus `json:"previous_status"`
	NewStatus      enums.OrderStatus `json:"new_status"`
	ChangedBy      *string           `json:"changed_by,omitempty"`
	ChangedAt      time.Time         `json:"changed_at"`
}

// OrderCanceledEvent is queued once a cancellation commits.
type OrderCanceledEvent struct {
	OrderID        int64             `json:"order_id"`
	SessionID      string            `json:"session_id"`
	UserID         *string           `json:"user_id,omitempty"`
	PreviousStatus enums.OrderStatus `json:"previous_status"`
	Reason         string            `json:"reason"`
	CanceledBy     *string           `json:"canceled_by,omitempty"`
	CanceledAt     time.Time         `json:"canceled_at"`
}
