package models

import (
	"time"

	"github.com/angelmondragon/stockledger/pkg/enums"
)

// Order is the state-machine governed purchase record.
type Order struct {
	ID              int64               `gorm:"column:id;primaryKey;autoIncrement"`
	SessionID       string              `gorm:"column:session_id;not null"`
	UserID          *string             `gorm:"column:user_id"`
	Status          enums.OrderStatus   `gorm:"column:status;type:varchar(16);not null;default:'PENDING'"`
	PaymentStatus   enums.PaymentStatus `gorm:"column:payment_status;type:varchar(16);not null;default:'PENDING'"`
	PaymentID       string              `gorm:"column:payment_id;not null;uniqueIndex:ux_orders_payment_id"`
	StatusUpdatedAt time.Time           `gorm:"column:status_updated_at;not null"`
	Metadata        OrderMetadata       `gorm:"column:metadata;type:jsonb;serializer:json;not null"`
	CreatedAt       time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time           `gorm:"column:updated_at;autoUpdateTime"`

	Items   []OrderItem    `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	History []OrderHistory `gorm:"foreignKey:OrderID"`
}

// OrderMetadata is stored as a JSON object on the order row.
type OrderMetadata struct {
	StockReservationIDs []int64            `json:"stock_reservation_ids,omitempty"`
	Cancellation        *OrderCancellation `json:"cancellation,omitempty"`
}

type OrderCancellation struct {
	Reason     string    `json:"reason"`
	CanceledBy *string   `json:"canceled_by,omitempty"`
	CanceledAt time.Time `json:"canceled_at"`
}
