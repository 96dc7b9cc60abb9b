package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/stockledger/pkg/enums"
)

// OrderHistory is an append-only record of transitions and notes for an order.
type OrderHistory struct {
	ID            int64                  `gorm:"column:id;primaryKey;autoIncrement"`
	OrderID       int64                  `gorm:"column:order_id;not null;index:ix_order_histories_order"`
	Kind          enums.OrderHistoryKind `gorm:"column:kind;type:varchar(16);not null"`
	PreviousValue map[string]any         `gorm:"column:previous_value;type:jsonb;serializer:json"`
	NewValue      map[string]any         `gorm:"column:new_value;type:jsonb;serializer:json"`
	Note          string                 `gorm:"column:note;not null;default:''"`
	CreatedBy     *string                `gorm:"column:created_by"`
	CreatedAt     time.Time              `gorm:"column:created_at;autoCreateTime"`
}

func (OrderHistory) BeforeUpdate(*gorm.DB) error { return ErrAppendOnly }

func (OrderHistory) BeforeDelete(*gorm.DB) error { return ErrAppendOnly }
