package models

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/stockledger/pkg/enums"
)

// ErrAppendOnly is returned when code attempts to rewrite an audit row.
var ErrAppendOnly = errors.New("append-only table: updates and deletes are not permitted")

// StockLog is one immutable audit row per stock-affecting operation.
type StockLog struct {
	ID            int64                    `gorm:"column:id;primaryKey;autoIncrement;index:ix_stock_logs_product,priority:2"`
	ProductID     int64                    `gorm:"column:product_id;not null;index:ix_stock_logs_product,priority:1"`
	OrderID       *int64                   `gorm:"column:order_id;index:ix_stock_logs_order"`
	ReservationID *int64                   `gorm:"column:reservation_id"`
	OperationType enums.StockOperationType `gorm:"column:operation_type;type:varchar(16);not null"`
	QuantityDelta int                      `gorm:"column:quantity_delta;not null"`
	StockBefore   int                      `gorm:"column:stock_before;not null"`
	StockAfter    int                      `gorm:"column:stock_after;not null"`
	Reason        string                   `gorm:"column:reason;not null;default:''"`
	PerformedBy   *string                  `gorm:"column:performed_by"`
	CreatedAt     time.Time                `gorm:"column:created_at;autoCreateTime"`
}

func (StockLog) BeforeUpdate(*gorm.DB) error { return ErrAppendOnly }

func (StockLog) BeforeDelete(*gorm.DB) error { return ErrAppendOnly }

// Balanced reports whether the row satisfies stock_after = stock_before + physical delta.
func (l StockLog) Balanced() bool {
	delta := 0
	if l.OperationType.AffectsPhysicalStock() {
		delta = l.QuantityDelta
	}
	return l.StockAfter == l.StockBefore+delta
}
