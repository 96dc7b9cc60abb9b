package models

import "time"

// StockReservation is a time-bounded hold against a product's stock.
type StockReservation struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement"`
	ProductID  int64     `gorm:"column:product_id;not null;index:ix_stock_reservations_product_active,priority:1"`
	Quantity   int       `gorm:"column:quantity;not null;check:chk_stock_reservations_quantity_positive,quantity > 0"`
	ReservedBy *string   `gorm:"column:reserved_by"`
	SessionID  string    `gorm:"column:session_id;not null;index:ix_stock_reservations_session"`
	ExpiresAt  time.Time `gorm:"column:expires_at;not null;index:ix_stock_reservations_product_active,priority:3"`
	Consumed   bool      `gorm:"column:consumed;not null;default:false;index:ix_stock_reservations_product_active,priority:2"`
	OrderID    *int64    `gorm:"column:order_id;index:ix_stock_reservations_order"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`

	Product *Product `gorm:"foreignKey:ProductID;constraint:OnDelete:RESTRICT"`
}

// IsExpired reports whether the hold lapsed at or before now.
func (r StockReservation) IsExpired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

// IsActive reports whether the hold still counts against availability.
func (r StockReservation) IsActive(now time.Time) bool {
	return !r.Consumed && !r.IsExpired(now)
}
