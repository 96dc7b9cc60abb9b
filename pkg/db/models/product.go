package models

import "time"

// Product is the physical stock counter the ledger guards. Catalog data lives elsewhere.
type Product struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	SKU       string    `gorm:"column:sku;not null;uniqueIndex:ux_products_sku"`
	Name      string    `gorm:"column:name;not null"`
	Stock     int       `gorm:"column:stock;not null;default:0;check:chk_products_stock_non_negative,stock >= 0"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
