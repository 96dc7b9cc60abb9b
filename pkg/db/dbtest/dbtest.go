// Package dbtest opens throwaway sqlite databases migrated with the ledger models.
package dbtest

import (
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/stockledger/pkg/db"
	"github.com/angelmondragon/stockledger/pkg/db/models"
)

// Open returns a client over a private in-memory database. The pool is capped
// at one connection, so concurrent WithTx calls queue behind each other the
// way row locks serialize them on Postgres.
func Open(t testing.TB) *db.Client {
	t.Helper()
	dsn := "file:ledger_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := conn.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db.NewFromGorm(conn)
}

// SeedProduct inserts a product with the given physical stock.
func SeedProduct(t testing.TB, client *db.Client, stock int) models.Product {
	t.Helper()
	product := models.Product{SKU: "SKU-" + uuid.NewString()[:8], Name: "test product", Stock: stock}
	if err := client.DB().Create(&product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	return product
}
