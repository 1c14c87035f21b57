package stock

import (
	"fmt"
	"sync/atomic"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	dbpkg "github.com/avolkov/stockroom-backend/pkg/db"
	"github.com/avolkov/stockroom-backend/pkg/db/models"
)

var testDBCounter atomic.Int64

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:stock_test_%d?mode=memory&cache=shared", testDBCounter.Add(1))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := conn.AutoMigrate(
		&models.Product{},
		&models.Location{},
		&models.StockEntry{},
		&models.StockEvent{},
		&models.ImportRecord{},
	); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return conn
}

func newTestClient(t *testing.T) (*dbpkg.Client, *gorm.DB) {
	t.Helper()
	conn := openTestDB(t)
	return dbpkg.NewWithConn(conn, "sqlite"), conn
}

func mustCreateProduct(t *testing.T, conn *gorm.DB, article, name string) *models.Product {
	t.Helper()
	product := &models.Product{Article: article, Name: name}
	if err := conn.Create(product).Error; err != nil {
		t.Fatalf("create product: %v", err)
	}
	return product
}

func mustQty(t *testing.T, conn *gorm.DB, productID uint, location string) float64 {
	t.Helper()
	var entry models.StockEntry
	err := conn.First(&entry, "product_id = ? AND location_code = ?", productID, location).Error
	if err == gorm.ErrRecordNotFound {
		return 0
	}
	if err != nil {
		t.Fatalf("load entry: %v", err)
	}
	return entry.Qty
}

func entryExists(t *testing.T, conn *gorm.DB, productID uint, location string) bool {
	t.Helper()
	var count int64
	err := conn.Model(&models.StockEntry{}).
		Where("product_id = ? AND location_code = ?", productID, location).
		Count(&count).Error
	if err != nil {
		t.Fatalf("count entries: %v", err)
	}
	return count > 0
}
