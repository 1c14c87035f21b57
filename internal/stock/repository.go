package stock

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/avolkov/stockroom-backend/pkg/db/models"
)

// Repository defines the persistence surface the stock ledger requires.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	GetProduct(ctx context.Context, id uint) (*models.Product, error)
	GetProductByArticle(ctx context.Context, article string) (*models.Product, error)
	CreateProduct(ctx context.Context, product *models.Product) error
	BackfillProductName(ctx context.Context, id uint, name string) error
	MarkRestock(ctx context.Context, id uint, at time.Time) error
	ArchiveProduct(ctx context.Context, id uint, at time.Time) error

	GetEntry(ctx context.Context, productID uint, locationCode string) (*models.StockEntry, error)
	UpsertEntryAdd(ctx context.Context, productID uint, locationCode string, delta float64, name, localName *string) error
	UpsertEntrySet(ctx context.Context, productID uint, locationCode string, qty float64, name, localName *string) error
	DecrementEntry(ctx context.Context, productID uint, locationCode string, dec float64) (bool, error)
	DeleteEntry(ctx context.Context, productID uint, locationCode string) error
	DeleteDepletedEntry(ctx context.Context, productID uint, locationCode string) error
	ListEntriesByProduct(ctx context.Context, productID uint) ([]models.StockEntry, error)
	TotalStock(ctx context.Context, productID uint) (float64, error)

	CreateEvent(ctx context.Context, event *models.StockEvent) error
	LastHubCreditAt(ctx context.Context, productID uint) (*time.Time, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// WithTx returns a repository bound to the provided transaction.
func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{db: tx}
}

func (r *repository) GetProduct(ctx context.Context, id uint) (*models.Product, error) {
	var product models.Product
	if err := r.db.WithContext(ctx).First(&product, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *repository) GetProductByArticle(ctx context.Context, article string) (*models.Product, error) {
	var product models.Product
	if err := r.db.WithContext(ctx).First(&product, "article = ?", article).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *repository) CreateProduct(ctx context.Context, product *models.Product) error {
	return r.db.WithContext(ctx).Create(product).Error
}

// BackfillProductName fills the name only when the stored one is empty.
func (r *repository) BackfillProductName(ctx context.Context, id uint, name string) error {
	return r.db.WithContext(ctx).Model(&models.Product{}).
		Where("id = ? AND (name IS NULL OR name = '')", id).
		Update("name", name).Error
}

// MarkRestock stamps last_restock_at and un-archives the product if needed.
func (r *repository) MarkRestock(ctx context.Context, id uint, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Product{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_restock_at": at,
			"archived":        false,
			"archived_at":     nil,
		}).Error
}

func (r *repository) ArchiveProduct(ctx context.Context, id uint, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Product{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"archived":    true,
			"archived_at": at,
		}).Error
}

func (r *repository) GetEntry(ctx context.Context, productID uint, locationCode string) (*models.StockEntry, error) {
	var entry models.StockEntry
	err := r.db.WithContext(ctx).
		First(&entry, "product_id = ? AND location_code = ?", productID, locationCode).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// UpsertEntryAdd inserts the entry or increments its quantity, refreshing
// the cached display names.
func (r *repository) UpsertEntryAdd(ctx context.Context, productID uint, locationCode string, delta float64, name, localName *string) error {
	entry := models.StockEntry{
		ProductID:    productID,
		LocationCode: locationCode,
		Qty:          delta,
		Name:         name,
		LocalName:    localName,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "product_id"}, {Name: "location_code"}},
		DoUpdates: clause.Assignments(map[string]any{
			"qty":        gorm.Expr("stock_entries.qty + excluded.qty"),
			"name":       name,
			"local_name": localName,
		}),
	}).Create(&entry).Error
}

// UpsertEntrySet inserts the entry or replaces its quantity outright.
func (r *repository) UpsertEntrySet(ctx context.Context, productID uint, locationCode string, qty float64, name, localName *string) error {
	entry := models.StockEntry{
		ProductID:    productID,
		LocationCode: locationCode,
		Qty:          qty,
		Name:         name,
		LocalName:    localName,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "product_id"}, {Name: "location_code"}},
		DoUpdates: clause.Assignments(map[string]any{
			"qty":        qty,
			"name":       name,
			"local_name": localName,
		}),
	}).Create(&entry).Error
}

// DecrementEntry subtracts dec guarded by qty >= dec; reports whether a row
// was actually updated so the caller can distinguish insufficiency.
func (r *repository) DecrementEntry(ctx context.Context, productID uint, locationCode string, dec float64) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.StockEntry{}).
		Where("product_id = ? AND location_code = ? AND qty >= ?", productID, locationCode, dec).
		Update("qty", gorm.Expr("qty - ?", dec))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) DeleteEntry(ctx context.Context, productID uint, locationCode string) error {
	return r.db.WithContext(ctx).
		Where("product_id = ? AND location_code = ?", productID, locationCode).
		Delete(&models.StockEntry{}).Error
}

// DeleteDepletedEntry removes the row once its quantity is zero or below.
func (r *repository) DeleteDepletedEntry(ctx context.Context, productID uint, locationCode string) error {
	return r.db.WithContext(ctx).
		Where("product_id = ? AND location_code = ? AND qty <= 0", productID, locationCode).
		Delete(&models.StockEntry{}).Error
}

func (r *repository) ListEntriesByProduct(ctx context.Context, productID uint) ([]models.StockEntry, error) {
	var entries []models.StockEntry
	err := r.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("location_code").
		Find(&entries).Error
	return entries, err
}

func (r *repository) TotalStock(ctx context.Context, productID uint) (float64, error) {
	var total float64
	err := r.db.WithContext(ctx).Model(&models.StockEntry{}).
		Where("product_id = ?", productID).
		Select("COALESCE(SUM(qty), 0)").
		Scan(&total).Error
	return total, err
}

func (r *repository) CreateEvent(ctx context.Context, event *models.StockEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

// LastHubCreditAt returns the timestamp of the most recent hub-credit event.
func (r *repository) LastHubCreditAt(ctx context.Context, productID uint) (*time.Time, error) {
	var event models.StockEvent
	err := r.db.WithContext(ctx).
		Where("product_id = ? AND type = ? AND delta > 0", productID, models.StockEventHubCredit).
		Order("created_at DESC").
		First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &event.CreatedAt, nil
}
