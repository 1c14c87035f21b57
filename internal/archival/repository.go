package archival

import (
	"context"

	"gorm.io/gorm"

	"github.com/avolkov/stockroom-backend/pkg/db/models"
)

// Repository exposes the read side of the archival sweep.
type Repository interface {
	ListArchiveCandidates(ctx context.Context) ([]models.Product, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// ListArchiveCandidates returns non-archived products whose total stock
// across all locations is zero (including products with no entries at all).
func (r *repository) ListArchiveCandidates(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	err := r.db.WithContext(ctx).
		Where("archived = ?", false).
		Where(`COALESCE((SELECT SUM(qty) FROM stock_entries WHERE stock_entries.product_id = products.id), 0) = 0`).
		Find(&products).Error
	return products, err
}
