package imports

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/avolkov/stockroom-backend/pkg/db/models"
)

// Repository defines persistence for the append-only import history.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	Create(ctx context.Context, record *models.ImportRecord) error
	FindByHash(ctx context.Context, sourceHash string) (*models.ImportRecord, error)
	LatestNonReverted(ctx context.Context) (*models.ImportRecord, error)
	MarkReverted(ctx context.Context, id uint, at time.Time) error
	Replace(ctx context.Context, record *models.ImportRecord) error
	List(ctx context.Context, limit, offset int) ([]models.ImportRecord, int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, record *models.ImportRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

// FindByHash returns the import record for a source hash, reverted or not.
func (r *repository) FindByHash(ctx context.Context, sourceHash string) (*models.ImportRecord, error) {
	var record models.ImportRecord
	err := r.db.WithContext(ctx).First(&record, "source_hash = ?", sourceHash).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *repository) LatestNonReverted(ctx context.Context) (*models.ImportRecord, error) {
	var record models.ImportRecord
	err := r.db.WithContext(ctx).
		Where("reverted_at IS NULL").
		Order("created_at DESC, id DESC").
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *repository) MarkReverted(ctx context.Context, id uint, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.ImportRecord{}).
		Where("id = ?", id).
		Update("reverted_at", at).Error
}

// Replace rewrites all columns of an existing record, including nil fields.
func (r *repository) Replace(ctx context.Context, record *models.ImportRecord) error {
	return r.db.WithContext(ctx).Model(record).
		Select("*").Omit("id", "source_hash", "created_at").
		Updates(record).Error
}

func (r *repository) List(ctx context.Context, limit, offset int) ([]models.ImportRecord, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&models.ImportRecord{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var records []models.ImportRecord
	q := r.db.WithContext(ctx).Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, 0, err
	}
	return records, total, nil
}
