package archival

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/avolkov/stockroom-backend/internal/stock"
	"github.com/avolkov/stockroom-backend/pkg/config"
	"github.com/avolkov/stockroom-backend/pkg/db"
	"github.com/avolkov/stockroom-backend/pkg/db/models"
	"github.com/avolkov/stockroom-backend/pkg/logger"
)

// Service archives dormant products: zero total stock and no restock within
// the configured trailing window. Un-archiving happens on the restock path,
// not here.
type Service interface {
	Sweep(ctx context.Context) (int, error)
}

type service struct {
	client    *db.Client
	repo      Repository
	stockRepo stock.Repository
	cfg       config.ArchivalConfig
	logg      *logger.Logger
	now       func() time.Time
}

// NewService wires the archival sweep.
func NewService(client *db.Client, repo Repository, stockRepo stock.Repository, cfg config.ArchivalConfig, logg *logger.Logger) (Service, error) {
	if client == nil || repo == nil || stockRepo == nil {
		return nil, fmt.Errorf("archival service dependencies missing")
	}
	if cfg.WindowDays <= 0 {
		return nil, fmt.Errorf("archival window must be positive")
	}
	return &service{
		client:    client,
		repo:      repo,
		stockRepo: stockRepo,
		cfg:       cfg,
		logg:      logg,
		now:       time.Now,
	}, nil
}

// Sweep archives every candidate whose last restock predates the cutoff.
// Returns how many products were archived in this pass.
func (s *service) Sweep(ctx context.Context) (int, error) {
	candidates, err := s.repo.ListArchiveCandidates(ctx)
	if err != nil {
		return 0, err
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	now := s.now()
	cutoff := now.AddDate(0, 0, -s.cfg.WindowDays)
	archived := 0

	for _, product := range candidates {
		last, err := s.lastRestockFor(ctx, product)
		if err != nil {
			return archived, err
		}
		if last == nil || last.After(cutoff) {
			continue
		}
		pid := product.ID
		err = s.client.WithTx(ctx, func(tx *gorm.DB) error {
			return s.stockRepo.WithTx(tx).ArchiveProduct(ctx, pid, now)
		})
		if err != nil {
			return archived, err
		}
		archived++
	}

	if archived > 0 {
		s.logg.Info(s.logg.WithField(ctx, "archived", archived), "archival sweep finished")
	}
	return archived, nil
}

// lastRestockFor prefers the explicit restock timestamp, falling back to the
// last hub-credit event and finally the creation time.
func (s *service) lastRestockFor(ctx context.Context, product models.Product) (*time.Time, error) {
	if product.LastRestockAt != nil {
		return product.LastRestockAt, nil
	}
	at, err := s.stockRepo.LastHubCreditAt(ctx, product.ID)
	if err != nil {
		return nil, err
	}
	if at != nil {
		return at, nil
	}
	created := product.CreatedAt
	return &created, nil
}
