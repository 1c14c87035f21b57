package stock

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/avolkov/stockroom-backend/pkg/config"
	"github.com/avolkov/stockroom-backend/pkg/db"
	"github.com/avolkov/stockroom-backend/pkg/db/models"
	apperrors "github.com/avolkov/stockroom-backend/pkg/errors"
	"github.com/avolkov/stockroom-backend/pkg/logger"
)

// Service exposes the transactional stock ledger: every operation runs in one
// transaction and preserves the never-negative invariant.
type Service interface {
	AdjustSigned(ctx context.Context, productID uint, location string, delta float64) error
	Transfer(ctx context.Context, productID uint, src, dst string, qty float64) error
	SetAbsolute(ctx context.Context, productID uint, location string, qty float64) error
	AdjustHubRouted(ctx context.Context, productID uint, location string, delta float64) error

	// CreditInTx and DebitInTx apply a single adjustment inside a
	// transaction owned by the caller, letting the import pipeline compose
	// product upserts and ledger mutations into one atomic unit.
	CreditInTx(ctx context.Context, tx *gorm.DB, productID uint, location string, qty float64) error
	DebitInTx(ctx context.Context, tx *gorm.DB, productID uint, location string, qty float64) error

	ProductByArticle(ctx context.Context, article string) (*models.Product, error)
	Entries(ctx context.Context, productID uint) ([]models.StockEntry, error)
	TotalStock(ctx context.Context, productID uint) (float64, error)
	HubCode() string
	SinkCode() string
}

type service struct {
	client *db.Client
	repo   Repository
	cfg    config.StockConfig
	logg   *logger.Logger
}

// NewService wires the stock ledger with its repository and location config.
func NewService(client *db.Client, repo Repository, cfg config.StockConfig, logg *logger.Logger) (Service, error) {
	if client == nil {
		return nil, fmt.Errorf("db client required")
	}
	if repo == nil {
		return nil, fmt.Errorf("stock repository required")
	}
	if cfg.HubCode == "" || cfg.SinkCode == "" {
		return nil, fmt.Errorf("hub and sink location codes required")
	}
	return &service{client: client, repo: repo, cfg: cfg, logg: logg}, nil
}

func (s *service) HubCode() string  { return s.cfg.HubCode }
func (s *service) SinkCode() string { return s.cfg.SinkCode }

// AdjustSigned increments or decrements one (product, location) quantity.
// Positive deltas count as a restock; negative deltas fail when the location
// does not hold enough.
func (s *service) AdjustSigned(ctx context.Context, productID uint, location string, delta float64) error {
	if err := validDelta(delta); err != nil {
		return err
	}
	if delta == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *gorm.DB) error {
		return s.adjustSignedTx(ctx, s.repo.WithTx(tx), productID, location, delta)
	})
}

// Transfer debits src and credits dst. A transfer into the write-off sink
// only debits the source; the stock is considered consumed.
func (s *service) Transfer(ctx context.Context, productID uint, src, dst string, qty float64) error {
	if qty <= 0 || math.IsNaN(qty) || math.IsInf(qty, 0) {
		return apperrors.New(apperrors.CodeValidation, "transfer quantity must be positive")
	}
	if src == dst {
		return apperrors.New(apperrors.CodeValidation, "source and destination are the same")
	}
	return s.withTx(ctx, func(tx *gorm.DB) error {
		return s.transferTx(ctx, s.repo.WithTx(tx), productID, src, dst, qty)
	})
}

// SetAbsolute replaces the quantity at a location; zero removes the row.
func (s *service) SetAbsolute(ctx context.Context, productID uint, location string, qty float64) error {
	if qty < 0 || math.IsNaN(qty) || math.IsInf(qty, 0) {
		return apperrors.New(apperrors.CodeValidation, "quantity must not be negative")
	}
	return s.withTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if qty == 0 {
			return repo.DeleteEntry(ctx, productID, location)
		}
		name, localName, err := cachedNames(ctx, repo, productID)
		if err != nil {
			return err
		}
		return repo.UpsertEntrySet(ctx, productID, location, qty, name, localName)
	})
}

// AdjustHubRouted prefers moving stock through the hub: negative deltas on a
// satellite return stock to the hub, positive deltas pull from the hub first
// and only create the shortfall directly at the location.
func (s *service) AdjustHubRouted(ctx context.Context, productID uint, location string, delta float64) error {
	if err := validDelta(delta); err != nil {
		return err
	}
	if delta == 0 {
		return nil
	}
	hub := s.cfg.HubCode
	return s.withTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		if location == hub {
			return s.adjustSignedTx(ctx, repo, productID, location, delta)
		}
		if delta < 0 {
			return s.transferTx(ctx, repo, productID, location, hub, -delta)
		}

		remaining := delta
		hubEntry, err := repo.GetEntry(ctx, productID, hub)
		if err != nil {
			return err
		}
		available := 0.0
		if hubEntry != nil {
			available = hubEntry.Qty
		}
		routed := math.Min(remaining, available)
		if routed > 0 {
			if err := s.transferTx(ctx, repo, productID, hub, location, routed); err != nil {
				return err
			}
			remaining -= routed
		}
		if remaining > 0 {
			return s.adjustSignedTx(ctx, repo, productID, location, remaining)
		}
		return nil
	})
}

func (s *service) CreditInTx(ctx context.Context, tx *gorm.DB, productID uint, location string, qty float64) error {
	if qty <= 0 || math.IsNaN(qty) || math.IsInf(qty, 0) {
		return apperrors.New(apperrors.CodeValidation, "credit quantity must be positive")
	}
	return s.adjustSignedTx(ctx, s.repo.WithTx(tx), productID, location, qty)
}

func (s *service) DebitInTx(ctx context.Context, tx *gorm.DB, productID uint, location string, qty float64) error {
	if qty <= 0 || math.IsNaN(qty) || math.IsInf(qty, 0) {
		return apperrors.New(apperrors.CodeValidation, "debit quantity must be positive")
	}
	return s.adjustSignedTx(ctx, s.repo.WithTx(tx), productID, location, -qty)
}

// ProductByArticle resolves the catalog row behind an article code. The HTTP
// surface addresses products by article, not by database id.
func (s *service) ProductByArticle(ctx context.Context, article string) (*models.Product, error) {
	article = strings.TrimSpace(article)
	if article == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "article is required")
	}
	product, err := s.repo.GetProductByArticle(ctx, article)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.CodeNotFound,
				fmt.Sprintf("unknown article %q", article))
		}
		return nil, err
	}
	return product, nil
}

func (s *service) Entries(ctx context.Context, productID uint) ([]models.StockEntry, error) {
	return s.repo.ListEntriesByProduct(ctx, productID)
}

func (s *service) TotalStock(ctx context.Context, productID uint) (float64, error) {
	return s.repo.TotalStock(ctx, productID)
}

func (s *service) adjustSignedTx(ctx context.Context, repo Repository, productID uint, location string, delta float64) error {
	if delta > 0 {
		name, localName, err := cachedNames(ctx, repo, productID)
		if err != nil {
			return err
		}
		if err := repo.UpsertEntryAdd(ctx, productID, location, delta, name, localName); err != nil {
			return err
		}
		if err := repo.MarkRestock(ctx, productID, time.Now()); err != nil {
			return err
		}
		// Only hub credits land in the event log: LastHubCreditAt feeds the
		// archival fallback and must not see satellite or sink credits.
		if location == s.cfg.HubCode {
			return repo.CreateEvent(ctx, &models.StockEvent{
				Type:         models.StockEventHubCredit,
				ProductID:    productID,
				LocationCode: location,
				Delta:        delta,
			})
		}
		return nil
	}

	dec := -delta
	updated, err := repo.DecrementEntry(ctx, productID, location, dec)
	if err != nil {
		return err
	}
	if !updated {
		return s.insufficiency(ctx, repo, productID, location, dec)
	}
	return repo.DeleteDepletedEntry(ctx, productID, location)
}

func (s *service) transferTx(ctx context.Context, repo Repository, productID uint, src, dst string, qty float64) error {
	updated, err := repo.DecrementEntry(ctx, productID, src, qty)
	if err != nil {
		return err
	}
	if !updated {
		return s.insufficiency(ctx, repo, productID, src, qty)
	}
	if err := repo.DeleteDepletedEntry(ctx, productID, src); err != nil {
		return err
	}
	if dst == s.cfg.SinkCode {
		// Write-off: the credit is dropped on purpose.
		return nil
	}
	name, localName, err := cachedNames(ctx, repo, productID)
	if err != nil {
		return err
	}
	return repo.UpsertEntryAdd(ctx, productID, dst, qty, name, localName)
}

func (s *service) insufficiency(ctx context.Context, repo Repository, productID uint, location string, need float64) error {
	have := 0.0
	if entry, err := repo.GetEntry(ctx, productID, location); err == nil && entry != nil {
		have = entry.Qty
	}
	msg := fmt.Sprintf("недостаточно на %s: есть %s, нужно %s",
		location, formatAmount(have), formatAmount(need))
	return apperrors.New(apperrors.CodeStockInsufficient, msg).
		WithDetails(map[string]any{
			"location": location,
			"have":     have,
			"need":     need,
		})
}

func (s *service) withTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	err := s.client.WithTx(ctx, fn)
	if err != nil && db.IsBusy(err) {
		return apperrors.Wrap(apperrors.CodeWriteContention, err, "stock store is busy")
	}
	return err
}

func cachedNames(ctx context.Context, repo Repository, productID uint) (*string, *string, error) {
	product, err := repo.GetProduct(ctx, productID)
	if err != nil {
		return nil, nil, err
	}
	name := product.Name
	return &name, product.LocalName, nil
}

func validDelta(delta float64) error {
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		return apperrors.New(apperrors.CodeValidation, "delta must be finite")
	}
	return nil
}

func formatAmount(v float64) string {
	s := fmt.Sprintf("%.6f", v)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}
