package imports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/avolkov/stockroom-backend/internal/ingest"
	"github.com/avolkov/stockroom-backend/internal/stock"
	"github.com/avolkov/stockroom-backend/pkg/config"
	"github.com/avolkov/stockroom-backend/pkg/db"
	"github.com/avolkov/stockroom-backend/pkg/db/models"
	apperrors "github.com/avolkov/stockroom-backend/pkg/errors"
	"github.com/avolkov/stockroom-backend/pkg/logger"
	"github.com/avolkov/stockroom-backend/pkg/metrics"
)

// PreviewInput is an uploaded document handed to the extraction step.
type PreviewInput struct {
	OriginalName string
	Content      io.Reader
}

// PreviewOutput references the pending session and what was extracted.
type PreviewOutput struct {
	Token    string          `json:"token"`
	Rows     []ingest.Row    `json:"rows"`
	Preview  *ingest.Preview `json:"preview,omitempty"`
	Supplier string          `json:"supplier,omitempty"`
	Invoice  string          `json:"invoice,omitempty"`
}

// RowInput is one confirmed (possibly human-edited) row in a commit request.
type RowInput struct {
	Article string  `json:"article" validate:"required"`
	Name    string  `json:"name" validate:"required"`
	Qty     float64 `json:"qty" validate:"required,gt=0"`
}

// CommitStats aggregates one commit run.
type CommitStats struct {
	Imported int `json:"imported"`
	Created  int `json:"created"`
	Updated  int `json:"updated"`
}

// CommitResult is the aggregate outcome returned to the caller.
type CommitResult struct {
	Stats         CommitStats      `json:"stats"`
	Errors        []string         `json:"errors,omitempty"`
	ToHub         map[uint]float64 `json:"-"`
	Supplier      string           `json:"supplier,omitempty"`
	Invoice       string           `json:"invoice,omitempty"`
	NormalizedCSV string           `json:"normalized_csv_path,omitempty"`
}

// RevertResult reports which import was rolled back.
type RevertResult struct {
	RecordID     uint      `json:"record_id"`
	OriginalName string    `json:"original_name"`
	ItemsCount   int       `json:"items_count"`
	RevertedAt   time.Time `json:"reverted_at"`
}

// Service drives the import pipeline: preview, confirm, commit, revert.
type Service interface {
	Preview(ctx context.Context, input PreviewInput) (*PreviewOutput, error)
	Commit(ctx context.Context, token string, rows []RowInput) (*CommitResult, error)
	Cancel(ctx context.Context, token string) error
	Revert(ctx context.Context) (*RevertResult, error)
	History(ctx context.Context, limit, offset int) ([]models.ImportRecord, int64, error)
}

type service struct {
	client    *db.Client
	repo      Repository
	stockRepo stock.Repository
	stockSvc  stock.Service
	guard     *DuplicateGuard
	sessions  *SessionStore
	extractor *ingest.Extractor
	cfg       config.ImportsConfig
	logg      *logger.Logger
	metrics   *metrics.PipelineMetrics
}

// NewService wires the import pipeline.
func NewService(
	client *db.Client,
	repo Repository,
	stockRepo stock.Repository,
	stockSvc stock.Service,
	sessions *SessionStore,
	extractor *ingest.Extractor,
	cfg config.ImportsConfig,
	logg *logger.Logger,
	m *metrics.PipelineMetrics,
) (Service, error) {
	if client == nil || repo == nil || stockRepo == nil || stockSvc == nil {
		return nil, fmt.Errorf("import service dependencies missing")
	}
	if sessions == nil || extractor == nil {
		return nil, fmt.Errorf("session store and extractor required")
	}
	return &service{
		client:    client,
		repo:      repo,
		stockRepo: stockRepo,
		stockSvc:  stockSvc,
		guard:     NewDuplicateGuard(repo),
		sessions:  sessions,
		extractor: extractor,
		cfg:       cfg,
		logg:      logg,
		metrics:   m,
	}, nil
}

// Preview stores the upload, runs extraction and opens a pending session.
// A known duplicate is refused here already; the stored file is removed so
// the rejected attempt leaves no artifacts behind.
func (s *service) Preview(ctx context.Context, input PreviewInput) (*PreviewOutput, error) {
	ext := strings.ToLower(filepath.Ext(input.OriginalName))
	if !s.cfg.ExtensionAllowed(ext) {
		return nil, apperrors.New(apperrors.CodeValidation,
			fmt.Sprintf("file extension %q is not allowed", ext))
	}

	storedPath, err := s.storeUpload(input)
	if err != nil {
		return nil, err
	}

	sourceHash, err := HashFile(storedPath)
	if err != nil {
		s.removeStored(ctx, storedPath)
		return nil, err
	}
	if err := s.guard.Check(ctx, sourceHash); err != nil {
		s.metrics.IncDuplicate()
		s.removeStored(ctx, storedPath)
		return nil, err
	}

	result, extractErr := s.extractor.ExtractFile(ctx, storedPath)
	if result == nil {
		s.removeStored(ctx, storedPath)
		return nil, extractErr
	}

	session := &Session{
		OriginalName: input.OriginalName,
		StoredPath:   storedPath,
		Kind:         result.Kind,
		SourceHash:   sourceHash,
		Rows:         result.Rows,
		Preview:      result.Preview,
		Supplier:     result.Supplier,
		Invoice:      result.Invoice,
	}
	token, err := s.sessions.Save(ctx, session)
	if err != nil {
		s.removeStored(ctx, storedPath)
		return nil, err
	}

	out := &PreviewOutput{
		Token:    token,
		Rows:     result.Rows,
		Preview:  result.Preview,
		Supplier: result.Supplier,
		Invoice:  result.Invoice,
	}
	if extractErr != nil {
		// The session stays open so the human can inspect the preview, but
		// the failure is surfaced: there is nothing to commit yet.
		return out, extractErr
	}
	return out, nil
}

// Commit re-validates the confirmed rows and applies them one short
// transaction per row; partial failure is expected and reported, not fatal.
func (s *service) Commit(ctx context.Context, token string, rows []RowInput) (*CommitResult, error) {
	session, err := s.sessions.Load(ctx, token)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		for _, r := range session.Rows {
			rows = append(rows, RowInput{Article: r.Article, Name: r.Name, Qty: r.Qty})
		}
	}
	if len(rows) == 0 {
		return nil, apperrors.New(apperrors.CodeValidation, "nothing to commit")
	}

	// The guard runs again right before commit to close the window where two
	// concurrent uploads of the same file both passed preview.
	if err := s.guard.Check(ctx, session.SourceHash); err != nil {
		s.metrics.IncDuplicate()
		return nil, err
	}

	result := &CommitResult{
		ToHub:    map[uint]float64{},
		Supplier: session.Supplier,
		Invoice:  session.Invoice,
	}
	hub := s.stockSvc.HubCode()
	committed := make([]models.ImportItem, 0, len(rows))

	for i, input := range rows {
		rowIndex := i + 1
		row, err := ingest.NewRow(input.Article, input.Name, input.Qty)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("row %d: %v", rowIndex, err))
			continue
		}
		productID, created, err := s.commitRow(ctx, row, hub)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("row %d: %v", rowIndex, err))
			continue
		}
		if created {
			result.Stats.Created++
		} else {
			result.Stats.Updated++
		}
		result.Stats.Imported++
		result.ToHub[productID] += row.Qty
		committed = append(committed, models.ImportItem{Article: row.Article, Name: row.Name, Qty: row.Qty})
	}
	s.metrics.AddRowFailures(len(result.Errors))

	if len(committed) == 0 {
		s.metrics.IncCommit("failed")
		return result, apperrors.New(apperrors.CodeValidation, "no rows could be committed").
			WithDetails(result.Errors)
	}

	if path, err := s.writeNormalized(session, committed); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("normalized csv: %v", err))
	} else {
		result.NormalizedCSV = path
	}

	if err := s.appendRecord(ctx, session, committed, result.NormalizedCSV); err != nil {
		if apperrors.IsCode(err, apperrors.CodeDuplicateImport) {
			// A concurrent commit of the same file won the record append
			// after this one already credited the hub. The winner owns the
			// ledger effect, so the loser's credits are taken back.
			s.rollbackCredits(ctx, result.ToHub, hub)
		}
		s.metrics.IncCommit("failed")
		return nil, err
	}
	if err := s.sessions.Delete(ctx, token); err != nil {
		s.logg.Warn(s.logg.WithImportToken(ctx, token), "failed to drop committed session")
	}

	outcome := "ok"
	if len(result.Errors) > 0 {
		outcome = "partial"
	}
	s.metrics.IncCommit(outcome)
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"imported": result.Stats.Imported,
		"created":  result.Stats.Created,
		"updated":  result.Stats.Updated,
		"errors":   len(result.Errors),
	}), "import committed")
	return result, nil
}

// commitRow applies one row atomically: product upsert, hub credit, restock.
func (s *service) commitRow(ctx context.Context, row ingest.Row, hub string) (productID uint, created bool, err error) {
	err = s.client.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.stockRepo.WithTx(tx)

		product, err := repo.GetProductByArticle(ctx, row.Article)
		switch {
		case err == nil:
			if err := repo.BackfillProductName(ctx, product.ID, row.Name); err != nil {
				return err
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			product = &models.Product{Article: row.Article, Name: row.Name, IsNew: true}
			if err := repo.CreateProduct(ctx, product); err != nil {
				if !db.IsUniqueViolation(err) {
					return err
				}
				// Lost a race with a concurrent insert of the same article.
				product, err = repo.GetProductByArticle(ctx, row.Article)
				if err != nil {
					return err
				}
			} else {
				created = true
			}
		default:
			return err
		}

		productID = product.ID
		return s.stockSvc.CreditInTx(ctx, tx, product.ID, hub, row.Qty)
	})
	if err != nil && db.IsBusy(err) {
		err = apperrors.Wrap(apperrors.CodeWriteContention, err, "stock store is busy")
	}
	return productID, created, err
}

// rollbackCredits debits hub credits applied by a commit that lost the
// record-append race. Best effort per product: quantity already moved away
// from the hub stays where it is.
func (s *service) rollbackCredits(ctx context.Context, toHub map[uint]float64, hub string) {
	for productID, qty := range toHub {
		err := s.client.WithTx(ctx, func(tx *gorm.DB) error {
			return s.stockSvc.DebitInTx(ctx, tx, productID, hub, qty)
		})
		if err != nil {
			s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
				"product_id": productID,
				"qty":        qty,
			}), "could not take back duplicate commit credit")
		}
	}
}

func (s *service) appendRecord(ctx context.Context, session *Session, items []models.ImportItem, normalizedCSV string) error {
	payload, err := json.Marshal(items)
	if err != nil {
		return err
	}

	// A reverted record with the same hash is reused: its stock effect was
	// undone, so the fresh commit takes over the hash slot.
	if existing, err := s.repo.FindByHash(ctx, session.SourceHash); err != nil {
		return err
	} else if existing != nil && existing.RevertedAt != nil {
		existing.OriginalName = session.OriginalName
		existing.StoredPath = session.StoredPath
		existing.ImportKind = models.ImportKind(session.Kind)
		existing.ItemsCount = len(items)
		existing.ItemsJSON = payload
		existing.NormalizedCSV = normalizedCSV
		existing.RevertedAt = nil
		return s.repo.Replace(ctx, existing)
	}

	record := &models.ImportRecord{
		SourceHash:    session.SourceHash,
		OriginalName:  session.OriginalName,
		StoredPath:    session.StoredPath,
		ImportKind:    models.ImportKind(session.Kind),
		ItemsCount:    len(items),
		ItemsJSON:     payload,
		NormalizedCSV: normalizedCSV,
	}
	if session.Supplier != "" {
		record.Supplier = &session.Supplier
	}
	if session.Invoice != "" {
		record.Invoice = &session.Invoice
	}
	if err := s.repo.Create(ctx, record); err != nil {
		if db.IsUniqueViolation(err) {
			// A concurrent commit of the same file won the race.
			s.metrics.IncDuplicate()
			return s.guard.Check(ctx, session.SourceHash)
		}
		return err
	}
	return nil
}

// Cancel abandons a pending session; the ledger was never touched, so only
// the stored file and the session key are removed.
func (s *service) Cancel(ctx context.Context, token string) error {
	session, err := s.sessions.Load(ctx, token)
	if err != nil {
		if apperrors.IsCode(err, apperrors.CodeSessionExpired) {
			return nil
		}
		return err
	}
	s.removeStored(ctx, session.StoredPath)
	return s.sessions.Delete(ctx, token)
}

// Revert rolls back the most recent non-reverted import. It refuses without
// mutating anything when any product no longer holds the originally credited
// amount at the hub.
func (s *service) Revert(ctx context.Context) (*RevertResult, error) {
	record, err := s.repo.LatestNonReverted(ctx)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, apperrors.New(apperrors.CodeNotFound, "no import to revert")
	}
	var items []models.ImportItem
	if err := json.Unmarshal(record.ItemsJSON, &items); err != nil {
		return nil, fmt.Errorf("decoding import items: %w", err)
	}

	now := time.Now()
	hub := s.stockSvc.HubCode()
	err = s.client.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.stockRepo.WithTx(tx)

		// Name-keyed accumulation can commit the same article in more
		// than one item, so the required debit is summed per article
		// before any availability check.
		required := make(map[string]float64, len(items))
		var articles []string
		for _, item := range items {
			if _, seen := required[item.Article]; !seen {
				articles = append(articles, item.Article)
			}
			required[item.Article] += item.Qty
		}

		type debit struct {
			productID uint
			qty       float64
		}
		var debits []debit
		var blocked []string
		for _, article := range articles {
			need := required[article]
			product, err := repo.GetProductByArticle(ctx, article)
			if errors.Is(err, gorm.ErrRecordNotFound) {
				blocked = append(blocked, article)
				continue
			}
			if err != nil {
				return err
			}
			entry, err := repo.GetEntry(ctx, product.ID, hub)
			if err != nil {
				return err
			}
			have := 0.0
			if entry != nil {
				have = entry.Qty
			}
			if have < need {
				blocked = append(blocked, article)
				continue
			}
			debits = append(debits, debit{productID: product.ID, qty: need})
		}
		if len(blocked) > 0 {
			return apperrors.New(apperrors.CodeRevertBlocked,
				"stock already redistributed, revert refused").
				WithDetails(map[string]any{"articles": blocked})
		}
		for _, d := range debits {
			if err := s.stockSvc.DebitInTx(ctx, tx, d.productID, hub, d.qty); err != nil {
				return err
			}
		}
		return s.repo.WithTx(tx).MarkReverted(ctx, record.ID, now)
	})
	if err != nil {
		if db.IsBusy(err) {
			return nil, apperrors.Wrap(apperrors.CodeWriteContention, err, "stock store is busy")
		}
		return nil, err
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"record_id": record.ID,
		"items":     len(items),
	}), "import reverted")
	return &RevertResult{
		RecordID:     record.ID,
		OriginalName: record.OriginalName,
		ItemsCount:   len(items),
		RevertedAt:   now,
	}, nil
}

func (s *service) History(ctx context.Context, limit, offset int) ([]models.ImportRecord, int64, error) {
	return s.repo.List(ctx, limit, offset)
}

func (s *service) storeUpload(input PreviewInput) (string, error) {
	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		return "", fmt.Errorf("creating upload dir: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(input.OriginalName))
	storedPath := filepath.Join(s.cfg.UploadDir, uuid.NewString()+ext)
	f, err := os.Create(storedPath)
	if err != nil {
		return "", fmt.Errorf("storing upload: %w", err)
	}
	defer f.Close()

	limit := s.cfg.MaxUploadBytes
	written, err := io.Copy(f, io.LimitReader(input.Content, limit+1))
	if err != nil {
		_ = os.Remove(storedPath)
		return "", fmt.Errorf("storing upload: %w", err)
	}
	if written > limit {
		_ = os.Remove(storedPath)
		return "", apperrors.New(apperrors.CodeValidation,
			fmt.Sprintf("file exceeds the %d byte upload limit", limit))
	}
	return storedPath, nil
}

func (s *service) removeStored(ctx context.Context, path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.logg.Warn(s.logg.WithField(ctx, "path", path), "failed to remove stored upload")
	}
}

func (s *service) writeNormalized(session *Session, items []models.ImportItem) (string, error) {
	rows := make([]ingest.Row, 0, len(items))
	for _, item := range items {
		rows = append(rows, ingest.Row{Article: item.Article, Name: item.Name, Qty: item.Qty})
	}
	base := strings.TrimSuffix(session.OriginalName, filepath.Ext(session.OriginalName))
	return s.extractor.WriteNormalizedCSV(rows, base)
}
