package imports

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/avolkov/stockroom-backend/internal/ingest"
	"github.com/avolkov/stockroom-backend/internal/stock"
	"github.com/avolkov/stockroom-backend/pkg/config"
	dbpkg "github.com/avolkov/stockroom-backend/pkg/db"
	"github.com/avolkov/stockroom-backend/pkg/db/models"
	apperrors "github.com/avolkov/stockroom-backend/pkg/errors"
	"github.com/avolkov/stockroom-backend/pkg/logger"
	"github.com/avolkov/stockroom-backend/pkg/metrics"
	"github.com/avolkov/stockroom-backend/pkg/redis"
)

var testDBCounter atomic.Int64

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:imports_test_%d?mode=memory&cache=shared", testDBCounter.Add(1))
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

// memorySessions is an in-memory stand-in for the Redis session store.
type memorySessions struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemorySessions() *memorySessions {
	return &memorySessions{data: map[string]string{}}
}

func (m *memorySessions) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", redis.ErrNotFound
	}
	return v, nil
}

func (m *memorySessions) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = fmt.Sprint(value)
	return nil
}

func (m *memorySessions) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.data, key)
	}
	return nil
}

func (m *memorySessions) SessionKey(token string) string {
	return "stockroom:pending_import:" + token
}

type testPipeline struct {
	svc   Service
	conn  *gorm.DB
	stock stock.Service
}

func newTestPipeline(t *testing.T) *testPipeline {
	t.Helper()
	conn := openTestDB(t)
	client := dbpkg.NewWithConn(conn, "sqlite")
	logg := logger.New(logger.Options{ServiceName: "imports-test"})

	stockRepo := stock.NewRepository(conn)
	stockSvc, err := stock.NewService(client, stockRepo, config.StockConfig{
		HubCode:  "SKL-0",
		SinkCode: "HALL",
	}, logg)
	if err != nil {
		t.Fatalf("stock service: %v", err)
	}

	importsCfg := config.ImportsConfig{
		UploadDir:         t.TempDir(),
		NormalizedDir:     t.TempDir(),
		AllowedExtensions: []string{"csv", "xls", "xlsx", "xlsm", "xltx", "xltm"},
		MaxUploadBytes:    1 << 20,
		SessionTTL:        time.Minute,
		PreviewMaxRows:    200,
		PreviewMaxCols:    12,
	}
	pipeMetrics := metrics.NewPipelineMetrics(nil)
	svc, err := NewService(
		client,
		NewRepository(conn),
		stockRepo,
		stockSvc,
		NewSessionStore(newMemorySessions(), importsCfg.SessionTTL),
		ingest.NewExtractor(importsCfg, logg, pipeMetrics),
		importsCfg,
		logg,
		pipeMetrics,
	)
	if err != nil {
		t.Fatalf("imports service: %v", err)
	}
	return &testPipeline{svc: svc, conn: conn, stock: stockSvc}
}

func (p *testPipeline) hubQty(t *testing.T, article string) float64 {
	t.Helper()
	var product models.Product
	if err := p.conn.First(&product, "article = ?", article).Error; err != nil {
		t.Fatalf("load product %s: %v", article, err)
	}
	var entry models.StockEntry
	err := p.conn.First(&entry, "product_id = ? AND location_code = ?", product.ID, "SKL-0").Error
	if err == gorm.ErrRecordNotFound {
		return 0
	}
	if err != nil {
		t.Fatalf("load entry: %v", err)
	}
	return entry.Qty
}

const sampleCSV = "Артикул,Наименование,Кол-во\n" +
	"A-1,Widget,3\n" +
	"A-1,Widget,2\n" +
	"B-2,Gadget,4\n"

func (p *testPipeline) preview(t *testing.T, name, content string) *PreviewOutput {
	t.Helper()
	out, err := p.svc.Preview(context.Background(), PreviewInput{
		OriginalName: name,
		Content:      strings.NewReader(content),
	})
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	return out
}

func TestPreviewCommitFlow(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	out := p.preview(t, "supply.csv", sampleCSV)
	if len(out.Rows) != 2 {
		t.Fatalf("expected accumulated rows, got %+v", out.Rows)
	}

	result, err := p.svc.Commit(ctx, out.Token, nil)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if result.Stats.Imported != 2 || result.Stats.Created != 2 || result.Stats.Updated != 0 {
		t.Fatalf("unexpected stats %+v", result.Stats)
	}
	if got := p.hubQty(t, "A-1"); got != 5 {
		t.Fatalf("expected A-1 credited with 5, got %v", got)
	}
	if got := p.hubQty(t, "B-2"); got != 4 {
		t.Fatalf("expected B-2 credited with 4, got %v", got)
	}
	if result.NormalizedCSV == "" {
		t.Fatalf("expected normalized csv artifact path")
	}

	var record models.ImportRecord
	if err := p.conn.First(&record).Error; err != nil {
		t.Fatalf("load import record: %v", err)
	}
	if record.ItemsCount != 2 || record.RevertedAt != nil {
		t.Fatalf("unexpected record %+v", record)
	}

	// The committed session is gone.
	if _, err := p.svc.Commit(ctx, out.Token, nil); !apperrors.IsCode(err, apperrors.CodeSessionExpired) {
		t.Fatalf("expected expired session, got %v", err)
	}
}

func TestCommitHonorsEditedRows(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	out := p.preview(t, "supply.csv", sampleCSV)
	result, err := p.svc.Commit(ctx, out.Token, []RowInput{
		{Article: "A-1", Name: "Widget", Qty: 10},
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if result.Stats.Imported != 1 {
		t.Fatalf("unexpected stats %+v", result.Stats)
	}
	if got := p.hubQty(t, "A-1"); got != 10 {
		t.Fatalf("expected edited quantity 10, got %v", got)
	}
	var count int64
	if err := p.conn.Model(&models.Product{}).Count(&count).Error; err != nil {
		t.Fatalf("count products: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected only the edited row committed, got %d products", count)
	}
}

func TestCommitRecordsRowErrorsAndContinues(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	out := p.preview(t, "supply.csv", sampleCSV)
	result, err := p.svc.Commit(ctx, out.Token, []RowInput{
		{Article: "", Name: "Broken", Qty: 1},
		{Article: "C-3", Name: "Sprocket", Qty: 2},
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if result.Stats.Imported != 1 {
		t.Fatalf("expected one row imported, got %+v", result.Stats)
	}
	if len(result.Errors) != 1 || !strings.HasPrefix(result.Errors[0], "row 1:") {
		t.Fatalf("expected 1-based row error, got %v", result.Errors)
	}
	if got := p.hubQty(t, "C-3"); got != 2 {
		t.Fatalf("expected valid row applied, got %v", got)
	}
}

func TestDuplicateImportRejectedIdempotently(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	out := p.preview(t, "supply.csv", sampleCSV)
	if _, err := p.svc.Commit(ctx, out.Token, nil); err != nil {
		t.Fatalf("first commit: %v", err)
	}
	before := p.hubQty(t, "A-1")

	_, err := p.svc.Preview(ctx, PreviewInput{
		OriginalName: "supply-copy.csv",
		Content:      strings.NewReader(sampleCSV),
	})
	if !apperrors.IsCode(err, apperrors.CodeDuplicateImport) {
		t.Fatalf("expected duplicate conflict, got %v", err)
	}
	info, ok := apperrors.As(err).Details().(DuplicateInfo)
	if !ok || info.OriginalName != "supply.csv" {
		t.Fatalf("expected prior import metadata, got %v", apperrors.As(err).Details())
	}
	if got := p.hubQty(t, "A-1"); got != before {
		t.Fatalf("ledger changed by rejected attempt: %v -> %v", before, got)
	}
}

func TestDuplicateRaceLoserCreditsTakenBack(t *testing.T) {
	p := newTestPipeline(t)
	svc := p.svc.(*service)
	ctx := context.Background()

	// The losing commit already credited the hub row by row.
	row, err := ingest.NewRow("A-1", "Widget", 5)
	if err != nil {
		t.Fatalf("build row: %v", err)
	}
	productID, _, err := svc.commitRow(ctx, row, "SKL-0")
	if err != nil {
		t.Fatalf("commit row: %v", err)
	}
	if got := p.hubQty(t, "A-1"); got != 5 {
		t.Fatalf("expected hub qty 5, got %v", got)
	}

	// A concurrent commit of the same file lands its record first.
	winner := &models.ImportRecord{
		SourceHash:   "race-hash",
		OriginalName: "supply.csv",
		ImportKind:   models.ImportKindCSV,
		ItemsCount:   1,
	}
	if err := NewRepository(p.conn).Create(ctx, winner); err != nil {
		t.Fatalf("insert winning record: %v", err)
	}

	session := &Session{
		SourceHash:   "race-hash",
		OriginalName: "supply.csv",
		Kind:         ingest.KindCSV,
	}
	items := []models.ImportItem{{Article: "A-1", Name: "Widget", Qty: 5}}
	err = svc.appendRecord(ctx, session, items, "")
	if !apperrors.IsCode(err, apperrors.CodeDuplicateImport) {
		t.Fatalf("expected duplicate conflict, got %v", err)
	}

	svc.rollbackCredits(ctx, map[uint]float64{productID: 5}, "SKL-0")
	if got := p.hubQty(t, "A-1"); got != 0 {
		t.Fatalf("expected loser credit taken back, hub holds %v", got)
	}
}

func TestRevertDebitsHubAndMarksRecord(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	out := p.preview(t, "supply.csv", sampleCSV)
	if _, err := p.svc.Commit(ctx, out.Token, nil); err != nil {
		t.Fatalf("commit: %v", err)
	}

	result, err := p.svc.Revert(ctx)
	if err != nil {
		t.Fatalf("revert: %v", err)
	}
	if result.ItemsCount != 2 {
		t.Fatalf("unexpected revert result %+v", result)
	}
	if got := p.hubQty(t, "A-1"); got != 0 {
		t.Fatalf("expected A-1 debited back to 0, got %v", got)
	}

	var record models.ImportRecord
	if err := p.conn.First(&record).Error; err != nil {
		t.Fatalf("load record: %v", err)
	}
	if record.RevertedAt == nil {
		t.Fatalf("expected record marked reverted")
	}

	if _, err := p.svc.Revert(ctx); !apperrors.IsCode(err, apperrors.CodeNotFound) {
		t.Fatalf("expected nothing left to revert, got %v", err)
	}
}

func TestRevertBlockedWhenStockMoved(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	out := p.preview(t, "supply.csv", sampleCSV)
	if _, err := p.svc.Commit(ctx, out.Token, nil); err != nil {
		t.Fatalf("commit: %v", err)
	}

	var product models.Product
	if err := p.conn.First(&product, "article = ?", "A-1").Error; err != nil {
		t.Fatalf("load product: %v", err)
	}
	if err := p.stock.Transfer(ctx, product.ID, "SKL-0", "SKL-2", 3); err != nil {
		t.Fatalf("move stock: %v", err)
	}
	before := p.hubQty(t, "B-2")

	_, err := p.svc.Revert(ctx)
	if !apperrors.IsCode(err, apperrors.CodeRevertBlocked) {
		t.Fatalf("expected revert blocked, got %v", err)
	}
	details := apperrors.As(err).Details().(map[string]any)
	articles, _ := details["articles"].([]string)
	if len(articles) != 1 || articles[0] != "A-1" {
		t.Fatalf("expected A-1 listed as blocking, got %v", details)
	}
	if got := p.hubQty(t, "B-2"); got != before {
		t.Fatalf("revert mutated stock despite refusal: %v -> %v", before, got)
	}
}

func TestRevertAggregatesDuplicateArticleItems(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	out := p.preview(t, "supply.csv", sampleCSV)
	// Two distinct names sharing one article commit as two items that
	// together credit the hub with 7.
	rows := []RowInput{
		{Article: "A-1", Name: "Widget", Qty: 3},
		{Article: "A-1", Name: "Widget Large", Qty: 4},
	}
	if _, err := p.svc.Commit(ctx, out.Token, rows); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if got := p.hubQty(t, "A-1"); got != 7 {
		t.Fatalf("expected hub qty 7 after commit, got %v", got)
	}

	var product models.Product
	if err := p.conn.First(&product, "article = ?", "A-1").Error; err != nil {
		t.Fatalf("load product: %v", err)
	}
	// Hub drops to 5: each item alone still fits, the 7 required for the
	// full revert does not.
	if err := p.stock.Transfer(ctx, product.ID, "SKL-0", "SKL-2", 2); err != nil {
		t.Fatalf("move stock: %v", err)
	}

	_, err := p.svc.Revert(ctx)
	if !apperrors.IsCode(err, apperrors.CodeRevertBlocked) {
		t.Fatalf("expected revert blocked, got %v", err)
	}
	details := apperrors.As(err).Details().(map[string]any)
	articles, _ := details["articles"].([]string)
	if len(articles) != 1 || articles[0] != "A-1" {
		t.Fatalf("expected A-1 listed once as blocking, got %v", details)
	}
	if got := p.hubQty(t, "A-1"); got != 5 {
		t.Fatalf("revert mutated stock despite refusal: %v", got)
	}

	// Once the hub holds enough for the aggregate again, revert debits
	// the full 7 in one go.
	if err := p.stock.Transfer(ctx, product.ID, "SKL-2", "SKL-0", 2); err != nil {
		t.Fatalf("return stock: %v", err)
	}
	if _, err := p.svc.Revert(ctx); err != nil {
		t.Fatalf("revert after restore: %v", err)
	}
	if got := p.hubQty(t, "A-1"); got != 0 {
		t.Fatalf("expected hub emptied by revert, got %v", got)
	}
}

func TestRevertAllowedAfterReimportOfSameFile(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	out := p.preview(t, "supply.csv", sampleCSV)
	if _, err := p.svc.Commit(ctx, out.Token, nil); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := p.svc.Revert(ctx); err != nil {
		t.Fatalf("revert: %v", err)
	}

	// A reverted hash no longer blocks re-import: the record is reused.
	out2 := p.preview(t, "supply.csv", sampleCSV)
	if _, err := p.svc.Commit(ctx, out2.Token, nil); err != nil {
		t.Fatalf("re-import after revert: %v", err)
	}
	if got := p.hubQty(t, "A-1"); got != 5 {
		t.Fatalf("expected re-import to credit hub again, got %v", got)
	}
	var record models.ImportRecord
	if err := p.conn.First(&record, "source_hash IS NOT NULL").Error; err != nil {
		t.Fatalf("load record: %v", err)
	}
	if record.RevertedAt != nil {
		t.Fatalf("expected reused record to be un-reverted")
	}
	var count int64
	if err := p.conn.Model(&models.ImportRecord{}).Count(&count).Error; err != nil {
		t.Fatalf("count records: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected the reverted record reused, found %d records", count)
	}
}

func TestCancelDropsSessionWithoutLedgerEffect(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	out := p.preview(t, "supply.csv", sampleCSV)
	if err := p.svc.Cancel(ctx, out.Token); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	var count int64
	if err := p.conn.Model(&models.Product{}).Count(&count).Error; err != nil {
		t.Fatalf("count products: %v", err)
	}
	if count != 0 {
		t.Fatalf("cancel must not touch the ledger, found %d products", count)
	}
	// Cancelling twice is a no-op.
	if err := p.svc.Cancel(ctx, out.Token); err != nil {
		t.Fatalf("second cancel: %v", err)
	}
}

func TestHistoryListsNewestFirst(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	out := p.preview(t, "supply.csv", sampleCSV)
	if _, err := p.svc.Commit(ctx, out.Token, nil); err != nil {
		t.Fatalf("commit: %v", err)
	}
	records, total, err := p.svc.History(ctx, 10, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if total != 1 || len(records) != 1 {
		t.Fatalf("unexpected history %d/%d", total, len(records))
	}
	if records[0].OriginalName != "supply.csv" {
		t.Fatalf("unexpected record %+v", records[0])
	}
}
