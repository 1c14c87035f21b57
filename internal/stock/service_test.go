package stock

import (
	"context"
	"testing"

	"gorm.io/gorm"

	"github.com/avolkov/stockroom-backend/pkg/config"
	"github.com/avolkov/stockroom-backend/pkg/db/models"
	apperrors "github.com/avolkov/stockroom-backend/pkg/errors"
	"github.com/avolkov/stockroom-backend/pkg/logger"
)

func newTestService(t *testing.T) (Service, *gorm.DB) {
	t.Helper()
	client, conn := newTestClient(t)
	svc, err := NewService(client, NewRepository(conn), config.StockConfig{
		HubCode:  "SKL-0",
		SinkCode: "HALL",
	}, logger.New(logger.Options{ServiceName: "stock-test"}))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, conn
}

func TestAdjustSignedCreditThenDebit(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	product := mustCreateProduct(t, conn, "A-1", "Widget")

	if err := svc.AdjustSigned(ctx, product.ID, "SKL-0", 5); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if got := mustQty(t, conn, product.ID, "SKL-0"); got != 5 {
		t.Fatalf("expected qty 5, got %v", got)
	}

	if err := svc.AdjustSigned(ctx, product.ID, "SKL-0", -5); err != nil {
		t.Fatalf("debit: %v", err)
	}
	if entryExists(t, conn, product.ID, "SKL-0") {
		t.Fatalf("expected depleted entry to be deleted")
	}
}

func TestAdjustSignedMarksRestockAndUnarchives(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	product := mustCreateProduct(t, conn, "A-1", "Widget")
	if err := conn.Model(product).Updates(map[string]any{"archived": true}).Error; err != nil {
		t.Fatalf("archive product: %v", err)
	}

	if err := svc.AdjustSigned(ctx, product.ID, "SKL-0", 3); err != nil {
		t.Fatalf("credit: %v", err)
	}

	var reloaded models.Product
	if err := conn.First(&reloaded, product.ID).Error; err != nil {
		t.Fatalf("reload product: %v", err)
	}
	if reloaded.Archived {
		t.Fatalf("expected product to be un-archived after restock")
	}
	if reloaded.LastRestockAt == nil {
		t.Fatalf("expected last restock timestamp to be set")
	}

	var events []models.StockEvent
	if err := conn.Where("product_id = ?", product.ID).Find(&events).Error; err != nil {
		t.Fatalf("load events: %v", err)
	}
	if len(events) != 1 || events[0].Type != models.StockEventHubCredit || events[0].Delta != 3 {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestSatelliteCreditEmitsNoEvent(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	product := mustCreateProduct(t, conn, "A-1", "Widget")

	if err := svc.AdjustSigned(ctx, product.ID, "SKL-2", 3); err != nil {
		t.Fatalf("credit: %v", err)
	}

	var reloaded models.Product
	if err := conn.First(&reloaded, product.ID).Error; err != nil {
		t.Fatalf("reload product: %v", err)
	}
	if reloaded.LastRestockAt == nil {
		t.Fatalf("expected satellite credit to still count as a restock")
	}

	// The event log drives LastHubCreditAt, so only hub credits belong
	// there.
	var count int64
	if err := conn.Model(&models.StockEvent{}).Where("product_id = ?", product.ID).Count(&count).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no events for satellite credit, got %d", count)
	}
}

func TestAdjustSignedInsufficiency(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	product := mustCreateProduct(t, conn, "A-1", "Widget")

	if err := svc.AdjustSigned(ctx, product.ID, "SKL-1", 4); err != nil {
		t.Fatalf("credit: %v", err)
	}
	err := svc.AdjustSigned(ctx, product.ID, "SKL-1", -10)
	if !apperrors.IsCode(err, apperrors.CodeStockInsufficient) {
		t.Fatalf("expected insufficiency, got %v", err)
	}
	details, ok := apperrors.As(err).Details().(map[string]any)
	if !ok || details["have"] != 4.0 || details["need"] != 10.0 {
		t.Fatalf("unexpected details %v", details)
	}
	if got := mustQty(t, conn, product.ID, "SKL-1"); got != 4 {
		t.Fatalf("expected quantity untouched, got %v", got)
	}
}

func TestTransferConservation(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	product := mustCreateProduct(t, conn, "A-1", "Widget")

	if err := svc.AdjustSigned(ctx, product.ID, "SKL-0", 10); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := svc.Transfer(ctx, product.ID, "SKL-0", "SKL-2", 4); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := mustQty(t, conn, product.ID, "SKL-0"); got != 6 {
		t.Fatalf("expected 6 left at hub, got %v", got)
	}
	if got := mustQty(t, conn, product.ID, "SKL-2"); got != 4 {
		t.Fatalf("expected 4 at destination, got %v", got)
	}
	total, err := svc.TotalStock(ctx, product.ID)
	if err != nil || total != 10 {
		t.Fatalf("expected total preserved at 10, got %v (%v)", total, err)
	}
}

func TestTransferToSinkIsWriteOff(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	product := mustCreateProduct(t, conn, "A-1", "Widget")

	if err := svc.AdjustSigned(ctx, product.ID, "SKL-1", 10); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := svc.Transfer(ctx, product.ID, "SKL-1", "HALL", 6); err != nil {
		t.Fatalf("write-off: %v", err)
	}
	if got := mustQty(t, conn, product.ID, "SKL-1"); got != 4 {
		t.Fatalf("expected 4 left at source, got %v", got)
	}
	if entryExists(t, conn, product.ID, "HALL") {
		t.Fatalf("sink must not hold a stock entry")
	}
}

func TestTransferInsufficiencyNamesAmounts(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	product := mustCreateProduct(t, conn, "A-1", "Widget")

	if err := svc.AdjustSigned(ctx, product.ID, "SHELF-1", 4); err != nil {
		t.Fatalf("credit: %v", err)
	}
	err := svc.Transfer(ctx, product.ID, "SHELF-1", "HALL", 10)
	if !apperrors.IsCode(err, apperrors.CodeStockInsufficient) {
		t.Fatalf("expected insufficiency, got %v", err)
	}
	details := apperrors.As(err).Details().(map[string]any)
	if details["have"] != 4.0 || details["need"] != 10.0 {
		t.Fatalf("unexpected details %v", details)
	}
	if got := mustQty(t, conn, product.ID, "SHELF-1"); got != 4 {
		t.Fatalf("expected source untouched, got %v", got)
	}
}

func TestSetAbsolute(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	product := mustCreateProduct(t, conn, "A-1", "Widget")

	if err := svc.SetAbsolute(ctx, product.ID, "SKL-3", 7); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := mustQty(t, conn, product.ID, "SKL-3"); got != 7 {
		t.Fatalf("expected 7, got %v", got)
	}

	if err := svc.SetAbsolute(ctx, product.ID, "SKL-3", 2.5); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if got := mustQty(t, conn, product.ID, "SKL-3"); got != 2.5 {
		t.Fatalf("expected exact replace to 2.5, got %v", got)
	}

	if err := svc.SetAbsolute(ctx, product.ID, "SKL-3", 0); err != nil {
		t.Fatalf("zero: %v", err)
	}
	if entryExists(t, conn, product.ID, "SKL-3") {
		t.Fatalf("expected zero set to delete the row")
	}

	if err := svc.SetAbsolute(ctx, product.ID, "SKL-3", -1); !apperrors.IsCode(err, apperrors.CodeValidation) {
		t.Fatalf("expected validation error for negative qty, got %v", err)
	}
}

func TestAdjustHubRoutedSplitsAcrossHubAndDirect(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	product := mustCreateProduct(t, conn, "X-1", "Routed")

	if err := svc.AdjustSigned(ctx, product.ID, "SKL-0", 2); err != nil {
		t.Fatalf("seed hub: %v", err)
	}
	if err := svc.AdjustHubRouted(ctx, product.ID, "SHELF-1", 5); err != nil {
		t.Fatalf("hub-routed adjust: %v", err)
	}
	if entryExists(t, conn, product.ID, "SKL-0") {
		t.Fatalf("expected hub drained to zero and deleted")
	}
	if got := mustQty(t, conn, product.ID, "SHELF-1"); got != 5 {
		t.Fatalf("expected 5 at shelf, got %v", got)
	}
}

func TestAdjustHubRoutedNegativeReturnsToHub(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	product := mustCreateProduct(t, conn, "X-1", "Routed")

	if err := svc.AdjustSigned(ctx, product.ID, "SKL-2", 6); err != nil {
		t.Fatalf("seed shelf: %v", err)
	}
	if err := svc.AdjustHubRouted(ctx, product.ID, "SKL-2", -4); err != nil {
		t.Fatalf("hub-routed return: %v", err)
	}
	if got := mustQty(t, conn, product.ID, "SKL-2"); got != 2 {
		t.Fatalf("expected 2 left at shelf, got %v", got)
	}
	if got := mustQty(t, conn, product.ID, "SKL-0"); got != 4 {
		t.Fatalf("expected 4 returned to hub, got %v", got)
	}
}

func TestAdjustHubRoutedOnHubFallsBackToSigned(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	product := mustCreateProduct(t, conn, "X-1", "Routed")

	if err := svc.AdjustHubRouted(ctx, product.ID, "SKL-0", 3); err != nil {
		t.Fatalf("hub adjust: %v", err)
	}
	if got := mustQty(t, conn, product.ID, "SKL-0"); got != 3 {
		t.Fatalf("expected 3 at hub, got %v", got)
	}
}
