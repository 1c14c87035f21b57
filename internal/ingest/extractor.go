package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/avolkov/stockroom-backend/pkg/config"
	apperrors "github.com/avolkov/stockroom-backend/pkg/errors"
	"github.com/avolkov/stockroom-backend/pkg/logger"
	"github.com/avolkov/stockroom-backend/pkg/metrics"
)

// Document kinds reported in extraction results and import history.
const (
	KindExcel = "excel"
	KindCSV   = "csv"
)

const (
	blankStreakLimit = 10
	metaScanLimit    = 120
)

var safeBaseRx = regexp.MustCompile(`[^A-Za-zА-Яа-я0-9_.\-]+`)

// Result is the outcome of one extraction pass. Preview is populated even
// when no rows survived, so the caller can show the human what was seen.
type Result struct {
	Kind     string   `json:"kind"`
	Rows     []Row    `json:"rows"`
	Preview  *Preview `json:"preview,omitempty"`
	Supplier string   `json:"supplier,omitempty"`
	Invoice  string   `json:"invoice,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}

// Extractor turns uploaded supply documents into normalized rows.
type Extractor struct {
	cfg     config.ImportsConfig
	logg    *logger.Logger
	metrics *metrics.PipelineMetrics
}

// NewExtractor wires an extractor with upload limits and pipeline metrics.
func NewExtractor(cfg config.ImportsConfig, logg *logger.Logger, m *metrics.PipelineMetrics) *Extractor {
	return &Extractor{cfg: cfg, logg: logg, metrics: m}
}

// ExtractFile dispatches on the file extension. Legacy .xls workbooks are on
// the upload allow-list but cannot be parsed; the user is asked to re-save.
func (e *Extractor) ExtractFile(ctx context.Context, path string) (*Result, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".csv":
		return e.ExtractCSV(ctx, path)
	case ".xlsx", ".xlsm", ".xltx", ".xltm":
		return e.ExtractExcel(ctx, path)
	case ".xls":
		return nil, apperrors.New(apperrors.CodeValidation,
			"legacy .xls is not supported, re-save the file as .xlsx or .csv")
	default:
		return nil, apperrors.New(apperrors.CodeValidation,
			fmt.Sprintf("unsupported file extension %q", ext))
	}
}

// ExtractExcel walks every sheet, locates the goods section on each and
// extracts rows from the first sheet that yields a non-empty block. Supplier
// and invoice text is mined from all sheets.
func (e *Extractor) ExtractExcel(ctx context.Context, path string) (*Result, error) {
	started := time.Now()
	result := &Result{Kind: KindExcel}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeExtractionFailed, err, "opening workbook")
	}
	defer f.Close()

	for _, sheet := range f.GetSheetList() {
		cells, err := f.GetRows(sheet)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("sheet %q: %v", sheet, err))
			continue
		}
		mineSheetMeta(cells, result)

		secRow, hdrRow := LocateSection(cells)
		if secRow < 0 {
			continue
		}
		startData := secRow + 1
		if hdrRow >= 0 {
			startData = hdrRow + 1
		}
		if startData >= len(cells) {
			continue
		}
		block := cells[startData:]
		if blockEmpty(block) {
			continue
		}

		var header []string
		if hdrRow >= 0 {
			header = cells[hdrRow]
		}
		result.Preview = BuildPreview(block, header, e.cfg.PreviewMaxRows, e.cfg.PreviewMaxCols)
		result.Preview.Sheet = sheet
		if hdrRow >= 0 {
			h := hdrRow
			result.Preview.HeaderRow = &h
		}
		sd := startData
		result.Preview.StartRow = &sd

		cm, ok := DetectColumns(header, block)
		if !ok {
			result.Errors = append(result.Errors, fmt.Sprintf("sheet %q: could not detect columns", sheet))
			break
		}
		result.Rows = extractRows(block, cm)
		break
	}

	e.metrics.ObserveExtract(KindExcel, time.Since(started))
	e.metrics.AddRowsExtracted(KindExcel, len(result.Rows))
	e.logg.Info(e.logg.WithFields(ctx, map[string]any{
		"rows": len(result.Rows),
		"file": filepath.Base(path),
	}), "excel extraction finished")

	if len(result.Rows) == 0 {
		return result, apperrors.New(apperrors.CodeExtractionFailed,
			"no product rows found in the workbook")
	}
	return result, nil
}

// ExtractCSV reads a CSV export, accepting either comma or semicolon
// delimiters, and runs the same column-detection chain over it.
func (e *Extractor) ExtractCSV(ctx context.Context, path string) (*Result, error) {
	started := time.Now()
	result := &Result{Kind: KindCSV}

	records, err := readDelimited(path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeExtractionFailed, err, "reading csv")
	}
	if len(records) == 0 {
		result.Preview = BuildPreview(nil, nil, e.cfg.PreviewMaxRows, e.cfg.PreviewMaxCols)
		return result, apperrors.New(apperrors.CodeExtractionFailed, "csv file is empty")
	}

	var header []string
	data := records
	if cm, ok := (headerSynonyms{}).detect(records[0], nil); ok && cm.Name >= 0 {
		header = records[0]
		data = records[1:]
	}
	result.Preview = BuildPreview(data, header, e.cfg.PreviewMaxRows, e.cfg.PreviewMaxCols)

	cm, ok := DetectColumns(header, data)
	if !ok {
		e.metrics.ObserveExtract(KindCSV, time.Since(started))
		return result, apperrors.New(apperrors.CodeExtractionFailed,
			"could not detect article/name/quantity columns")
	}
	result.Rows = extractRows(data, cm)

	e.metrics.ObserveExtract(KindCSV, time.Since(started))
	e.metrics.AddRowsExtracted(KindCSV, len(result.Rows))
	e.logg.Info(e.logg.WithFields(ctx, map[string]any{
		"rows": len(result.Rows),
		"file": filepath.Base(path),
	}), "csv extraction finished")

	if len(result.Rows) == 0 {
		return result, apperrors.New(apperrors.CodeExtractionFailed,
			"no product rows found in the csv")
	}
	return result, nil
}

// extractRows walks a data block with known columns, applying the acceptance
// rules and accumulating quantities by normalized name.
func extractRows(data [][]string, cm ColumnMap) []Row {
	acc := newAccumulator()
	blankStreak := 0
	for _, row := range data {
		rawName := NormCell(cellAt(row, cm.Name))
		if rawName == "" {
			blankStreak++
			if blankStreak >= blankStreakLimit {
				break
			}
			continue
		}
		blankStreak = 0
		if IsTotalLine(rawName) {
			break
		}
		if IsServiceLine(rawName) {
			continue
		}
		qty, ok := ParseQuantity(cellAt(row, cm.Qty))
		if !ok || qty <= 0 {
			continue
		}
		article := ""
		if cm.Article >= 0 {
			article = NormCell(cellAt(row, cm.Article))
		}
		if !LooksLikeArticle(article) {
			if art, rest, split := SplitLeadingArticle(rawName); split {
				article, rawName = art, rest
			}
		}
		name, _ := CleanName(rawName)
		r, err := NewRow(article, name, qty)
		if err != nil {
			continue
		}
		acc.add(r)
	}
	return acc.rows()
}

// accumulator merges rows by normalized name: the first-seen article stays
// primary, later distinct articles become aliases, quantities sum.
type accumulator struct {
	byName map[string]*Row
	order  []string
}

func newAccumulator() *accumulator {
	return &accumulator{byName: map[string]*Row{}}
}

func (a *accumulator) add(r Row) {
	key := strings.ToLower(r.Name)
	existing, ok := a.byName[key]
	if !ok {
		a.order = append(a.order, key)
		a.byName[key] = &r
		return
	}
	existing.Qty += r.Qty
	if r.Article != existing.Article {
		for _, alias := range existing.Aliases {
			if alias == r.Article {
				return
			}
		}
		existing.Aliases = append(existing.Aliases, r.Article)
	}
}

func (a *accumulator) rows() []Row {
	out := make([]Row, 0, len(a.order))
	for _, key := range a.order {
		out = append(out, *a.byName[key])
	}
	return out
}

// mineSheetMeta scans the top of a sheet for free-floating supplier and
// invoice text; first find wins across sheets.
func mineSheetMeta(cells [][]string, result *Result) {
	limit := len(cells)
	if limit > metaScanLimit {
		limit = metaScanLimit
	}
	for i := 0; i < limit; i++ {
		normalized := make([]string, len(cells[i]))
		for j, v := range cells[i] {
			normalized[j] = NormCell(v)
		}
		for _, text := range normalized {
			if text == "" {
				continue
			}
			low := strings.ToLower(text)
			if result.Invoice == "" && strings.Contains(low, "счет на оплату") && strings.Contains(text, "№") {
				result.Invoice = text
			}
		}
		if result.Supplier != "" {
			continue
		}
		idx := -1
		for j, text := range normalized {
			if strings.Contains(strings.ToLower(text), "поставщик") {
				idx = j
				break
			}
		}
		if idx < 0 {
			continue
		}
		for _, text := range normalized[idx+1:] {
			if text != "" && !strings.Contains(strings.ToLower(text), "поставщик") {
				result.Supplier = text
				break
			}
		}
		if result.Supplier == "" && i+1 < limit {
			for _, v := range cells[i+1] {
				if text := NormCell(v); text != "" {
					result.Supplier = text
					break
				}
			}
		}
	}
}

func blockEmpty(block [][]string) bool {
	for _, row := range block {
		for _, v := range row {
			if NormCell(v) != "" {
				return false
			}
		}
	}
	return true
}

func readDelimited(path string) ([][]string, error) {
	read := func(comma rune) ([][]string, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r := csv.NewReader(f)
		r.Comma = comma
		r.FieldsPerRecord = -1
		r.LazyQuotes = true
		return r.ReadAll()
	}
	records, err := read(',')
	if err != nil {
		return read(';')
	}
	// Single-column output usually means the wrong delimiter.
	if len(records) > 0 && len(records[0]) < 2 {
		if alt, altErr := read(';'); altErr == nil && len(alt) > 0 && len(alt[0]) >= 2 {
			return alt, nil
		}
	}
	return records, nil
}

// WriteNormalizedCSV persists the interchange artifact: a three-column CSV
// with the header article,name,qty.
func (e *Extractor) WriteNormalizedCSV(rows []Row, baseName string) (string, error) {
	if err := os.MkdirAll(e.cfg.NormalizedDir, 0o755); err != nil {
		return "", fmt.Errorf("creating normalized dir: %w", err)
	}
	safe := safeBaseRx.ReplaceAllString(baseName, "_")
	outPath := filepath.Join(e.cfg.NormalizedDir, safe+".csv")
	f, err := os.Create(outPath)
	if err != nil {
		return "", fmt.Errorf("creating normalized csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"article", "name", "qty"}); err != nil {
		return "", err
	}
	for _, r := range rows {
		if err := w.Write([]string{r.Article, r.Name, formatQty(r.Qty)}); err != nil {
			return "", err
		}
	}
	w.Flush()
	return outPath, w.Error()
}

// ParseNormalizedCSV reads the interchange format back. The header must be
// exactly article,name,qty (case-insensitive); malformed data rows are
// skipped the same way the committer skips them.
func ParseNormalizedCSV(r io.Reader) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading normalized csv: %w", err)
	}
	if len(records) == 0 {
		return nil, apperrors.New(apperrors.CodeValidation, "normalized csv is empty")
	}
	if !isNormalizedHeader(records[0]) {
		return nil, apperrors.New(apperrors.CodeValidation,
			"normalized csv must have the header article,name,qty")
	}
	var rows []Row
	for _, rec := range records[1:] {
		if len(rec) < 3 {
			continue
		}
		qty, ok := ParseQuantity(rec[2])
		if !ok {
			continue
		}
		row, err := NewRow(rec[0], rec[1], qty)
		if err != nil {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func isNormalizedHeader(header []string) bool {
	if len(header) != 3 {
		return false
	}
	want := []string{"article", "name", "qty"}
	seen := map[string]bool{}
	for _, v := range header {
		seen[strings.ToLower(strings.TrimSpace(v))] = true
	}
	for _, w := range want {
		if !seen[w] {
			return false
		}
	}
	return true
}

func formatQty(q float64) string {
	s := fmt.Sprintf("%.6f", q)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}
