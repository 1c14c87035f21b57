package ingest

import "strings"

var articleHeaders = map[string]bool{
	"артикул":         true,
	"код":             true,
	"артикул/код":     true,
	"код товара":      true,
	"sku":             true,
	"код/артикул":     true,
	"артикул товара":  true,
}

var nameHeaders = map[string]bool{
	"наименование":            true,
	"товар":                   true,
	"название":                true,
	"описание":                true,
	"product":                 true,
	"item":                    true,
	"наименование товара":     true,
	"товары (работы, услуги)": true,
	"товары (работы,услуги)":  true,
	"товары(работы,услуги)":   true,
	"товары(работы, услуги)":  true,
	"товар/услуга":            true,
}

var qtyHeaders = map[string]bool{
	"кол-во":          true,
	"количество":      true,
	"кол-во пачек":    true,
	"кол-во мест":     true,
	"мест":            true,
	"количество, шт":  true,
	"количество (шт)": true,
	"qty":             true,
	"quantity":        true,
	"qty, pcs":        true,
}

// ColumnMap names the columns carrying article, name and quantity.
// Article may be -1 when the code must be split off the name string.
type ColumnMap struct {
	Article int
	Name    int
	Qty     int
}

// columnStrategy is one heuristic in the ordered detection chain.
type columnStrategy interface {
	detect(header []string, data [][]string) (ColumnMap, bool)
}

// DetectColumns runs the strategy chain: header synonyms first, then
// positional inference over the data block. Header may be nil.
func DetectColumns(header []string, data [][]string) (ColumnMap, bool) {
	strategies := []columnStrategy{
		headerSynonyms{},
		positionalInference{},
	}
	for _, s := range strategies {
		if cm, ok := s.detect(header, data); ok {
			return cm, true
		}
	}
	return ColumnMap{}, false
}

// headerSynonyms matches header cells against known column-name synonym sets.
type headerSynonyms struct{}

func (headerSynonyms) detect(header []string, _ [][]string) (ColumnMap, bool) {
	if header == nil {
		return ColumnMap{}, false
	}
	cm := ColumnMap{Article: -1, Name: -1, Qty: -1}
	for j, v := range header {
		h := NormHeader(v)
		if h == "" {
			continue
		}
		if cm.Article < 0 && articleHeaders[h] {
			cm.Article = j
		}
		if cm.Name < 0 && (nameHeaders[h] || strings.Contains(h, "товар")) {
			cm.Name = j
		}
		if cm.Qty < 0 && (qtyHeaders[h] || strings.HasPrefix(h, "кол-") ||
			strings.Contains(h, "кол") || strings.Contains(h, "шт")) {
			cm.Qty = j
		}
	}
	if cm.Name < 0 || cm.Qty < 0 {
		return ColumnMap{}, false
	}
	return cm, true
}

const inferenceSample = 50

// positionalInference scores adjacent column pairs by how many sampled cells
// in the right column parse as quantities, then probes the column left of the
// winner for article-shaped values.
type positionalInference struct{}

func (positionalInference) detect(_ []string, data [][]string) (ColumnMap, bool) {
	if len(data) == 0 {
		return ColumnMap{}, false
	}
	sample := len(data)
	if sample > inferenceSample {
		sample = inferenceSample
	}
	ncols := 0
	for _, row := range data[:sample] {
		if len(row) > ncols {
			ncols = len(row)
		}
	}
	bestScore, bestName := 0, -1
	for j := 0; j < ncols-1; j++ {
		score := 0
		for i := 0; i < sample; i++ {
			if _, ok := ParseQuantity(cellAt(data[i], j+1)); ok {
				score++
			}
		}
		if score > bestScore {
			bestScore, bestName = score, j
		}
	}
	if bestScore <= 0 {
		return ColumnMap{}, false
	}
	cm := ColumnMap{Article: -1, Name: bestName, Qty: bestName + 1}
	if bestName > 0 {
		articleLike, nonEmpty := 0, 0
		for i := 0; i < sample; i++ {
			raw := NormCell(cellAt(data[i], bestName-1))
			if raw == "" {
				continue
			}
			nonEmpty++
			if LooksLikeArticle(raw) {
				articleLike++
			}
		}
		if nonEmpty > 0 && float64(articleLike)/float64(nonEmpty) >= 0.5 {
			cm.Article = bestName - 1
		}
	}
	return cm, true
}

func cellAt(row []string, j int) string {
	if j < 0 || j >= len(row) {
		return ""
	}
	return row[j]
}
