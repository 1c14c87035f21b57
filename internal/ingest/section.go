package ingest

import (
	"regexp"
	"strings"
)

// goodsMarker is the flattened form of the free-floating "goods (works,
// services)" caption that invoice layouts put above the goods table.
const goodsMarker = "товарыработыуслуги"

const sectionScanLimit = 2000

var flattenRx = regexp.MustCompile(`[^a-zа-я0-9]+`)

func flattenCell(v string) string {
	s := strings.ToLower(NormCell(v))
	s = strings.ReplaceAll(s, "ё", "е")
	return flattenRx.ReplaceAllString(s, "")
}

var priceHeaders = map[string]bool{
	"цена": true, "price": true, "стоимость": true, "цен": true, "amount": true,
}

// LocateSection scans a raw sheet for the start of the goods section and a
// plausible header row near it. Either index may be -1 when not found: a
// missing header means the caller must fall back to positional inference,
// and (-1, -1) means the sheet carries no recognizable goods table at all.
func LocateSection(cells [][]string) (sectionRow, headerRow int) {
	sectionRow, headerRow = -1, -1
	limit := len(cells)
	if limit > sectionScanLimit {
		limit = sectionScanLimit
	}

	for i := 0; i < limit; i++ {
		for _, v := range cells[i] {
			if strings.Contains(flattenCell(v), goodsMarker) {
				sectionRow = i
				break
			}
		}
		if sectionRow >= 0 {
			break
		}
	}

	if sectionRow < 0 {
		// No marker: accept the first row that looks like a generic invoice
		// header (name + qty plus either a price or an ordinal column).
		for i := 0; i < limit; i++ {
			var hasName, hasQty, hasPrice, hasIndex bool
			for _, v := range cells[i] {
				h := NormHeader(v)
				if h == "" {
					continue
				}
				if strings.Contains(h, "наимен") || strings.Contains(h, "товар") ||
					strings.Contains(h, "product") || strings.Contains(h, "item") {
					hasName = true
				}
				if strings.Contains(h, "кол") || strings.Contains(h, "qty") || strings.Contains(h, "quantity") {
					hasQty = true
				}
				if priceHeaders[h] {
					hasPrice = true
				}
				if strings.HasPrefix(h, "№") || h == "no" || h == "#" || h == "n" {
					hasIndex = true
				}
			}
			if hasName && hasQty && (hasPrice || hasIndex) {
				headerRow = i
				if i > 0 {
					sectionRow = i - 1
				} else {
					sectionRow = i
				}
				return sectionRow, headerRow
			}
		}
		return -1, -1
	}

	for h := sectionRow; h < sectionRow+6 && h < len(cells); h++ {
		if rowHasHeaders(cells[h]) {
			return sectionRow, h
		}
	}
	return sectionRow, -1
}

func rowHasHeaders(row []string) bool {
	var hasName, hasQty bool
	for _, v := range row {
		h := NormHeader(v)
		if h == "" {
			continue
		}
		if nameHeaders[h] || strings.Contains(h, "товар") || strings.Contains(h, "наимен") {
			hasName = true
		}
		if qtyHeaders[h] || strings.HasPrefix(h, "кол-") || strings.Contains(h, "кол") ||
			strings.Contains(h, "мест") || strings.Contains(h, "шт") {
			hasQty = true
		}
	}
	return hasName && hasQty
}
