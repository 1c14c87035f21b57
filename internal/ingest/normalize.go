package ingest

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	// Leading "article + rest" split for names that carry the code inline.
	leadingArticleRx = regexp.MustCompile(`^\s*([A-Za-zА-Яа-я0-9\-\._/]+)\s+(.+)$`)
	// Pack-size tokens like "10 кг * 4" or "500 г x 12".
	packSizeRx   = regexp.MustCompile(`(?i)(\d+\s*(?:кг|гр|г)\s*[*xх]\s*\d+)`)
	articleRx    = regexp.MustCompile(`^[A-Za-zА-Яа-я0-9\-_/\. ]{2,}$`)
	digitRx      = regexp.MustCompile(`\d`)
	letterRx     = regexp.MustCompile(`[A-Za-zА-Яа-я]`)
	whitespaceRx = regexp.MustCompile(`\s+`)
)

// Freight, service and fee lines that show up inside goods tables but are not
// merchandise. Matched as substrings of the lowered name.
var serviceKeywords = []string{
	"транспорт",
	"услуг",
	"логист",
	"достав",
	"экспед",
	"погруз",
	"разгруз",
	"комисс",
	"банк",
	"перевоз",
}

var totalKeywords = []string{"итог", "всего"}

// Row is a validated (article, name, quantity) triple produced by extraction.
// Aliases holds additional article codes seen for the same normalized name.
type Row struct {
	Article string   `json:"article"`
	Name    string   `json:"name"`
	Qty     float64  `json:"qty"`
	Aliases []string `json:"aliases,omitempty"`
}

// NewRow validates the triple against the acceptance rules and returns a Row.
func NewRow(article, name string, qty float64) (Row, error) {
	article = strings.TrimSpace(article)
	name = strings.TrimSpace(name)
	if !LooksLikeArticle(article) {
		return Row{}, fmt.Errorf("invalid article %q", article)
	}
	if name == "" || !letterRx.MatchString(name) {
		return Row{}, fmt.Errorf("invalid name %q", name)
	}
	if qty <= 0 || math.IsNaN(qty) || math.IsInf(qty, 0) {
		return Row{}, fmt.Errorf("invalid quantity %v", qty)
	}
	return Row{Article: article, Name: name, Qty: qty}, nil
}

// NormCell flattens newlines and collapses whitespace in a raw cell value.
func NormCell(v string) string {
	s := strings.NewReplacer("\r", " ", "\n", " ").Replace(v)
	return strings.TrimSpace(whitespaceRx.ReplaceAllString(s, " "))
}

// NormHeader lowers and collapses a header cell for synonym matching.
func NormHeader(v string) string {
	return strings.ToLower(NormCell(v))
}

// CleanName splits an optional trailing brand/country after the first slash,
// strips pack-size tokens and trims separator runoff.
func CleanName(raw string) (name string, brand string) {
	s := strings.TrimSpace(raw)
	if idx := strings.Index(s, "/"); idx >= 0 {
		brand = strings.TrimSpace(s[idx+1:])
		s = strings.TrimSpace(s[:idx])
	}
	s = packSizeRx.ReplaceAllString(s, "")
	s = whitespaceRx.ReplaceAllString(s, " ")
	s = strings.Trim(s, " -–—\t")
	return s, brand
}

// LooksLikeArticle reports whether a token has the shape of an article code:
// at least one digit, only letters/digits/"-_/. " and length >= 2.
func LooksLikeArticle(token string) bool {
	t := NormCell(token)
	if t == "" {
		return false
	}
	if !digitRx.MatchString(t) {
		return false
	}
	return articleRx.MatchString(t)
}

// SplitLeadingArticle tries to peel an article code off the front of a name.
func SplitLeadingArticle(raw string) (article, rest string, ok bool) {
	m := leadingArticleRx.FindStringSubmatch(raw)
	if m == nil {
		return "", raw, false
	}
	return m[1], m[2], true
}

// ParseQuantity parses a locale-tolerant decimal: internal spaces removed,
// comma accepted as the decimal separator. Non-finite values are rejected.
func ParseQuantity(v string) (float64, bool) {
	s := strings.TrimSpace(v)
	if s == "" {
		return 0, false
	}
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, ",", ".")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// IsServiceLine reports whether a name denotes freight/service rather than goods.
func IsServiceLine(name string) bool {
	low := strings.ToLower(name)
	for _, kw := range serviceKeywords {
		if strings.Contains(low, kw) {
			return true
		}
	}
	return false
}

// IsTotalLine reports whether a name is a total/grand-total marker ending the table.
func IsTotalLine(name string) bool {
	low := strings.ToLower(name)
	for _, kw := range totalKeywords {
		if strings.Contains(low, kw) {
			return true
		}
	}
	return false
}

func emptyish(v string) bool {
	s := strings.ToLower(strings.TrimSpace(v))
	switch s {
	case "", "nan", "none", "null":
		return true
	}
	return false
}
