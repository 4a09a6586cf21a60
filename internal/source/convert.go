package source

// convert.go turns spreadsheet cell text into typed values.
//
// Exports of the source spreadsheets use both "0.033197" and "3,3197%" for the
// same figure, "2022.0" for years, and a handful of tokens for missing data.
// Every To* function returns Valid=false for empty, missing or unparsable input.

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
	"golang.org/x/text/cases"
)

// numericRegex validates a number after separators have been normalized.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// nullTokens are cell values treated as missing, compared case-folded.
var nullTokens = map[string]bool{
	"":     true,
	"-":    true,
	"--":   true,
	"na":   true,
	"n/a":  true,
	"n.a.": true,
	"nan":  true,
	"nd":   true,
	"n.d.": true,
	"null": true,
	"none": true,
	"sd":   true,
}

// IsNullToken reports whether s is one of the missing-data markers.
func IsNullToken(s string) bool {
	return nullTokens[cases.Fold().String(CleanCell(s))]
}

// ToFloat8 parses a numeric cell. A trailing "%" divides by 100; a decimal
// comma is accepted, with "." or a space as thousands separator.
func ToFloat8(s string) pgtype.Float8 {
	s = CleanCell(s)
	if IsNullToken(s) {
		return pgtype.Float8{}
	}

	percent := false
	if strings.HasSuffix(s, "%") {
		percent = true
		s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
	}

	s = normalizeSeparators(s)
	if !numericRegex.MatchString(s) {
		return pgtype.Float8{}
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return pgtype.Float8{}
	}
	if percent {
		v /= 100
	}
	return pgtype.Float8{Float64: v, Valid: true}
}

// normalizeSeparators rewrites a number so "." is the only decimal separator
// and no thousands separators remain.
func normalizeSeparators(s string) string {
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "\u00a0", "")

	comma := strings.LastIndex(s, ",")
	dot := strings.LastIndex(s, ".")
	switch {
	case comma >= 0 && dot >= 0 && comma > dot:
		// 1.234,56
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case comma >= 0 && dot >= 0:
		// 1,234.56
		s = strings.ReplaceAll(s, ",", "")
	case comma >= 0 && strings.Count(s, ",") == 1:
		s = strings.Replace(s, ",", ".", 1)
	case comma >= 0:
		// 1,234,567
		s = strings.ReplaceAll(s, ",", "")
	}
	return s
}

// Years outside this range are treated as malformed.
const (
	minYear = 1900
	maxYear = 2100
)

// ToYear parses a year cell. Spreadsheet exports often render years as "2022.0".
func ToYear(s string) pgtype.Int4 {
	s = CleanCell(s)
	if IsNullToken(s) {
		return pgtype.Int4{}
	}
	if i := strings.IndexAny(s, ".,"); i > 0 {
		frac := strings.Trim(s[i+1:], "0")
		if frac != "" {
			return pgtype.Int4{}
		}
		s = s[:i]
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < minYear || n > maxYear {
		return pgtype.Int4{}
	}
	return pgtype.Int4{Int32: int32(n), Valid: true}
}

// CleanCell removes common spreadsheet artifacts from a cell value:
// surrounding whitespace, an Excel formula prefix (="...") and surrounding quotes.
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	s = strings.Trim(s, `"'`)
	return strings.TrimSpace(s)
}

// CleanText is CleanCell for display text. Only whitespace and the formula
// wrapper are removed, so an apostrophe inside a name survives.
func CleanText(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") && len(s) >= 3 {
		s = s[2 : len(s)-1]
	}
	return strings.TrimSpace(s)
}

// HeaderIndex maps normalized column names to their position in a row.
type HeaderIndex map[string]int

// normalizeHeader lowercases a header cell and joins words with underscores,
// so "Tipo de medida" matches "tipo_de_medida".
func normalizeHeader(h string) string {
	h = cases.Fold().String(CleanCell(h))
	return strings.Join(strings.Fields(strings.ReplaceAll(h, "_", " ")), "_")
}

// headerAliases maps alternate spellings onto the canonical column name.
var headerAliases = map[string]string{
	"ano":  "año",
	"anio": "año",
	"year": "año",

	"código_dane": "codigo_dane",
	"cod_dane":    "codigo_dane",
	"divipola":    "codigo_dane",
}

// MakeHeaderIndex indexes a header row. The first occurrence of a name wins.
func MakeHeaderIndex(header []string) HeaderIndex {
	idx := make(HeaderIndex, len(header))
	for i, h := range header {
		key := normalizeHeader(h)
		if alias, ok := headerAliases[key]; ok {
			key = alias
		}
		if _, dup := idx[key]; !dup && key != "" {
			idx[key] = i
		}
	}
	return idx
}

// Cell returns the cleaned value of column in row, or "" if absent.
func (h HeaderIndex) Cell(row []string, column string) string {
	pos, ok := h[column]
	if !ok || pos >= len(row) {
		return ""
	}
	return CleanCell(row[pos])
}

// Text returns the display text of column in row, or "" if absent.
func (h HeaderIndex) Text(row []string, column string) string {
	pos, ok := h[column]
	if !ok || pos >= len(row) {
		return ""
	}
	return CleanText(row[pos])
}

// Missing returns the required columns absent from the index.
func (h HeaderIndex) Missing(required []string) []string {
	var missing []string
	for _, col := range required {
		if _, ok := h[col]; !ok {
			missing = append(missing, col)
		}
	}
	return missing
}
