package source

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/JonMunkholm/inseguridad/internal/core"
)

// MaxHeaderSearchRows bounds how far down a file the header row may start.
// Spreadsheet exports sometimes carry a title row or two above it.
const MaxHeaderSearchRows = 10

// Options configures row mapping.
type Options struct {
	// DefaultMeasureType fills sources that carry no measure type column.
	DefaultMeasureType string
}

// Table is one parsed source. Records and Rows are aligned: Rows[i] is the
// canonical form of Records[i].
type Table struct {
	Def     Definition
	Source  string
	Header  []string
	Records [][]string
	Rows    []core.CanonicalRow
	Bytes   int64
}

// Curated returns the header followed by every record whose primary value is
// present: the input columns minus rows that would be rejected as null.
func (t *Table) Curated() [][]string {
	out := make([][]string, 0, len(t.Records)+1)
	out = append(out, t.Header)
	for i, rec := range t.Records {
		if t.Rows[i].Value.Valid {
			out = append(out, rec)
		}
	}
	return out
}

// NullPrimary counts rows whose primary value is missing.
func (t *Table) NullPrimary() int {
	n := 0
	for _, row := range t.Rows {
		if !row.Value.Valid {
			n++
		}
	}
	return n
}

// Parse reads one source file. A missing required column or a file without
// data rows is a *core.SourceFormatError.
func Parse(def Definition, name string, r io.Reader, opts Options) (*Table, error) {
	cr := &countingReader{r: r}
	data, err := decode(cr)
	if err != nil {
		return nil, &core.SourceFormatError{Source: name, Detail: err.Error()}
	}

	records, lines, err := parseCSV(data)
	if err != nil {
		return nil, &core.SourceFormatError{Source: name, Detail: "invalid csv: " + err.Error()}
	}

	required := def.Required()
	headerRow, idx := findHeader(records, required)
	if headerRow < 0 {
		first := firstNonEmpty(records)
		if first < 0 {
			return nil, &core.SourceFormatError{Source: name, Detail: "empty file"}
		}
		return nil, &core.SourceFormatError{
			Source:  name,
			Missing: MakeHeaderIndex(records[first]).Missing(required),
		}
	}

	t := &Table{
		Def:    def,
		Source: name,
		Header: records[headerRow],
		Bytes:  cr.n,
	}
	for i := headerRow + 1; i < len(records); i++ {
		rec := records[i]
		if isEmptyRow(rec) {
			continue
		}
		t.Records = append(t.Records, rec)
		t.Rows = append(t.Rows, mapRow(def, idx, rec, name, lines[i], opts))
	}

	if len(t.Rows) == 0 {
		return nil, &core.SourceFormatError{Source: name, Detail: "no data rows"}
	}
	return t, nil
}

func mapRow(def Definition, idx HeaderIndex, rec []string, name string, line int, opts Options) core.CanonicalRow {
	row := core.CanonicalRow{
		Source:      name,
		Line:        line,
		Level:       def.Level,
		Name:        idx.Text(rec, def.NameCol),
		Indicator:   idx.Text(rec, def.IndicatorCol),
		ValueType:   idx.Cell(rec, def.ValueTypeCol),
		MeasureType: opts.DefaultMeasureType,
		Year:        ToYear(idx.Cell(rec, def.YearCol)),
		Value:       ToFloat8(idx.Cell(rec, def.ValueCol)),
	}
	if def.ParentCol != "" {
		row.ParentName = idx.Text(rec, def.ParentCol)
	}
	if def.MeasureCol != "" {
		row.MeasureType = idx.Text(rec, def.MeasureCol)
	}
	if def.CodeCol != "" {
		row.Code = idx.Cell(rec, def.CodeCol)
	}
	if def.NationalCol != "" {
		row.National = ToFloat8(idx.Cell(rec, def.NationalCol))
	}
	return row
}

// parseCSV returns every record with the file line it starts on.
func parseCSV(data []byte) ([][]string, []int, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.Comma = sniffDelimiter(data)

	var (
		records [][]string
		lines   []int
	)
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return records, lines, nil
		}
		if err != nil {
			return nil, nil, err
		}
		line, _ := r.FieldPos(0)
		records = append(records, rec)
		lines = append(lines, line)
	}
}

// sniffDelimiter picks ";" for exports from locales that use a decimal comma.
// Only the first lines are inspected, where the header must be.
func sniffDelimiter(data []byte) rune {
	head := data
	for i, n := 0, 0; i < len(data); i++ {
		if data[i] == '\n' {
			if n++; n == MaxHeaderSearchRows {
				head = data[:i]
				break
			}
		}
	}
	if bytes.Count(head, []byte(";")) > bytes.Count(head, []byte(",")) {
		return ';'
	}
	return ','
}

func findHeader(records [][]string, required []string) (int, HeaderIndex) {
	limit := MaxHeaderSearchRows
	if len(records) < limit {
		limit = len(records)
	}
	for i := 0; i < limit; i++ {
		idx := MakeHeaderIndex(records[i])
		if len(idx.Missing(required)) == 0 {
			return i, idx
		}
	}
	return -1, nil
}

func firstNonEmpty(records [][]string) int {
	for i, rec := range records {
		if !isEmptyRow(rec) {
			return i
		}
	}
	return -1
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Describe summarizes a table for logs.
func (t *Table) Describe() string {
	return fmt.Sprintf("%s: %d rows, %d null primary", t.Source, len(t.Rows), t.NullPrimary())
}
