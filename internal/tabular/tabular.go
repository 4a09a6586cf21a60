// Package tabular encodes the files each stage hands to the next: curated
// per-level CSVs after Extract and the three normalized tables after Transform.
//
// Blob layout, relative to the store root:
//
//	curated/<run>/<Level>.csv
//	processed/<run>/geografia.csv
//	processed/<run>/indicadores.csv
//	processed/<run>/datos_medicion.csv
package tabular

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/JonMunkholm/inseguridad/internal/blob"
	"github.com/JonMunkholm/inseguridad/internal/core"
	"github.com/JonMunkholm/inseguridad/internal/source"
)

// Normalized table names, shared with the relational artifact.
const (
	TableEntities     = "geografia"
	TableIndicators   = "indicadores"
	TableMeasurements = "datos_medicion"
)

// Tables lists the normalized tables in load order.
var Tables = []string{TableEntities, TableIndicators, TableMeasurements}

var (
	entityHeader      = []string{"id_geografia", "nivel", "nombre", "id_padre", "codigo_dane"}
	indicatorHeader   = []string{"id_indicador", "nombre_indicador", "tipo_dato", "tipo_de_medida"}
	measurementHeader = []string{"id_medicion", "id_geografia", "id_indicador", "año", "valor"}
)

// Key prefixes of the two blob families.
const (
	CuratedPrefix   = "curated"
	ProcessedPrefix = "processed"
)

// CuratedKey locates a level's curated file.
func CuratedKey(runID string, def source.Definition) string {
	return path.Join(CuratedPrefix, runID, def.File)
}

// ProcessedKey locates a normalized table.
func ProcessedKey(runID, table string) string {
	return path.Join(ProcessedPrefix, runID, table+".csv")
}

// =============================================================================
// Curated
// =============================================================================

// SaveCurated writes every table's curated records and returns the keys written.
func SaveCurated(ctx context.Context, store blob.Store, runID string, tables []*source.Table) ([]string, error) {
	keys := make([]string, 0, len(tables))
	for _, t := range tables {
		key := CuratedKey(runID, t.Def)
		if err := put(ctx, store, key, runID, t.Curated()); err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// CuratedOpener reads a previous run's curated files back through the source parser.
func CuratedOpener(store blob.Store, runID string) source.Opener {
	return func(ctx context.Context, def source.Definition) (string, io.ReadCloser, error) {
		key := CuratedKey(runID, def)
		_, rc, err := store.Get(ctx, key)
		if err != nil {
			return key, nil, &core.SourceFormatError{Source: key, Detail: "source not found: " + err.Error()}
		}
		return key, rc, nil
	}
}

// =============================================================================
// Processed
// =============================================================================

// SaveProcessed writes the three normalized tables.
func SaveProcessed(ctx context.Context, store blob.Store, runID string, ds core.Dataset) error {
	enc := EncodeDataset(ds)
	for _, table := range Tables {
		if err := put(ctx, store, ProcessedKey(runID, table), runID, enc[table]); err != nil {
			return err
		}
	}
	return nil
}

// LoadProcessed reads a previous run's normalized tables.
func LoadProcessed(ctx context.Context, store blob.Store, runID string) (core.Dataset, error) {
	records := make(map[string][][]string, len(Tables))
	for _, table := range Tables {
		key := ProcessedKey(runID, table)
		_, rc, err := store.Get(ctx, key)
		if err != nil {
			return core.Dataset{}, &core.SourceFormatError{Source: key, Detail: "source not found: " + err.Error()}
		}
		recs, err := readAll(rc)
		rc.Close()
		if err != nil {
			return core.Dataset{}, &core.SourceFormatError{Source: key, Detail: "invalid csv: " + err.Error()}
		}
		records[table] = recs
	}
	return DecodeDataset(records)
}

// EncodeDataset renders each table as CSV records, header first.
func EncodeDataset(ds core.Dataset) map[string][][]string {
	ents := [][]string{entityHeader}
	for _, e := range ds.Entities {
		parent := ""
		if e.ParentID != nil {
			parent = strconv.FormatInt(*e.ParentID, 10)
		}
		ents = append(ents, []string{
			strconv.FormatInt(e.ID, 10), e.Level.String(), e.Name, parent, e.ExternalCode,
		})
	}

	inds := [][]string{indicatorHeader}
	for _, ind := range ds.Indicators {
		inds = append(inds, []string{
			strconv.FormatInt(ind.ID, 10), ind.Name, ind.ValueType, ind.MeasureType,
		})
	}

	ms := [][]string{measurementHeader}
	for _, m := range ds.Measurements {
		ms = append(ms, []string{
			strconv.FormatInt(m.ID, 10),
			strconv.FormatInt(m.EntityID, 10),
			strconv.FormatInt(m.IndicatorID, 10),
			strconv.Itoa(m.Year),
			strconv.FormatFloat(m.Value, 'g', -1, 64),
		})
	}

	return map[string][][]string{
		TableEntities:     ents,
		TableIndicators:   inds,
		TableMeasurements: ms,
	}
}

// DecodeDataset parses the records EncodeDataset produces. Columns are
// located by header name.
func DecodeDataset(records map[string][][]string) (core.Dataset, error) {
	var ds core.Dataset

	err := decodeTable(records, TableEntities, entityHeader, func(c cells) error {
		e := core.GeographicEntity{Name: c.str("nombre"), ExternalCode: c.str("codigo_dane")}
		var err error
		if e.ID, err = c.int("id_geografia"); err != nil {
			return err
		}
		if e.Level, err = core.ParseLevel(c.str("nivel")); err != nil {
			return err
		}
		if p := c.str("id_padre"); p != "" {
			id, err := strconv.ParseInt(p, 10, 64)
			if err != nil {
				return fmt.Errorf("id_padre: %w", err)
			}
			e.ParentID = &id
		}
		ds.Entities = append(ds.Entities, e)
		return nil
	})
	if err != nil {
		return core.Dataset{}, err
	}

	err = decodeTable(records, TableIndicators, indicatorHeader, func(c cells) error {
		ind := core.IndicatorDefinition{
			Name:        c.str("nombre_indicador"),
			ValueType:   c.str("tipo_dato"),
			MeasureType: c.str("tipo_de_medida"),
		}
		var err error
		ind.ID, err = c.int("id_indicador")
		ds.Indicators = append(ds.Indicators, ind)
		return err
	})
	if err != nil {
		return core.Dataset{}, err
	}

	err = decodeTable(records, TableMeasurements, measurementHeader, func(c cells) error {
		var (
			m   core.Measurement
			err error
		)
		if m.ID, err = c.int("id_medicion"); err != nil {
			return err
		}
		if m.EntityID, err = c.int("id_geografia"); err != nil {
			return err
		}
		if m.IndicatorID, err = c.int("id_indicador"); err != nil {
			return err
		}
		year, err := c.int("año")
		if err != nil {
			return err
		}
		m.Year = int(year)
		if m.Value, err = strconv.ParseFloat(c.str("valor"), 64); err != nil {
			return fmt.Errorf("valor: %w", err)
		}
		ds.Measurements = append(ds.Measurements, m)
		return nil
	})
	if err != nil {
		return core.Dataset{}, err
	}
	return ds, nil
}

// =============================================================================
// Helpers
// =============================================================================

type cells struct {
	idx source.HeaderIndex
	rec []string
}

func (c cells) str(col string) string { return c.idx.Cell(c.rec, col) }

func (c cells) int(col string) (int64, error) {
	v, err := strconv.ParseInt(c.str(col), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", col, err)
	}
	return v, nil
}

func decodeTable(records map[string][][]string, table string, header []string, fn func(cells) error) error {
	recs := records[table]
	if len(recs) == 0 {
		return &core.SourceFormatError{Source: table, Detail: "empty file"}
	}
	idx := source.MakeHeaderIndex(recs[0])
	if missing := idx.Missing(header); len(missing) > 0 {
		return &core.SourceFormatError{Source: table, Missing: missing}
	}
	for i, rec := range recs[1:] {
		if err := fn(cells{idx: idx, rec: rec}); err != nil {
			return &core.SourceFormatError{Source: table, Detail: fmt.Sprintf("line %d: %v", i+2, err)}
		}
	}
	return nil
}

// Encode writes records as CSV.
func Encode(w io.Writer, records [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(records); err != nil {
		return fmt.Errorf("encode csv: %w", err)
	}
	return nil
}

func readAll(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	return cr.ReadAll()
}

func put(ctx context.Context, store blob.Store, key, runID string, records [][]string) error {
	var buf bytes.Buffer
	if err := Encode(&buf, records); err != nil {
		return err
	}
	_, err := store.Put(ctx, key, bytes.NewReader(buf.Bytes()), blob.PutOptions{
		ContentType: blob.ContentTypeCSV,
		Metadata:    map[string]string{"run_id": runID, "rows": strconv.Itoa(len(records) - 1)},
	})
	if err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// Runs lists the run ids that have blobs under prefix ("curated" or "processed").
func Runs(ctx context.Context, store blob.Store, prefix string) ([]string, error) {
	infos, err := store.List(ctx, prefix+"/")
	if err != nil {
		return nil, err
	}
	var runs []string
	seen := make(map[string]bool)
	for _, info := range infos {
		rest := strings.TrimPrefix(info.Key, prefix+"/")
		run, _, ok := strings.Cut(rest, "/")
		if ok && !seen[run] {
			seen[run] = true
			runs = append(runs, run)
		}
	}
	return runs, nil
}
