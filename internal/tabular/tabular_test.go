package tabular

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/JonMunkholm/inseguridad/internal/blob"
	"github.com/JonMunkholm/inseguridad/internal/core"
	"github.com/JonMunkholm/inseguridad/internal/source"
)

func ptr(v int64) *int64 { return &v }

func sampleDataset() core.Dataset {
	return core.Dataset{
		Entities: []core.GeographicEntity{
			{ID: 1, Level: core.LevelNational, Name: "Colombia"},
			{ID: 2, Level: core.LevelDepartmental, Name: "Atlántico, Caribe", ParentID: ptr(1), ExternalCode: "08"},
			{ID: 3, Level: core.LevelMunicipal, Name: "Barranquilla", ParentID: ptr(2)},
		},
		Indicators: []core.IndicatorDefinition{
			{ID: 1, Name: "Inseguridad Alimentaria Grave", ValueType: core.ValuePercentage, MeasureType: "Prevalencia"},
		},
		Measurements: []core.Measurement{
			{ID: 1, EntityID: 2, IndicatorID: 1, Year: 2022, Value: 0.033197},
			{ID: 2, EntityID: 1, IndicatorID: 1, Year: 2022, Value: 0.1 + 0.2},
		},
	}
}

func TestEncodeDecodeDataset(t *testing.T) {
	ds := sampleDataset()
	got, err := DecodeDataset(EncodeDataset(ds))
	if err != nil {
		t.Fatalf("DecodeDataset() error = %v", err)
	}

	if len(got.Entities) != 3 || len(got.Indicators) != 1 || len(got.Measurements) != 2 {
		t.Fatalf("decoded sizes = %d/%d/%d", len(got.Entities), len(got.Indicators), len(got.Measurements))
	}
	if got.Entities[0].ParentID != nil {
		t.Error("national entity should have no parent")
	}
	e := got.Entities[1]
	if e.Level != core.LevelDepartmental || e.Name != "Atlántico, Caribe" || *e.ParentID != 1 || e.ExternalCode != "08" {
		t.Errorf("entity = %+v", e)
	}
	if got.Measurements[1].Value != 0.1+0.2 {
		t.Errorf("value = %v, want exact float round trip", got.Measurements[1].Value)
	}
}

func TestDecodeDataset_Errors(t *testing.T) {
	good := EncodeDataset(sampleDataset())

	tests := []struct {
		name   string
		mutate func(map[string][][]string)
	}{
		{"missing table", func(r map[string][][]string) { delete(r, TableIndicators) }},
		{"missing column", func(r map[string][][]string) { r[TableMeasurements][0] = []string{"id_medicion", "id_geografia"} }},
		{"bad level", func(r map[string][][]string) { r[TableEntities][1][1] = "Continental" }},
		{"bad value", func(r map[string][][]string) { r[TableMeasurements][1][4] = "abc" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs := make(map[string][][]string)
			for k, v := range good {
				cp := make([][]string, len(v))
				for i, row := range v {
					cp[i] = append([]string(nil), row...)
				}
				recs[k] = cp
			}
			tt.mutate(recs)
			if _, err := DecodeDataset(recs); !errors.Is(err, core.ErrSourceFormat) {
				t.Errorf("DecodeDataset() error = %v, want source format error", err)
			}
		})
	}
}

func TestSaveLoadProcessed(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemory()

	if err := SaveProcessed(ctx, store, "run1", sampleDataset()); err != nil {
		t.Fatalf("SaveProcessed() error = %v", err)
	}
	info, err := store.Head(ctx, ProcessedKey("run1", TableMeasurements))
	if err != nil {
		t.Fatalf("Head() error = %v", err)
	}
	if info.Metadata["rows"] != "2" || info.ContentType != blob.ContentTypeCSV {
		t.Errorf("metadata = %v, content type = %q", info.Metadata, info.ContentType)
	}

	ds, err := LoadProcessed(ctx, store, "run1")
	if err != nil {
		t.Fatalf("LoadProcessed() error = %v", err)
	}
	if len(ds.Measurements) != 2 {
		t.Errorf("len(Measurements) = %d, want 2", len(ds.Measurements))
	}

	if _, err := LoadProcessed(ctx, store, "nope"); !errors.Is(err, core.ErrSourceFormat) {
		t.Errorf("LoadProcessed(nope) error = %v, want source format error", err)
	}
}

func TestCuratedRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemory()
	def, _ := source.Get(core.LevelDepartmental)

	raw := "departamento,año,indicador,dato_departamento,dato_nacional,tipo_dato,tipo_de_medida\n" +
		"Antioquia,2022,Grave,0.03,0.05,Porcentaje,Prevalencia\n" +
		"Caldas,2022,Grave,,0.05,Porcentaje,Prevalencia\n"
	tbl, err := source.Parse(def, def.File, strings.NewReader(raw), source.Options{})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	keys, err := SaveCurated(ctx, store, "run1", []*source.Table{tbl})
	if err != nil {
		t.Fatalf("SaveCurated() error = %v", err)
	}
	if len(keys) != 1 || keys[0] != "curated/run1/Departamental.csv" {
		t.Errorf("keys = %v", keys)
	}

	tables, err := source.Extract(ctx, CuratedOpener(store, "run1"), []source.Definition{def}, source.Options{})
	if err != nil {
		t.Fatalf("Extract(curated) error = %v", err)
	}
	if len(tables[0].Rows) != 1 || tables[0].Rows[0].Name != "Antioquia" {
		t.Errorf("curated rows = %+v, want only Antioquia", tables[0].Rows)
	}

	_, err = source.Extract(ctx, CuratedOpener(store, "other"), []source.Definition{def}, source.Options{})
	if !errors.Is(err, core.ErrSourceFormat) {
		t.Errorf("Extract(other) error = %v, want source format error", err)
	}
}

func TestRuns(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemory()
	for _, k := range []string{"processed/a/geografia.csv", "processed/a/indicadores.csv", "processed/b/geografia.csv", "curated/c/Regional.csv"} {
		store.Put(ctx, k, strings.NewReader("x"), blob.PutOptions{})
	}

	runs, err := Runs(ctx, store, "processed")
	if err != nil {
		t.Fatalf("Runs() error = %v", err)
	}
	if strings.Join(runs, ",") != "a,b" {
		t.Errorf("Runs() = %v, want [a b]", runs)
	}
}

func TestEncode(t *testing.T) {
	var sb strings.Builder
	if err := Encode(&sb, [][]string{{"nombre"}, {"Bogotá, D.C."}}); err != nil {
		t.Fatal(err)
	}
	if sb.String() != "nombre\n\"Bogotá, D.C.\"\n" {
		t.Errorf("Encode() = %q", sb.String())
	}
}
