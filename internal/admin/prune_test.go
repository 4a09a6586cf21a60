package admin

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/JonMunkholm/inseguridad/internal/blob"
	"github.com/JonMunkholm/inseguridad/internal/core"
	"github.com/JonMunkholm/inseguridad/internal/snapshot"
	"github.com/JonMunkholm/inseguridad/internal/store/sqlite"
	"github.com/JonMunkholm/inseguridad/internal/tabular"
)

func dataset() core.Dataset {
	root := int64(1)
	return core.Dataset{
		Entities: []core.GeographicEntity{
			{ID: 1, Level: core.LevelNational, Name: "Colombia"},
			{ID: 2, Level: core.LevelDepartmental, Name: "Antioquia", ParentID: &root},
		},
		Indicators:   []core.IndicatorDefinition{{ID: 1, Name: "Grave", ValueType: core.ValuePercentage, MeasureType: "Prevalencia"}},
		Measurements: []core.Measurement{{ID: 1, EntityID: 2, IndicatorID: 1, Year: 2022, Value: 0.03}},
	}
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	st, err := sqlite.New(t.TempDir(), "test")
	if err != nil {
		t.Fatal(err)
	}
	loader := snapshot.NewLoader(st, snapshot.Options{MaxAttempts: 1, LockTimeout: time.Second})

	runs := []string{"20240101_000000_000", "20240102_000000_000", "20240103_000000_000", "20240104_000000_000"}
	for _, id := range runs {
		if _, err := loader.Commit(ctx, snapshot.Meta{RunID: id, CreatedAt: time.Now()}, dataset()); err != nil {
			t.Fatalf("Commit(%s) error = %v", id, err)
		}
	}

	p := &Pruner{Store: st}
	discarded, err := p.Prune(ctx, 1)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	want := []string{"20240102_000000_000", "20240101_000000_000"}
	if !reflect.DeepEqual(discarded, want) {
		t.Errorf("Prune() = %v, want %v", discarded, want)
	}

	infos, err := st.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 2 || !infos[0].Latest || infos[0].RunID != "20240104_000000_000" {
		t.Errorf("List() after prune = %+v", infos)
	}

	if _, err := p.Prune(ctx, -1); err == nil {
		t.Error("Prune(-1) should fail")
	}
}

func TestPruneBlobs(t *testing.T) {
	ctx := context.Background()
	blobs := blob.NewMemory()
	for _, id := range []string{"r1", "r2", "r3"} {
		if err := tabular.SaveProcessed(ctx, blobs, id, dataset()); err != nil {
			t.Fatal(err)
		}
	}

	p := &Pruner{Blobs: blobs}
	removed, err := p.PruneBlobs(ctx, 2)
	if err != nil {
		t.Fatalf("PruneBlobs() error = %v", err)
	}
	if removed != len(tabular.Tables) {
		t.Errorf("removed = %d, want %d", removed, len(tabular.Tables))
	}

	left, err := tabular.Runs(ctx, blobs, tabular.ProcessedPrefix)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(left, []string{"r2", "r3"}) {
		t.Errorf("runs left = %v, want [r2 r3]", left)
	}
}
