package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/JonMunkholm/inseguridad/internal/core"
)

func TestRecorder_Counters(t *testing.T) {
	r := New(false)

	r.RowsRead(core.LevelMunicipal, 10)
	r.RowsRead(core.LevelMunicipal, 5)
	r.Rejections(map[core.Reason]int{core.ReasonNullValue: 2, core.ReasonDuplicate: 1})
	r.Rejections(map[core.Reason]int{core.ReasonNullValue: 1})
	r.LoadAttempts(3)
	r.LoadRetry()
	r.LoadRetry()

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"rows municipal", testutil.ToFloat64(r.rowsRead.WithLabelValues("municipal")), 15},
		{"null rejections", testutil.ToFloat64(r.rejections.WithLabelValues("null_value")), 3},
		{"duplicate rejections", testutil.ToFloat64(r.rejections.WithLabelValues("duplicate_measurement")), 1},
		{"attempts", testutil.ToFloat64(r.loadAttempts), 3},
		{"retries", testutil.ToFloat64(r.loadRetries), 2},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestRecorder_StateIsExclusive(t *testing.T) {
	r := New(false)
	r.State("extracting")
	r.State("loading")

	if n := testutil.CollectAndCount(r.state); n != 1 {
		t.Errorf("state series = %d, want 1", n)
	}
	if v := testutil.ToFloat64(r.state.WithLabelValues("loading")); v != 1 {
		t.Errorf("loading = %v, want 1", v)
	}
}

func TestRecorder_Accepted(t *testing.T) {
	r := New(false)
	r.Accepted(core.Dataset{
		Entities:     make([]core.GeographicEntity, 3),
		Indicators:   make([]core.IndicatorDefinition, 1),
		Measurements: make([]core.Measurement, 7),
	})
	if v := testutil.ToFloat64(r.accepted.WithLabelValues("datos_medicion")); v != 7 {
		t.Errorf("datos_medicion = %v, want 7", v)
	}
}

func TestRecorder_StageAndFinished(t *testing.T) {
	r := New(false)
	r.Stage("loading", 20*time.Millisecond, nil)
	r.Stage("loading", time.Second, errors.New("boom"))

	if n := testutil.CollectAndCount(r.stageSeconds); n != 2 {
		t.Errorf("stage series = %d, want 2", n)
	}

	at := time.Unix(1700000000, 0)
	r.Finished("committed", true, at)
	r.Finished("failed", false, at.Add(time.Hour))
	if v := testutil.ToFloat64(r.lastSuccess); v != 1700000000 {
		t.Errorf("last success = %v, want 1700000000", v)
	}
}

// =============================================================================
// Exposition
// =============================================================================

func TestHandler(t *testing.T) {
	r := New(false)
	r.LoadRetry()

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "etl_load_retries_total 1") {
		t.Errorf("body missing retries counter:\n%s", body)
	}
}

func TestWriteTextfile(t *testing.T) {
	r := New(false)
	r.RowsRead(core.LevelRegional, 4)

	path := filepath.Join(t.TempDir(), "etl.prom")
	if err := r.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `etl_rows_read_total{level="regional"} 4`) {
		t.Errorf("textfile missing rows counter:\n%s", data)
	}
}
