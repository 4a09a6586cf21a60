package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/inseguridad/internal/config"
	"github.com/JonMunkholm/inseguridad/internal/core"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCommand(&out, &errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestPipelineOptions(t *testing.T) {
	cfg := &config.Config{
		Pipeline: config.PipelineConfig{
			SourceDir:           "raw",
			NationalName:        "Colombia",
			ImplicitParents:     true,
			DefaultMeasureType:  "Prevalencia",
			RejectionSampleSize: 7,
		},
		Load: config.LoadConfig{
			MaxAttempts:  4,
			RetryInitial: time.Second,
			RetryMax:     3 * time.Second,
			LockTimeout:  time.Minute,
			SkipChecks:   true,
		},
	}

	opts := pipelineOptions(cfg)
	if opts.Core.Parents != core.ParentsImplicit {
		t.Errorf("Parents = %v, want implicit", opts.Core.Parents)
	}
	if opts.Core.SampleSize != 7 || opts.Core.NationalName != "Colombia" {
		t.Errorf("Core = %+v", opts.Core)
	}
	if opts.Source.DefaultMeasureType != "Prevalencia" {
		t.Errorf("DefaultMeasureType = %q", opts.Source.DefaultMeasureType)
	}
	if opts.Load.MaxAttempts != 4 || opts.Load.InitialDelay != time.Second ||
		opts.Load.MaxDelay != 3*time.Second || opts.Load.LockTimeout != time.Minute || !opts.Load.SkipChecks {
		t.Errorf("Load = %+v", opts.Load)
	}

	cfg.Pipeline.ImplicitParents = false
	if got := pipelineOptions(cfg).Core.Parents; got != core.ParentsStrict {
		t.Errorf("Parents = %v, want strict", got)
	}
}

func TestRoot_InvalidOutput(t *testing.T) {
	t.Setenv("SQLITE_DIR", t.TempDir())
	_, err := execute(t, "snapshots", "-o", "xml")
	if err == nil || !strings.Contains(err.Error(), "--output") {
		t.Errorf("err = %v, want --output error", err)
	}
}

func TestSnapshots_Empty(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("SQLITE_DIR", t.TempDir())

	out, err := execute(t, "snapshots")
	if err != nil {
		t.Fatalf("snapshots error = %v", err)
	}
	if !strings.HasPrefix(out, "RUN ID") {
		t.Errorf("output = %q, want table header", out)
	}
}

func TestTransform_RequiresFrom(t *testing.T) {
	if _, err := execute(t, "transform"); err == nil {
		t.Error("transform without --from should fail")
	}
}
