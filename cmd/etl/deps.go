package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/JonMunkholm/inseguridad/internal/blob"
	"github.com/JonMunkholm/inseguridad/internal/config"
	"github.com/JonMunkholm/inseguridad/internal/core"
	"github.com/JonMunkholm/inseguridad/internal/pipeline"
	"github.com/JonMunkholm/inseguridad/internal/snapshot"
	"github.com/JonMunkholm/inseguridad/internal/source"
	"github.com/JonMunkholm/inseguridad/internal/store/postgres"
	"github.com/JonMunkholm/inseguridad/internal/store/sqlite"
)

// snapshotStore is what the commands need from either relational backend.
type snapshotStore interface {
	snapshot.Store
	LatestQuality(ctx context.Context) (snapshot.Quality, error)
}

var (
	_ snapshotStore = (*sqlite.Store)(nil)
	_ snapshotStore = (*postgres.Store)(nil)
)

func openStore(ctx context.Context, cfg *config.Config) (snapshotStore, error) {
	switch strings.ToLower(cfg.Store.Driver) {
	case config.DriverSQLite:
		return sqlite.New(cfg.Store.SQLiteDir, cfg.Store.SQLitePrefix)
	case config.DriverPostgres:
		return postgres.Open(ctx, cfg.Database)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func openBlobs(ctx context.Context, cfg *config.Config) (blob.Store, error) {
	b, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	return b, nil
}

func pipelineOptions(cfg *config.Config) pipeline.Options {
	parents := core.ParentsStrict
	if cfg.Pipeline.ImplicitParents {
		parents = core.ParentsImplicit
	}
	return pipeline.Options{
		SourceDir: cfg.Pipeline.SourceDir,
		Core: core.Options{
			NationalName: cfg.Pipeline.NationalName,
			Parents:      parents,
			SampleSize:   cfg.Pipeline.RejectionSampleSize,
		},
		Source: source.Options{DefaultMeasureType: cfg.Pipeline.DefaultMeasureType},
		Load: snapshot.Options{
			MaxAttempts:  cfg.Load.MaxAttempts,
			InitialDelay: cfg.Load.RetryInitial,
			MaxDelay:     cfg.Load.RetryMax,
			LockTimeout:  cfg.Load.LockTimeout,
			SkipChecks:   cfg.Load.SkipChecks,
		},
	}
}
