// Package snapshot writes a validated dataset to a relational store as an
// immutable per-run artifact and publishes it as "latest".
//
// A Store owns the physical layout (one SQLite file per run, one Postgres
// schema per run). The Loader owns the protocol: lock, write in one
// transaction with bounded retry, verify, publish. Readers of "latest" see
// either the previous snapshot or the new one, never a mix.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JonMunkholm/inseguridad/internal/core"
)

// Meta identifies the run that produced an artifact.
type Meta struct {
	RunID         string
	CorrelationID string
	CreatedAt     time.Time
}

// Counts holds row counts per table.
type Counts struct {
	Entities     int `json:"geografia"`
	Indicators   int `json:"indicadores"`
	Measurements int `json:"datos_medicion"`
}

// CountsOf returns the row counts a dataset will produce.
func CountsOf(ds core.Dataset) Counts {
	return Counts{
		Entities:     len(ds.Entities),
		Indicators:   len(ds.Indicators),
		Measurements: len(ds.Measurements),
	}
}

// Info describes a stored artifact.
type Info struct {
	RunID         string    `json:"run_id"`
	CorrelationID string    `json:"correlation_id"`
	Location      string    `json:"location"`
	CreatedAt     time.Time `json:"created_at"`
	Latest        bool      `json:"latest"`
	Counts        Counts    `json:"counts"`
}

// Handle is returned by a successful Commit.
type Handle struct {
	Info
	Attempts int           `json:"attempts"`
	Duration time.Duration `json:"duration"`
	Quality  *Quality      `json:"quality,omitempty"`
}

// LevelSummary is the per-level breakdown of a snapshot.
type LevelSummary struct {
	Level        string `json:"nivel"`
	Entities     int    `json:"entidades"`
	Measurements int    `json:"registros"`
}

// Quality is the result of the post-load checks.
type Quality struct {
	OrphanEntities   int            `json:"orphan_geografia"`
	OrphanIndicators int            `json:"orphan_indicadores"`
	OrphanParents    int            `json:"orphan_padres"`
	NullValues       int            `json:"null_values"`
	Duplicates       int            `json:"duplicates"`
	Counts           Counts         `json:"counts"`
	ByLevel          []LevelSummary `json:"by_level"`
}

// Violations lists the checks that fail. Null values are reported but do
// not fail a snapshot.
func (q Quality) Violations() []string {
	var v []string
	if q.OrphanEntities > 0 {
		v = append(v, fmt.Sprintf("%d measurements reference a missing entity", q.OrphanEntities))
	}
	if q.OrphanIndicators > 0 {
		v = append(v, fmt.Sprintf("%d measurements reference a missing indicator", q.OrphanIndicators))
	}
	if q.OrphanParents > 0 {
		v = append(v, fmt.Sprintf("%d entities reference a missing parent", q.OrphanParents))
	}
	if q.Duplicates > 0 {
		v = append(v, fmt.Sprintf("%d duplicate measurement keys", q.Duplicates))
	}
	return v
}

// Compare returns a violation for every table whose stored count differs from want.
func (q Quality) Compare(want Counts) []string {
	var v []string
	check := func(table string, got, want int) {
		if got != want {
			v = append(v, fmt.Sprintf("%s: stored %d rows, expected %d", table, got, want))
		}
	}
	check("geografia", q.Counts.Entities, want.Entities)
	check("indicadores", q.Counts.Indicators, want.Indicators)
	check("datos_medicion", q.Counts.Measurements, want.Measurements)
	return v
}

// Store is implemented by each relational backend.
type Store interface {
	// Lock takes the single-writer lock, waiting until ctx is done.
	Lock(ctx context.Context) (release func(), err error)
	// Begin starts writing the artifact for meta.RunID.
	Begin(ctx context.Context, meta Meta) (Tx, error)
	// Verify runs the quality checks against a committed artifact.
	Verify(ctx context.Context, runID string) (Quality, error)
	// Publish makes runID the latest snapshot atomically.
	Publish(ctx context.Context, runID string) error
	// Discard removes every trace of runID. Missing artifacts are not an error.
	Discard(ctx context.Context, runID string) error
	// Latest describes the published snapshot. ErrNoSnapshot if none.
	Latest(ctx context.Context) (Info, error)
	// List describes every committed artifact, newest first.
	List(ctx context.Context) ([]Info, error)
	// Classify decides how the loader treats a write error.
	Classify(err error) ErrorClass
	Driver() string
	Close() error
}

// ErrorClass groups store errors by how the loader reacts to them.
type ErrorClass int

const (
	ClassPermanent  ErrorClass = iota // fail the run
	ClassTransient                    // retry with backoff
	ClassConstraint                   // fail the run as an integrity violation
)

// Tx writes one artifact. Inserts must be called in dependency order.
type Tx interface {
	CreateSchema(ctx context.Context) error
	InsertEntities(ctx context.Context, rows []core.GeographicEntity) error
	InsertIndicators(ctx context.Context, rows []core.IndicatorDefinition) error
	InsertMeasurements(ctx context.Context, rows []core.Measurement) error
	Commit(ctx context.Context) (location string, err error)
	Rollback(ctx context.Context) error
}

var (
	// ErrNoSnapshot is returned by Latest before the first publish.
	ErrNoSnapshot = errors.New("no snapshot published")
	// ErrArtifactExists is returned by Begin when the run was already written.
	// The existing artifact is left in place.
	ErrArtifactExists = errors.New("artifact already exists")
)
