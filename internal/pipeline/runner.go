// Package pipeline drives a run through the state machine and writes each
// stage's output: curated sources and processed tables to the blob store,
// the relational snapshot to the snapshot store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/inseguridad/internal/blob"
	"github.com/JonMunkholm/inseguridad/internal/core"
	"github.com/JonMunkholm/inseguridad/internal/logging"
	"github.com/JonMunkholm/inseguridad/internal/metrics"
	"github.com/JonMunkholm/inseguridad/internal/snapshot"
	"github.com/JonMunkholm/inseguridad/internal/source"
	"github.com/JonMunkholm/inseguridad/internal/tabular"
)

// RunIDLayout formats run ids: UTC, millisecond precision, sortable.
const RunIDLayout = "20060102_150405.000"

// NewRunID returns the run id for t, e.g. 20240101_120000_123.
func NewRunID(t time.Time) string {
	s := t.UTC().Format(RunIDLayout)
	return s[:15] + "_" + s[16:]
}

var (
	errNoStore = errors.New("pipeline: no snapshot store configured")
	errNoBlobs = errors.New("pipeline: no blob store configured")
)

// Options configures a Runner.
type Options struct {
	SourceDir string
	Core      core.Options
	Source    source.Options
	Load      snapshot.Options
}

// Runner executes pipeline runs. A Runner is not safe for concurrent use;
// each call runs one pipeline to completion.
type Runner struct {
	opts    Options
	blobs   blob.Store
	store   snapshot.Store // nil when only stage commands that stop before Load are used
	metrics *metrics.Recorder
	defs    []source.Definition

	// Open supplies source files. Defaults to the files in Options.SourceDir.
	Open source.Opener

	now func() time.Time
}

// NewRunner returns a runner over every registered source definition.
// store may be nil for runners that never load; rec may be nil.
func NewRunner(opts Options, blobs blob.Store, store snapshot.Store, rec *metrics.Recorder) *Runner {
	if rec == nil {
		rec = metrics.New(false)
	}
	return &Runner{
		opts:    opts,
		blobs:   blobs,
		store:   store,
		metrics: rec,
		defs:    source.All(),
		Open:    source.DirOpener(opts.SourceDir),
		now:     time.Now,
	}
}

// run is the mutable state of one invocation.
type run struct {
	r       *Runner
	ctx     context.Context
	log     *slog.Logger
	state   State
	summary *Summary
}

func (r *Runner) start(ctx context.Context, from string) *run {
	now := r.now()
	id := NewRunID(now)
	corr := uuid.NewString()
	ctx = logging.WithRun(ctx, id, corr)

	ru := &run{
		r:     r,
		ctx:   ctx,
		log:   logging.FromContext(ctx),
		state: StateIdle,
		summary: &Summary{
			RunID:         id,
			CorrelationID: corr,
			From:          from,
			State:         StateIdle,
			StartedAt:     now,
			Rejected:      make(map[core.Reason]int),
		},
	}
	r.metrics.State(StateIdle.String())
	ru.log.Info("run started", "from", from)
	return ru
}

func (ru *run) transition(to State) {
	if !canTransition(ru.state, to) {
		panic(fmt.Sprintf("pipeline: illegal transition %s -> %s", ru.state, to))
	}
	ru.summary.Transitions = append(ru.summary.Transitions, Transition{From: ru.state, To: to, At: ru.r.now()})
	ru.log.Debug("state transition", "from", ru.state.String(), "to", to.String())
	ru.state = to
	ru.summary.State = to
	ru.r.metrics.State(to.String())
}

// stage moves into s and runs fn. A failure moves the run to Failed and is
// returned as a *StageError.
func (ru *run) stage(s State, fn func(ctx context.Context) error) error {
	ru.transition(s)
	start := time.Now()
	err := fn(ru.ctx)
	ru.r.metrics.Stage(s.String(), time.Since(start), err)
	if err != nil {
		stage := s
		ru.summary.FailedStage = &stage
		ru.summary.Error = err.Error()
		ru.transition(StateFailed)
		ru.log.Error("stage failed", "stage", s.String(), "error", err)
		return &StageError{Stage: s, Err: err}
	}
	ru.log.Info("stage finished", "stage", s.String(), "duration", time.Since(start))
	return nil
}

func (ru *run) finish(final State) *Summary {
	if final != StateFailed {
		ru.transition(final)
	}
	s := ru.summary
	s.FinishedAt = ru.r.now()
	s.Duration = s.FinishedAt.Sub(s.StartedAt)
	ru.r.metrics.Finished(s.State.String(), s.State == StateCommitted, s.FinishedAt)
	ru.r.metrics.Warnings(len(s.Warnings))
	if s.State != StateFailed {
		ru.log.Info("run finished", "state", s.State.String(), "duration", s.Duration,
			"entities", s.Accepted.Entities, "indicators", s.Accepted.Indicators,
			"measurements", s.Accepted.Measurements, "rejected", s.RejectedTotal())
	}
	return s
}

// =============================================================================
// Commands
// =============================================================================

// Run executes every stage from the source files to a published snapshot.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	if r.store == nil {
		return nil, errNoStore
	}
	ru := r.start(ctx, "")

	var tables []*source.Table
	if err := ru.stage(StateExtracting, func(ctx context.Context) (err error) {
		tables, err = ru.extract(ctx, r.Open, true)
		return err
	}); err != nil {
		return ru.finish(StateFailed), err
	}

	var rc *core.RunContext
	if err := ru.stage(StateResolving, func(ctx context.Context) error {
		rc = ru.resolve(tables)
		return ru.saveProcessed(ctx, rc.Dataset())
	}); err != nil {
		return ru.finish(StateFailed), err
	}

	ds := rc.Dataset()
	if err := ru.stage(StateValidating, func(context.Context) error {
		return ru.validate(ds, rc.Claimed())
	}); err != nil {
		return ru.finish(StateFailed), err
	}

	if err := ru.stage(StateLoading, func(ctx context.Context) error {
		return ru.load(ctx, ds)
	}); err != nil {
		return ru.finish(StateFailed), err
	}
	return ru.finish(StateCommitted), nil
}

// Extract reads and checks the source files and stores their curated form.
func (r *Runner) Extract(ctx context.Context) (*Summary, error) {
	ru := r.start(ctx, "")
	if err := ru.stage(StateExtracting, func(ctx context.Context) error {
		_, err := ru.extract(ctx, r.Open, true)
		return err
	}); err != nil {
		return ru.finish(StateFailed), err
	}
	return ru.finish(StateStaged), nil
}

// Transform rebuilds a dataset from the curated output of run from, stores the
// processed tables under a new run id and validates them.
func (r *Runner) Transform(ctx context.Context, from string) (*Summary, error) {
	if r.blobs == nil {
		return nil, errNoBlobs
	}
	ru := r.start(ctx, from)

	var tables []*source.Table
	if err := ru.stage(StateExtracting, func(ctx context.Context) (err error) {
		tables, err = ru.extract(ctx, tabular.CuratedOpener(r.blobs, from), false)
		return err
	}); err != nil {
		return ru.finish(StateFailed), err
	}

	var rc *core.RunContext
	if err := ru.stage(StateResolving, func(ctx context.Context) error {
		rc = ru.resolve(tables)
		return ru.saveProcessed(ctx, rc.Dataset())
	}); err != nil {
		return ru.finish(StateFailed), err
	}

	if err := ru.stage(StateValidating, func(context.Context) error {
		return ru.validate(rc.Dataset(), rc.Claimed())
	}); err != nil {
		return ru.finish(StateFailed), err
	}
	return ru.finish(StateStaged), nil
}

// Load validates the processed tables of run from and commits them as a new
// snapshot.
func (r *Runner) Load(ctx context.Context, from string) (*Summary, error) {
	if r.store == nil {
		return nil, errNoStore
	}
	if r.blobs == nil {
		return nil, errNoBlobs
	}
	ru := r.start(ctx, from)

	var ds core.Dataset
	if err := ru.stage(StateValidating, func(ctx context.Context) (err error) {
		ds, err = tabular.LoadProcessed(ctx, r.blobs, from)
		if err != nil {
			return err
		}
		ru.summary.Accepted = snapshot.CountsOf(ds)
		r.metrics.Accepted(ds)
		return ru.validate(ds, nil)
	}); err != nil {
		return ru.finish(StateFailed), err
	}

	if err := ru.stage(StateLoading, func(ctx context.Context) error {
		return ru.load(ctx, ds)
	}); err != nil {
		return ru.finish(StateFailed), err
	}
	return ru.finish(StateCommitted), nil
}

// =============================================================================
// Stage bodies
// =============================================================================

func (ru *run) extract(ctx context.Context, open source.Opener, fromDir bool) ([]*source.Table, error) {
	r := ru.r
	if fromDir && r.opts.SourceDir != "" {
		if err := source.CheckDir(r.opts.SourceDir, r.defs); err != nil {
			return nil, err
		}
	}

	tables, err := source.Extract(ctx, open, r.defs, r.opts.Source)
	if err != nil {
		return nil, err
	}
	for _, t := range tables {
		ru.summary.Sources = append(ru.summary.Sources, SourceSummary{
			Level:       t.Def.Level.String(),
			Source:      t.Source,
			Rows:        len(t.Rows),
			NullPrimary: t.NullPrimary(),
		})
		r.metrics.RowsRead(t.Def.Level, len(t.Rows))
		ru.log.Info("source extracted", "level", t.Def.Level.String(), "source", t.Source, "rows", len(t.Rows))
	}

	if r.blobs != nil {
		keys, err := tabular.SaveCurated(ctx, r.blobs, ru.summary.RunID, tables)
		ru.summary.CuratedKeys = keys
		if err != nil {
			return nil, fmt.Errorf("save curated: %w", err)
		}
	}
	return tables, nil
}

// resolve folds every row on the calling goroutine.
func (ru *run) resolve(tables []*source.Table) *core.RunContext {
	s := ru.summary
	rc := core.NewRunContext(s.RunID, s.CorrelationID, ru.r.opts.Core)
	rc.Fold(source.Rows(tables))

	ds := rc.Dataset()
	s.Rows = rc.Rows
	s.Candidates = rc.Candidates
	s.Accepted = snapshot.CountsOf(ds)
	s.Rejected = rc.Rejections.Counts()
	s.Samples = newSamples(rc.Rejections.AllSamples())
	s.Warnings = append(s.Warnings, rc.Warnings()...)

	ru.r.metrics.Rejections(s.Rejected)
	ru.r.metrics.Accepted(ds)
	if !s.Balanced() {
		ru.log.Error("row accounting mismatch", "candidates", s.Candidates,
			"accepted", s.Accepted.Measurements, "rejected", s.RejectedTotal())
	}
	return rc
}

func (ru *run) saveProcessed(ctx context.Context, ds core.Dataset) error {
	if ru.r.blobs == nil {
		return nil
	}
	if err := tabular.SaveProcessed(ctx, ru.r.blobs, ru.summary.RunID, ds); err != nil {
		return fmt.Errorf("save processed: %w", err)
	}
	for _, table := range tabular.Tables {
		ru.summary.ProcessedKeys = append(ru.summary.ProcessedKeys, tabular.ProcessedKey(ru.summary.RunID, table))
	}
	return nil
}

func (ru *run) validate(ds core.Dataset, claimed map[core.Level]int) error {
	res, err := core.ValidateDataset(ds, claimed)
	ru.summary.Warnings = append(ru.summary.Warnings, res.Warnings...)
	for _, w := range res.Warnings {
		ru.log.Warn("validation warning", "code", w.Code, "message", w.Message)
	}
	return err
}

func (ru *run) load(ctx context.Context, ds core.Dataset) error {
	r := ru.r
	loader := snapshot.NewLoader(r.store, r.opts.Load)
	loader.OnRetry = func(attempt int, err error) {
		r.metrics.LoadRetry()
	}

	meta := snapshot.Meta{
		RunID:         ru.summary.RunID,
		CorrelationID: ru.summary.CorrelationID,
		CreatedAt:     ru.summary.StartedAt.UTC(),
	}
	h, err := loader.Commit(ctx, meta, ds)
	if err != nil {
		var swe *core.StorageWriteError
		if errors.As(err, &swe) {
			r.metrics.LoadAttempts(swe.Attempts)
		}
		return err
	}
	r.metrics.LoadAttempts(h.Attempts)
	ru.summary.Snapshot = &h
	return nil
}
