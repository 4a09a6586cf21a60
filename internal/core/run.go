package core

import (
	"fmt"
	"sort"
)

// Options configures the identity and fact tables of a run.
type Options struct {
	NationalName string
	Parents      ParentPolicy
	SampleSize   int // Sample rows kept per rejection reason
}

// RunContext owns every piece of mutable state of one Transform: the entity and
// indicator arenas with their natural-key indexes, the fact table and the
// rejection report. It is passed explicitly through each stage and must be
// driven from a single goroutine.
type RunContext struct {
	ID            string
	CorrelationID string

	Entities   *EntityResolver
	Indicators *IndicatorRegistry
	Facts      *FactBuilder
	Rejections *RejectionReport

	Rows       int
	Candidates int
	Accepted   int

	claimed   map[Level]int
	conflicts map[MeasurementKey]int
	warnings  []Warning
}

// NewRunContext returns an empty run.
func NewRunContext(id, correlationID string, opts Options) *RunContext {
	entities := NewEntityResolver(opts.NationalName, opts.Parents)
	indicators := NewIndicatorRegistry()
	return &RunContext{
		ID:            id,
		CorrelationID: correlationID,
		Entities:      entities,
		Indicators:    indicators,
		Facts:         NewFactBuilder(entities, indicators),
		Rejections:    NewRejectionReport(opts.SampleSize),
		claimed:       make(map[Level]int),
		conflicts:     make(map[MeasurementKey]int),
	}
}

// Ingest folds a single row and records its outcome.
func (rc *RunContext) Ingest(row CanonicalRow) RowOutcome {
	out := rc.Facts.Ingest(row)

	rc.Rows++
	rc.claimed[row.Level]++
	rc.Candidates += out.Candidates
	rc.Accepted += len(out.Accepted)
	for _, rej := range out.Rejections {
		rc.Rejections.Add(rej)
		if dup, ok := rej.Err.(*DuplicateMeasurementError); ok && dup.Conflict() {
			rc.conflicts[dup.Key]++
		}
	}
	return out
}

// Fold ingests rows in hierarchy order. Within a level the given order is kept,
// so callers pass rows ordered by source file, then line.
func (rc *RunContext) Fold(rows []CanonicalRow) {
	ordered := make([]CanonicalRow, len(rows))
	copy(ordered, rows)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Level < ordered[j].Level
	})
	for _, row := range ordered {
		rc.Ingest(row)
	}
}

// Claimed returns how many source rows named each level.
func (rc *RunContext) Claimed() map[Level]int {
	out := make(map[Level]int, len(rc.claimed))
	for k, v := range rc.claimed {
		out[k] = v
	}
	return out
}

// Dataset snapshots the identity and fact tables.
func (rc *RunContext) Dataset() Dataset {
	return Dataset{
		Entities:     rc.Entities.Entities(),
		Indicators:   rc.Indicators.Indicators(),
		Measurements: rc.Facts.Measurements(),
	}
}

// Warn attaches a warning to the run.
func (rc *RunContext) Warn(w ...Warning) {
	rc.warnings = append(rc.warnings, w...)
}

// Warnings returns run-level warnings followed by one warning per measurement
// key that received divergent duplicate values.
func (rc *RunContext) Warnings() []Warning {
	out := append([]Warning(nil), rc.warnings...)

	keys := make([]MeasurementKey, 0, len(rc.conflicts))
	for k := range rc.conflicts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.EntityID != b.EntityID {
			return a.EntityID < b.EntityID
		}
		if a.IndicatorID != b.IndicatorID {
			return a.IndicatorID < b.IndicatorID
		}
		return a.Year < b.Year
	})

	nationalID := rc.Entities.nationalID
	for _, k := range keys {
		e, _ := rc.Entities.Get(k.EntityID)
		ind, _ := rc.Indicators.Get(k.IndicatorID)
		code := WarnValueConflict
		if k.EntityID == nationalID {
			code = WarnComparatorConflict
		}
		out = append(out, Warning{
			Code: code,
			Message: fmt.Sprintf("%s %q, %q %d: %d divergent value(s) rejected, first-seen value kept",
				e.Level, e.Name, ind.Name, k.Year, rc.conflicts[k]),
		})
	}
	return out
}

// Conflicts is the number of rejected duplicates whose value differed from the kept one.
func (rc *RunContext) Conflicts() int {
	n := 0
	for _, v := range rc.conflicts {
		n += v
	}
	return n
}
