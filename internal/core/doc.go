// Package core holds the Transform logic of the food-insecurity pipeline.
//
// It has no I/O: sources are parsed by package source and snapshots are
// written by package snapshot. Everything here runs in memory on one goroutine.
//
// # Identity tables
//
// [EntityResolver] maps (level, normalized name, parent id) to a surrogate id
// and [IndicatorRegistry] maps (name, value type, measure type) to one. Both
// append to an arena indexed by id and never mutate existing rows:
//
//	rc := core.NewRunContext(runID, corrID, core.Options{NationalName: "Colombia"})
//	rc.Fold(rows)
//	ds := rc.Dataset()
//
// # Facts
//
// [FactBuilder] turns each [CanonicalRow] into zero, one or two [Measurement]
// values. Failures are returned as tagged [Rejection] values and folded into a
// [RejectionReport]; they never abort the batch.
//
// # Validation
//
// [ValidateDataset] certifies the triple before it is persisted. Structural
// failures are returned as [IntegrityViolationError].
//
// # Error Handling
//
// Typed errors match sentinels with errors.Is and map to operator codes
// through [MapError].
package core
