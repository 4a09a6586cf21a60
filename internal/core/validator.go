package core

import (
	"fmt"
	"sort"
)

// ValidationResult holds the non-fatal findings of ValidateDataset.
type ValidationResult struct {
	Warnings []Warning
}

// ValidateDataset checks a dataset before anything is persisted.
//
// Fatal, returned as *IntegrityViolationError: a National root count other
// than one, a cycle in any parent chain, zero measurements, and a level that
// source rows claimed but that has no entities. Everything else is a warning.
// claimed may be nil when the source row counts are unknown.
func ValidateDataset(ds Dataset, claimed map[Level]int) (ValidationResult, error) {
	var (
		res        ValidationResult
		violations []string
	)
	warn := func(code, format string, args ...any) {
		res.Warnings = append(res.Warnings, Warning{Code: code, Message: fmt.Sprintf(format, args...)})
	}

	byID := make(map[int64]GeographicEntity, len(ds.Entities))
	for _, e := range ds.Entities {
		byID[e.ID] = e
	}

	roots := 0
	for _, e := range ds.Entities {
		switch {
		case e.Level == LevelNational && e.ParentID == nil:
			roots++
		case e.Level == LevelNational:
			violations = append(violations, fmt.Sprintf("national entity %d has a parent", e.ID))
		case e.ParentID == nil:
			warn(WarnOrphan, "%s %q (id %d) has no parent", e.Level, e.Name, e.ID)
		}
	}
	if roots != 1 {
		violations = append(violations, fmt.Sprintf("expected exactly one national entity, found %d", roots))
	}

	for _, e := range ds.Entities {
		depth, cyclic, dangling := walkChain(e, byID)
		switch {
		case cyclic:
			violations = append(violations, fmt.Sprintf("parent chain of %s %q (id %d) forms a cycle", e.Level, e.Name, e.ID))
			continue
		case dangling != 0:
			warn(WarnDanglingReference, "%s %q (id %d) chain references missing entity %d", e.Level, e.Name, e.ID, dangling)
		case depth > MaxDepth:
			warn(WarnDepthExceeded, "%s %q (id %d) chain depth %d exceeds %d", e.Level, e.Name, e.ID, depth, MaxDepth)
		}
		if e.ParentID == nil {
			continue
		}
		if p, ok := byID[*e.ParentID]; ok {
			if want, _ := e.Level.Parent(); p.Level != want {
				warn(WarnParentLevel, "%s %q (id %d) has %s parent %q, want %s", e.Level, e.Name, e.ID, p.Level, p.Name, want)
			}
		}
	}

	counts := ds.CountByLevel()
	for _, l := range Levels {
		if claimed[l] > 0 && counts[l] == 0 {
			violations = append(violations, fmt.Sprintf("%d source row(s) claimed level %s but no entities were produced", claimed[l], l))
		}
	}

	if len(ds.Measurements) == 0 {
		violations = append(violations, "no measurements produced")
	}

	indicators := make(map[int64]IndicatorDefinition, len(ds.Indicators))
	for _, ind := range ds.Indicators {
		indicators[ind.ID] = ind
	}
	outOfRange := make(map[int64]int)
	seen := make(map[MeasurementKey]struct{}, len(ds.Measurements))
	for _, m := range ds.Measurements {
		if _, ok := byID[m.EntityID]; !ok {
			warn(WarnDanglingReference, "measurement %d references missing entity %d", m.ID, m.EntityID)
		}
		ind, ok := indicators[m.IndicatorID]
		if !ok {
			warn(WarnDanglingReference, "measurement %d references missing indicator %d", m.ID, m.IndicatorID)
		} else if ind.ValueType == ValuePercentage && (m.Value < 0 || m.Value > 1) {
			outOfRange[m.IndicatorID]++
		}
		if _, dup := seen[m.Key()]; dup {
			warn(WarnDuplicateKey, "measurement %d repeats key (%d, %d, %d)", m.ID, m.EntityID, m.IndicatorID, m.Year)
		}
		seen[m.Key()] = struct{}{}
	}

	ids := make([]int64, 0, len(outOfRange))
	for id := range outOfRange {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		warn(WarnPercentageRange, "indicator %q has %d percentage value(s) outside [0,1]", indicators[id].Name, outOfRange[id])
	}

	if len(violations) > 0 {
		return res, &IntegrityViolationError{Violations: violations}
	}
	return res, nil
}

// walkChain follows parent links from e to the root. It reports the chain
// length, whether it revisits a node, and the first missing parent id.
func walkChain(e GeographicEntity, byID map[int64]GeographicEntity) (depth int, cyclic bool, dangling int64) {
	visited := map[int64]bool{e.ID: true}
	depth = 1
	cur := e
	for cur.ParentID != nil {
		pid := *cur.ParentID
		if visited[pid] {
			return depth, true, 0
		}
		p, ok := byID[pid]
		if !ok {
			return depth, false, pid
		}
		visited[pid] = true
		depth++
		cur = p
	}
	return depth, false, 0
}
