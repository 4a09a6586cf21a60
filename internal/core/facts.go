package core

// FactBuilder turns canonical rows into measurements.
//
// Per row: resolve the entity and the indicator, then evaluate the primary
// value and, when present, the embedded national comparator as a second
// independent candidate against the National root. A candidate is accepted only
// when its value is non-null and its natural key is unseen; the first accepted
// value for a key is kept.
type FactBuilder struct {
	entities   *EntityResolver
	indicators *IndicatorRegistry

	measurements []Measurement
	seen         map[MeasurementKey]int // index into measurements
}

func NewFactBuilder(entities *EntityResolver, indicators *IndicatorRegistry) *FactBuilder {
	return &FactBuilder{
		entities:   entities,
		indicators: indicators,
		seen:       make(map[MeasurementKey]int),
	}
}

// Ingest folds one row into the fact table. It never fails: every problem is
// reported as a tagged rejection in the outcome.
func (f *FactBuilder) Ingest(row CanonicalRow) RowOutcome {
	out := RowOutcome{Candidates: 1}

	reject := func(c Candidate, err error) {
		out.Rejections = append(out.Rejections, Rejection{
			Source:    row.Source,
			Line:      row.Line,
			Candidate: c,
			Reason:    ReasonOf(err),
			Err:       err,
		})
	}

	entityID, err := f.entities.Resolve(row.Level, row.Name, row.ParentName)
	if err != nil {
		reject(CandidatePrimary, err)
		return out
	}
	f.entities.SetCode(entityID, row.Code)
	indicatorID, err := f.indicators.Resolve(row.Indicator, row.ValueType, row.MeasureType)
	if err != nil {
		reject(CandidatePrimary, err)
		return out
	}
	if !row.Year.Valid {
		reject(CandidatePrimary, &MalformedRowError{Field: "year"})
		return out
	}
	year := int(row.Year.Int32)

	// A null primary stops the row; a duplicate primary does not.
	if !row.Value.Valid {
		reject(CandidatePrimary, &NullValueError{Column: "value"})
		return out
	}
	if m, err := f.add(entityID, indicatorID, year, row.Value.Float64); err != nil {
		reject(CandidatePrimary, err)
	} else {
		out.Accepted = append(out.Accepted, m)
	}

	if !row.National.Valid {
		return out
	}
	out.Candidates++
	nationalID := f.entities.National()
	if m, err := f.add(nationalID, indicatorID, year, row.National.Float64); err != nil {
		reject(CandidateComparator, err)
	} else {
		out.Accepted = append(out.Accepted, m)
	}
	return out
}

func (f *FactBuilder) add(entityID, indicatorID int64, year int, value float64) (Measurement, error) {
	key := MeasurementKey{EntityID: entityID, IndicatorID: indicatorID, Year: year}
	if i, ok := f.seen[key]; ok {
		return Measurement{}, &DuplicateMeasurementError{
			Key:      key,
			Existing: f.measurements[i].Value,
			Rejected: value,
		}
	}

	m := Measurement{
		ID:          int64(len(f.measurements) + 1),
		EntityID:    entityID,
		IndicatorID: indicatorID,
		Year:        year,
		Value:       value,
	}
	f.seen[key] = len(f.measurements)
	f.measurements = append(f.measurements, m)
	return m, nil
}

func (f *FactBuilder) Len() int { return len(f.measurements) }

// Measurements returns a copy of the fact table ordered by id.
func (f *FactBuilder) Measurements() []Measurement {
	out := make([]Measurement, len(f.measurements))
	copy(out, f.measurements)
	return out
}
