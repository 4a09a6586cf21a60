package core

// IndicatorRegistry maps (name, value type, measure type) to stable indicator ids.
// Like EntityResolver it only appends and is owned by a single run.
type IndicatorRegistry struct {
	arena []IndicatorDefinition
	byKey map[IndicatorKey]int64
}

func NewIndicatorRegistry() *IndicatorRegistry {
	return &IndicatorRegistry{byKey: make(map[IndicatorKey]int64)}
}

// Resolve returns the id for the definition, creating it on first encounter.
// The first-seen spelling is kept for display.
func (r *IndicatorRegistry) Resolve(name, valueType, measureType string) (int64, error) {
	if NormalizeName(name) == "" {
		return 0, &InvalidIndicatorError{Name: name, Reason: "empty name"}
	}
	if collapseSpace(valueType) == "" {
		return 0, &InvalidIndicatorError{Name: name, Reason: "empty value type"}
	}

	key := NewIndicatorKey(name, valueType, measureType)
	if id, ok := r.byKey[key]; ok {
		return id, nil
	}

	id := int64(len(r.arena) + 1)
	r.arena = append(r.arena, IndicatorDefinition{
		ID:          id,
		Name:        collapseSpace(name),
		ValueType:   NormalizeValueType(valueType),
		MeasureType: collapseSpace(measureType),
	})
	r.byKey[key] = id
	return id, nil
}

// Get returns the definition with the given id.
func (r *IndicatorRegistry) Get(id int64) (IndicatorDefinition, bool) {
	if id <= 0 || id > int64(len(r.arena)) {
		return IndicatorDefinition{}, false
	}
	return r.arena[id-1], true
}

func (r *IndicatorRegistry) Len() int { return len(r.arena) }

// Indicators returns a copy of the indicator table ordered by id.
func (r *IndicatorRegistry) Indicators() []IndicatorDefinition {
	out := make([]IndicatorDefinition, len(r.arena))
	copy(out, r.arena)
	return out
}
