package core

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// foldString case-folds s. A cases.Caser is stateful, so each call builds its own.
func foldString(s string) string {
	return cases.Fold().String(s)
}

// collapseSpace trims s and replaces internal whitespace runs with one space.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeName returns the comparison form of a display name: trimmed,
// internal whitespace collapsed, NFC-composed and Unicode case-folded.
func NormalizeName(s string) string {
	return foldString(norm.NFC.String(collapseSpace(s)))
}

// EntityKey identifies a geographic entity. Two municipalities with the same
// name under different departments have different keys.
type EntityKey struct {
	Level    Level
	Name     string // NormalizeName form
	ParentID int64  // 0 for the National root
}

// NewEntityKey builds the key for a display name under parentID.
func NewEntityKey(level Level, name string, parentID int64) EntityKey {
	return EntityKey{Level: level, Name: NormalizeName(name), ParentID: parentID}
}

// IndicatorKey identifies an indicator definition.
type IndicatorKey struct {
	Name        string
	ValueType   string
	MeasureType string
}

// NewIndicatorKey builds the key from display values.
func NewIndicatorKey(name, valueType, measureType string) IndicatorKey {
	return IndicatorKey{
		Name:        NormalizeName(name),
		ValueType:   NormalizeName(NormalizeValueType(valueType)),
		MeasureType: NormalizeName(measureType),
	}
}

// MeasurementKey is the uniqueness key of the fact table.
type MeasurementKey struct {
	EntityID    int64
	IndicatorID int64
	Year        int
}
