package core

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
)

// Level is a position in the geographic hierarchy.
type Level int

const (
	LevelNational Level = iota + 1
	LevelRegional
	LevelDepartmental
	LevelMunicipal
)

// Levels lists every level in resolution order. Sources are folded in this
// order so parents are always seen before their children.
var Levels = []Level{LevelNational, LevelRegional, LevelDepartmental, LevelMunicipal}

// MaxDepth is the deepest chain a well-formed hierarchy may contain,
// counting the National root as depth 1.
const MaxDepth = 4

// String returns the label stored in artifacts.
func (l Level) String() string {
	switch l {
	case LevelNational:
		return "Nacional"
	case LevelRegional:
		return "Regional"
	case LevelDepartmental:
		return "Departamental"
	case LevelMunicipal:
		return "Municipal"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// Slug returns the lowercase key used in file names and URLs.
func (l Level) Slug() string {
	return strings.ToLower(l.String())
}

// Parent returns the immediately enclosing level. National has no parent.
func (l Level) Parent() (Level, bool) {
	switch l {
	case LevelRegional, LevelDepartmental:
		return LevelNational, true
	case LevelMunicipal:
		return LevelDepartmental, true
	default:
		return 0, false
	}
}

// Depth is the length of the chain from the National root to an entity of this level.
func (l Level) Depth() int {
	d := 1
	for cur := l; ; d++ {
		p, ok := cur.Parent()
		if !ok {
			return d
		}
		cur = p
	}
}

// ParseLevel accepts either the stored label or the slug (case-insensitive).
func ParseLevel(s string) (Level, error) {
	for _, l := range Levels {
		if strings.EqualFold(s, l.String()) {
			return l, nil
		}
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "national", "nacional":
		return LevelNational, nil
	case "regional":
		return LevelRegional, nil
	case "departmental", "departamental":
		return LevelDepartmental, nil
	case "municipal":
		return LevelMunicipal, nil
	}
	return 0, fmt.Errorf("unknown level %q", s)
}

// Value types with special handling. Anything else passes through unchanged.
const (
	ValuePercentage = "Percentage"
	ValueCount      = "Count"
)

// NormalizeValueType maps the spellings found in the sources onto a stable value type.
func NormalizeValueType(raw string) string {
	v := collapseSpace(raw)
	switch foldString(v) {
	case "porcentaje", "percentage", "percent", "%":
		return ValuePercentage
	case "conteo", "count", "número", "numero", "cantidad":
		return ValueCount
	}
	return v
}

// GeographicEntity is one node of the geographic hierarchy.
// ParentID is nil only for the National root.
type GeographicEntity struct {
	ID           int64
	Level        Level
	Name         string
	ParentID     *int64
	ExternalCode string
}

// IndicatorDefinition is one distinct (name, value type, measure type) combination.
type IndicatorDefinition struct {
	ID          int64
	Name        string
	ValueType   string
	MeasureType string
}

// Measurement is one observation. (EntityID, IndicatorID, Year) is unique per dataset.
type Measurement struct {
	ID          int64
	EntityID    int64
	IndicatorID int64
	Year        int
	Value       float64
}

// Key returns the measurement's natural key.
func (m Measurement) Key() MeasurementKey {
	return MeasurementKey{EntityID: m.EntityID, IndicatorID: m.IndicatorID, Year: m.Year}
}

// Dataset is the normalized triple handed from Transform to Load.
// Slices are ordered by ascending id.
type Dataset struct {
	Entities     []GeographicEntity
	Indicators   []IndicatorDefinition
	Measurements []Measurement
}

// CountByLevel returns the number of entities at each level.
func (d Dataset) CountByLevel() map[Level]int {
	out := make(map[Level]int, len(Levels))
	for _, e := range d.Entities {
		out[e.Level]++
	}
	return out
}

// CanonicalRow is one source row after level-specific column mapping.
// Null cells are represented with Valid=false.
type CanonicalRow struct {
	Source string // File the row came from
	Line   int    // 1-based line number including the header

	Level      Level
	Name       string
	ParentName string // Enclosing entity name; only consulted when the parent is not National
	Code       string // DANE code, when the source carries one

	Indicator   string
	ValueType   string
	MeasureType string

	Year     pgtype.Int4
	Value    pgtype.Float8
	National pgtype.Float8 // Embedded national comparator, when the source carries one
}
