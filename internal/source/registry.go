// Package source turns per-level tabular files into canonical rows.
//
// Each geographic level has one [Definition] describing its columns; the
// definitions register themselves at init time. [Parse] validates a file's
// header against its definition and maps every data row, and [Extract] parses
// every registered source in parallel.
package source

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/JonMunkholm/inseguridad/internal/core"
)

// Definition describes the column set of one level's source.
// Column names are matched case-insensitively after header normalization.
type Definition struct {
	Level core.Level
	File  string // Base file name under the source directory

	NameCol     string
	ParentCol   string // Empty when the parent is the National root
	ValueCol    string
	NationalCol string // Embedded national comparator
	MeasureCol  string // Empty when the source carries no measure type

	IndicatorCol string
	ValueTypeCol string
	YearCol      string

	Extra []string // Further required columns kept only in curated output

	CodeCol string // Optional DANE code column, read only when the header has it
}

// Required lists every column the source must carry, in declaration order.
func (d Definition) Required() []string {
	cols := []string{d.NameCol}
	if d.ParentCol != "" {
		cols = append(cols, d.ParentCol)
	}
	cols = append(cols, d.YearCol, d.IndicatorCol, d.ValueCol)
	if d.NationalCol != "" {
		cols = append(cols, d.NationalCol)
	}
	cols = append(cols, d.ValueTypeCol)
	if d.MeasureCol != "" {
		cols = append(cols, d.MeasureCol)
	}
	return append(cols, d.Extra...)
}

var (
	registry   = make(map[core.Level]Definition)
	registryMu sync.RWMutex
)

// Register adds a definition. Panics if the level is already registered.
func Register(def Definition) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[def.Level]; exists {
		panic(fmt.Sprintf("source already registered: %s", def.Level))
	}
	registry[def.Level] = def
}

// Get returns the definition for level.
func Get(level core.Level) (Definition, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	def, ok := registry[level]
	return def, ok
}

// All returns every registered definition in hierarchy order.
func All() []Definition {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]Definition, 0, len(registry))
	for _, def := range registry {
		result = append(result, def)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Level < result[j].Level })
	return result
}

// ForFile returns the definition whose File matches name, ignoring case.
func ForFile(name string) (Definition, bool) {
	for _, def := range All() {
		if strings.EqualFold(def.File, name) {
			return def, true
		}
	}
	return Definition{}, false
}
