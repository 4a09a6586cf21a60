package core

import (
	"errors"
	"testing"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Antioquia", "antioquia"},
		{"  ANTIOQUIA  ", "antioquia"},
		{"San  Andrés\ty Providencia", "san andrés y providencia"},
		{"", ""},
		{"   ", ""},
	}

	for _, tt := range tests {
		if got := NormalizeName(tt.in); got != tt.want {
			t.Errorf("NormalizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeValueType(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Porcentaje", ValuePercentage},
		{" porcentaje ", ValuePercentage},
		{"Percentage", ValuePercentage},
		{"Conteo", ValueCount},
		{"Índice", "Índice"},
	}

	for _, tt := range tests {
		if got := NormalizeValueType(tt.in); got != tt.want {
			t.Errorf("NormalizeValueType(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLevel(t *testing.T) {
	tests := []struct {
		level  Level
		parent Level
		depth  int
	}{
		{LevelNational, 0, 1},
		{LevelRegional, LevelNational, 2},
		{LevelDepartmental, LevelNational, 2},
		{LevelMunicipal, LevelDepartmental, 3},
	}

	for _, tt := range tests {
		p, _ := tt.level.Parent()
		if p != tt.parent {
			t.Errorf("%s.Parent() = %v, want %v", tt.level, p, tt.parent)
		}
		if got := tt.level.Depth(); got != tt.depth {
			t.Errorf("%s.Depth() = %d, want %d", tt.level, got, tt.depth)
		}
		parsed, err := ParseLevel(tt.level.Slug())
		if err != nil || parsed != tt.level {
			t.Errorf("ParseLevel(%q) = %v, %v", tt.level.Slug(), parsed, err)
		}
	}

	if _, err := ParseLevel("galactic"); err == nil {
		t.Error("ParseLevel(galactic) expected error")
	}
}

// =============================================================================
// EntityResolver
// =============================================================================

func TestEntityResolver_NationalIsLazyAndUnique(t *testing.T) {
	r := NewEntityResolver("Colombia", ParentsStrict)
	if r.Len() != 0 {
		t.Fatalf("Len() = %d before any reference, want 0", r.Len())
	}

	first := r.National()
	second, err := r.Resolve(LevelNational, "ignored", "")
	if err != nil {
		t.Fatalf("Resolve(National) error = %v", err)
	}
	if first != second {
		t.Errorf("National ids differ: %d vs %d", first, second)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}

	e, _ := r.Get(first)
	if e.Name != "Colombia" || e.ParentID != nil || e.Level != LevelNational {
		t.Errorf("National entity = %+v", e)
	}
}

func TestEntityResolver_Idempotent(t *testing.T) {
	r := NewEntityResolver("Colombia", ParentsStrict)

	a, err := r.Resolve(LevelDepartmental, "Antioquia", "")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	b, err := r.Resolve(LevelDepartmental, "  ANTIOQUIA ", "")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if a != b {
		t.Errorf("same department resolved to %d and %d", a, b)
	}

	e, _ := r.Get(a)
	if e.Name != "Antioquia" {
		t.Errorf("display name = %q, want first-seen %q", e.Name, "Antioquia")
	}
	if e.ParentID == nil || *e.ParentID != r.National() {
		t.Errorf("department parent = %v, want national %d", e.ParentID, r.National())
	}
}

func TestEntityResolver_RegionalParentIsNational(t *testing.T) {
	r := NewEntityResolver("Colombia", ParentsStrict)
	id, err := r.Resolve(LevelRegional, "Caribe", "")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	e, _ := r.Get(id)
	if e.ParentID == nil || *e.ParentID != r.National() {
		t.Errorf("region parent = %v, want national", e.ParentID)
	}
}

func TestEntityResolver_StrictMissingParent(t *testing.T) {
	r := NewEntityResolver("Colombia", ParentsStrict)
	if _, err := r.Resolve(LevelDepartmental, "Antioquia", ""); err != nil {
		t.Fatal(err)
	}
	before := r.Len()

	_, err := r.Resolve(LevelMunicipal, "Medellín", "Atlantis")
	if !errors.Is(err, ErrMissingParent) {
		t.Fatalf("Resolve() error = %v, want ErrMissingParent", err)
	}
	var mp *MissingParentError
	if !errors.As(err, &mp) || mp.ParentName != "Atlantis" || mp.ParentLevel != LevelDepartmental {
		t.Errorf("MissingParentError = %+v", mp)
	}
	if r.Len() != before {
		t.Errorf("Len() = %d after failed resolve, want %d", r.Len(), before)
	}
}

func TestEntityResolver_ParentResolvedBeforeChild(t *testing.T) {
	r := NewEntityResolver("Colombia", ParentsImplicit)

	muni, err := r.Resolve(LevelMunicipal, "Medellín", "Antioquia")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	m, _ := r.Get(muni)
	if m.ParentID == nil {
		t.Fatal("municipality has no parent")
	}
	dept, _ := r.Get(*m.ParentID)
	if dept.Level != LevelDepartmental || dept.Name != "Antioquia" {
		t.Errorf("parent = %+v, want Departamental Antioquia", dept)
	}
	if dept.ID >= m.ID {
		t.Errorf("parent id %d not lower than child id %d", dept.ID, m.ID)
	}
	if dept.ParentID == nil || *dept.ParentID != r.National() {
		t.Errorf("department parent = %v, want national", dept.ParentID)
	}
}

func TestEntityResolver_SameNameDifferentParent(t *testing.T) {
	r := NewEntityResolver("Colombia", ParentsImplicit)

	a, err := r.Resolve(LevelMunicipal, "La Unión", "Antioquia")
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.Resolve(LevelMunicipal, "La Unión", "Nariño")
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Errorf("municipalities in different departments share id %d", a)
	}
}

func TestEntityResolver_InvalidInput(t *testing.T) {
	tests := []struct {
		name   string
		policy ParentPolicy
		level  Level
		child  string
		parent string
		want   error
	}{
		{"empty name", ParentsStrict, LevelDepartmental, "  ", "", ErrMalformedRow},
		{"empty parent strict", ParentsStrict, LevelMunicipal, "Medellín", "", ErrMissingParent},
		{"empty parent implicit", ParentsImplicit, LevelMunicipal, "Medellín", " ", ErrMissingParent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewEntityResolver("Colombia", tt.policy)
			_, err := r.Resolve(tt.level, tt.child, tt.parent)
			if !errors.Is(err, tt.want) {
				t.Errorf("Resolve() error = %v, want %v", err, tt.want)
			}
		})
	}
}

// =============================================================================
// IndicatorRegistry
// =============================================================================

func TestIndicatorRegistry(t *testing.T) {
	r := NewIndicatorRegistry()

	a, err := r.Resolve("Inseguridad Alimentaria Grave", "Porcentaje", "Prevalencia")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := r.Resolve("inseguridad  alimentaria grave", "Percentage", " prevalencia")
	if a != b {
		t.Errorf("equivalent definitions resolved to %d and %d", a, b)
	}
	c, _ := r.Resolve("Inseguridad Alimentaria Grave", "Porcentaje", "Incidencia")
	if c == a {
		t.Error("different measure type shared an id")
	}

	def, _ := r.Get(a)
	if def.ValueType != ValuePercentage || def.Name != "Inseguridad Alimentaria Grave" {
		t.Errorf("definition = %+v", def)
	}

	if _, err := r.Resolve("  ", "Porcentaje", "Prevalencia"); !errors.Is(err, ErrInvalidIndicator) {
		t.Errorf("Resolve(empty) error = %v, want ErrInvalidIndicator", err)
	}
	if _, err := r.Resolve("Inseguridad Alimentaria Grave", " ", "Prevalencia"); !errors.Is(err, ErrInvalidIndicator) {
		t.Errorf("Resolve(empty value type) error = %v, want ErrInvalidIndicator", err)
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}
}
