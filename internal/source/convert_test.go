package source

import (
	"math"
	"testing"
)

func TestToFloat8(t *testing.T) {
	tests := []struct {
		in    string
		want  float64
		valid bool
	}{
		{"0.033197", 0.033197, true},
		{"0,033197", 0.033197, true},
		{"3,3197%", 0.033197, true},
		{"3.3197 %", 0.033197, true},
		{"1.234,5", 1234.5, true},
		{"1,234.5", 1234.5, true},
		{"1,234,567", 1234567, true},
		{"12 345", 12345, true},
		{"-0.5", -0.5, true},
		{"1e-3", 0.001, true},
		{`="0.25"`, 0.25, true},
		{"", 0, false},
		{"NaN", 0, false},
		{"N/A", 0, false},
		{"-", 0, false},
		{"  nd ", 0, false},
		{"abc", 0, false},
		{"1.2.3", 0, false},
		{"Inf", 0, false},
	}

	for _, tt := range tests {
		got := ToFloat8(tt.in)
		if got.Valid != tt.valid {
			t.Errorf("ToFloat8(%q).Valid = %v, want %v", tt.in, got.Valid, tt.valid)
			continue
		}
		if tt.valid && math.Abs(got.Float64-tt.want) > 1e-12 {
			t.Errorf("ToFloat8(%q) = %v, want %v", tt.in, got.Float64, tt.want)
		}
	}
}

func TestToYear(t *testing.T) {
	tests := []struct {
		in    string
		want  int32
		valid bool
	}{
		{"2022", 2022, true},
		{" 2022 ", 2022, true},
		{"2022.0", 2022, true},
		{"2022,00", 2022, true},
		{"2022.5", 0, false},
		{"22", 0, false},
		{"", 0, false},
		{"año", 0, false},
	}

	for _, tt := range tests {
		got := ToYear(tt.in)
		if got.Valid != tt.valid || got.Int32 != tt.want {
			t.Errorf("ToYear(%q) = %v/%v, want %v/%v", tt.in, got.Int32, got.Valid, tt.want, tt.valid)
		}
	}
}

func TestCleanCell(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  Antioquia ", "Antioquia"},
		{`="Antioquia"`, "Antioquia"},
		{"'Antioquia'", "Antioquia"},
		{"=5", "5"},
	}

	for _, tt := range tests {
		if got := CleanCell(tt.in); got != tt.want {
			t.Errorf("CleanCell(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCleanText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  Antioquia ", "Antioquia"},
		{`="San Andrés"`, "San Andrés"},
		{"La Jagua de Ibirico'", "La Jagua de Ibirico'"},
		{"'Chía", "'Chía"},
		{`="`, `="`},
	}

	for _, tt := range tests {
		if got := CleanText(tt.in); got != tt.want {
			t.Errorf("CleanText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMakeHeaderIndex(t *testing.T) {
	idx := MakeHeaderIndex([]string{"Departamento", " Año ", "Tipo de medida", "tipo_dato", "departamento"})

	tests := []struct {
		col  string
		want int
	}{
		{"departamento", 0},
		{"año", 1},
		{"tipo_de_medida", 2},
		{"tipo_dato", 3},
	}
	for _, tt := range tests {
		if got, ok := idx[tt.col]; !ok || got != tt.want {
			t.Errorf("idx[%q] = %d, %v; want %d", tt.col, got, ok, tt.want)
		}
	}

	alias := MakeHeaderIndex([]string{"anio"})
	if _, ok := alias["año"]; !ok {
		t.Error("alias anio should map to año")
	}

	missing := idx.Missing([]string{"departamento", "indicador", "año"})
	if len(missing) != 1 || missing[0] != "indicador" {
		t.Errorf("Missing() = %v, want [indicador]", missing)
	}
}
