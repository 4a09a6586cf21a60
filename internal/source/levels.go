package source

import "github.com/JonMunkholm/inseguridad/internal/core"

func init() {
	registerRegional()
	registerDepartmental()
	registerMunicipal()
}

func registerRegional() {
	Register(Definition{
		Level:        core.LevelRegional,
		File:         "Regional.csv",
		NameCol:      "region",
		ValueCol:     "dato_region",
		NationalCol:  "dato_nacional",
		IndicatorCol: "indicador",
		ValueTypeCol: "tipo_dato",
		YearCol:      "año",
	})
}

func registerDepartmental() {
	Register(Definition{
		Level:        core.LevelDepartmental,
		File:         "Departamental.csv",
		NameCol:      "departamento",
		ValueCol:     "dato_departamento",
		NationalCol:  "dato_nacional",
		MeasureCol:   "tipo_de_medida",
		IndicatorCol: "indicador",
		ValueTypeCol: "tipo_dato",
		YearCol:      "año",
		CodeCol:      "codigo_dane",
	})
}

func registerMunicipal() {
	Register(Definition{
		Level:        core.LevelMunicipal,
		File:         "Municipal.csv",
		NameCol:      "municipio",
		ParentCol:    "departamento",
		ValueCol:     "dato_municipio",
		NationalCol:  "dato_nacional",
		MeasureCol:   "tipo_de_medida",
		IndicatorCol: "indicador",
		ValueTypeCol: "tipo_dato",
		YearCol:      "año",
		Extra:        []string{"dato_departamento"},
		CodeCol:      "codigo_dane",
	})
}
