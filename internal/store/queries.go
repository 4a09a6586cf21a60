// Package store holds the SQL shared by the relational snapshot backends.
// Statements use unqualified table names; the postgres backend scopes them
// with search_path.
package store

// Quality check queries. Each returns a single integer.
const (
	CountEntities     = `SELECT COUNT(*) FROM geografia`
	CountIndicators   = `SELECT COUNT(*) FROM indicadores`
	CountMeasurements = `SELECT COUNT(*) FROM datos_medicion`

	OrphanEntities = `SELECT COUNT(*) FROM datos_medicion dm
		LEFT JOIN geografia g ON dm.id_geografia = g.id_geografia
		WHERE g.id_geografia IS NULL`

	OrphanIndicators = `SELECT COUNT(*) FROM datos_medicion dm
		LEFT JOIN indicadores i ON dm.id_indicador = i.id_indicador
		WHERE i.id_indicador IS NULL`

	OrphanParents = `SELECT COUNT(*) FROM geografia g
		LEFT JOIN geografia p ON g.id_padre = p.id_geografia
		WHERE g.id_padre IS NOT NULL AND p.id_geografia IS NULL`

	NullValues = `SELECT COUNT(*) FROM datos_medicion WHERE valor IS NULL`

	Duplicates = `SELECT COUNT(*) FROM (
		SELECT id_geografia, id_indicador, año
		FROM datos_medicion
		GROUP BY id_geografia, id_indicador, año
		HAVING COUNT(*) > 1
	) d`
)

// LevelSummary returns (nivel, entities, measurements) per level, most
// measurements first.
const LevelSummary = `SELECT g.nivel, COUNT(DISTINCT g.id_geografia), COUNT(dm.id_medicion)
	FROM geografia g
	LEFT JOIN datos_medicion dm ON dm.id_geografia = g.id_geografia
	GROUP BY g.nivel
	ORDER BY COUNT(dm.id_medicion) DESC, g.nivel`

// Insert statements, in load order. Placeholders are rewritten per driver.
var (
	InsertEntity      = Insert("geografia", "id_geografia", "nivel", "nombre", "id_padre", "codigo_dane")
	InsertIndicator   = Insert("indicadores", "id_indicador", "nombre_indicador", "tipo_dato", "tipo_de_medida")
	InsertMeasurement = Insert("datos_medicion", "id_medicion", "id_geografia", "id_indicador", "año", "valor")
)

// Statement is an INSERT with its column list.
type Statement struct {
	Table   string
	Columns []string
}

// Insert describes an INSERT into table.
func Insert(table string, columns ...string) Statement {
	return Statement{Table: table, Columns: columns}
}

// SQL renders the statement with placeholders produced by ph (1-based).
func (s Statement) SQL(ph func(n int) string) string {
	q := "INSERT INTO " + s.Table + " ("
	vals := ""
	for i, c := range s.Columns {
		if i > 0 {
			q += ", "
			vals += ", "
		}
		q += c
		vals += ph(i + 1)
	}
	return q + ") VALUES (" + vals + ")"
}
