package dbspatial

import (
	"database/sql"
	"fmt"
	"strings"
)

// spatialTable describes one geometry-bearing table found in the catalog.
type spatialTable struct {
	schema     string
	name       string
	geomColumn string
	geomType   string
	srid       int64
}

// dialect isolates catalog access, identifier quoting and the extent query,
// which all differ between postgres and mysql.
type dialect interface {
	name() string
	spatialTables(db *sql.DB) ([]spatialTable, error)
	columns(db *sql.DB, t spatialTable) (*sql.Rows, error)
	extentQuery(t spatialTable) string
	wkbExpr(column string) string
	quote(ident string) string
}

func dialectFor(dbt string) dialect {
	if dbt == "mysql" {
		return mysqlDialect{}
	}
	return postgresDialect{}
}

func qualified(d dialect, t spatialTable) string {
	if t.schema == "" {
		return d.quote(t.name)
	}
	return d.quote(t.schema) + "." + d.quote(t.name)
}

type postgresDialect struct{}

func (postgresDialect) name() string { return "postgres" }

func (postgresDialect) quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (postgresDialect) spatialTables(db *sql.DB) ([]spatialTable, error) {
	rows, err := db.Query(`SELECT f_table_schema, f_table_name, f_geometry_column, type, srid
		FROM geometry_columns ORDER BY f_table_schema, f_table_name`)
	if err != nil {
		return nil, fmt.Errorf("can't query geometry_columns, is postgis installed: %w", err)
	}
	defer rows.Close()

	var res []spatialTable
	for rows.Next() {
		var t spatialTable
		if err := rows.Scan(&t.schema, &t.name, &t.geomColumn, &t.geomType, &t.srid); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (postgresDialect) columns(db *sql.DB, t spatialTable) (*sql.Rows, error) {
	return db.Query(`SELECT column_name, data_type, is_nullable FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2 ORDER BY ordinal_position`, t.schema, t.name)
}

func (d postgresDialect) extentQuery(t spatialTable) string {
	// ST_Extent returns "BOX(minx miny,maxx maxy)"
	return fmt.Sprintf(`SELECT ST_Extent(%s)::text FROM %s`, d.quote(t.geomColumn), qualified(d, t))
}

func (d postgresDialect) wkbExpr(column string) string {
	return fmt.Sprintf("ST_AsBinary(%s)", d.quote(column))
}

type mysqlDialect struct{}

func (mysqlDialect) name() string { return "mysql" }

func (mysqlDialect) quote(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

func (mysqlDialect) spatialTables(db *sql.DB) ([]spatialTable, error) {
	rows, err := db.Query(`SELECT TABLE_NAME, COLUMN_NAME, COALESCE(GEOMETRY_TYPE_NAME, 'geometry'), COALESCE(SRS_ID, 0)
		FROM INFORMATION_SCHEMA.ST_GEOMETRY_COLUMNS WHERE TABLE_SCHEMA = DATABASE()
		ORDER BY TABLE_NAME`)
	if err != nil {
		return nil, fmt.Errorf("can't query st_geometry_columns: %w", err)
	}
	defer rows.Close()

	var res []spatialTable
	for rows.Next() {
		var t spatialTable
		if err := rows.Scan(&t.name, &t.geomColumn, &t.geomType, &t.srid); err != nil {
			return nil, err
		}
		t.geomType = strings.ToUpper(t.geomType)
		res = append(res, t)
	}
	return res, rows.Err()
}

func (mysqlDialect) columns(db *sql.DB, t spatialTable) (*sql.Rows, error) {
	return db.Query(`SELECT COLUMN_NAME, DATA_TYPE, IS_NULLABLE FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? ORDER BY ORDINAL_POSITION`, t.name)
}

func (d mysqlDialect) extentQuery(t spatialTable) string {
	// mysql has no ST_Extent aggregate, collect then envelope
	return fmt.Sprintf(`SELECT ST_AsText(ST_Envelope(ST_Collect(%s))) FROM %s`,
		d.quote(t.geomColumn), qualified(d, t))
}

func (d mysqlDialect) wkbExpr(column string) string {
	return fmt.Sprintf("ST_AsBinary(%s)", d.quote(column))
}
