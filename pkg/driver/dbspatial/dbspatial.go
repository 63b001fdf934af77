// Package dbspatial implements a driver for spatial database connections:
// PostGIS over lib/pq and MySQL spatial tables over go-sql-driver. The
// connection string doubles as the data source path; its shape picks the
// dialect.
package dbspatial

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql" // mysql driver loaded here
	_ "github.com/lib/pq"              // postgres driver loaded here

	"github.com/vectool/vecinfo/pkg/driver"
)

// Driver implements driver.Driver for database connections.
type Driver struct{}

// New creates a database spatial driver.
func New() *Driver { return &Driver{} }

// Name returns the driver name.
func (d *Driver) Name() string { return "DBSpatial" }

// Capabilities returns the driver capability set. Databases are always
// update-capable from the driver's point of view; the server may still
// refuse, which surfaces as an open failure.
func (d *Driver) Capabilities() driver.Capability {
	return driver.CapUpdate | driver.CapSQL
}

// dbType guesses the database dialect from the connection string shape.
func dbType(conn string) (string, error) {
	if strings.HasPrefix(conn, "postgres://") || strings.HasPrefix(conn, "postgresql://") || strings.HasPrefix(conn, "PG:") {
		return "postgres", nil
	}
	if strings.Contains(conn, "@tcp(") || strings.HasPrefix(conn, "mysql://") {
		return "mysql", nil
	}
	return "", fmt.Errorf("unsupported database type in connection string")
}

// Identify recognizes connection strings, never filesystem paths.
func (d *Driver) Identify(path string) bool {
	_, err := dbType(path)
	return err == nil
}

// Open establishes the connection and verifies it with a ping. Read-only
// access is enforced per session where the dialect supports it.
func (d *Driver) Open(path string, flags driver.OpenFlag, _ []string) (driver.Dataset, error) {
	dbt, err := dbType(path)
	if err != nil {
		return nil, err
	}

	conn := path
	switch dbt {
	case "postgres":
		conn = strings.TrimPrefix(conn, "PG:")
	case "mysql":
		conn = strings.TrimPrefix(conn, "mysql://")
	}

	db, err := sql.Open(dbt, conn)
	if err != nil {
		return nil, fmt.Errorf("can't open %s connection: %w", dbt, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("can't connect to %s database: %w", dbt, err)
	}

	if flags.Has(driver.FlagReadOnly) && dbt == "postgres" {
		// session setting, keep a single pooled connection so it sticks
		db.SetMaxOpenConns(1)
		if _, err := db.Exec(`SET default_transaction_read_only = on`); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("can't set read-only session: %w", err)
		}
	}

	return &dataset{conn: path, db: db, dialect: dialectFor(dbt)}, nil
}

type dataset struct {
	conn    string
	db      *sql.DB
	dialect dialect
}

func (ds *dataset) Name() string       { return ds.conn }
func (ds *dataset) DriverName() string { return "DBSpatial" }

func (ds *dataset) Metadata() map[string]string {
	return map[string]string{"DB_TYPE": ds.dialect.name()}
}

func (ds *dataset) Layers() []driver.Layer {
	tables, err := ds.dialect.spatialTables(ds.db)
	if err != nil {
		return nil
	}
	res := make([]driver.Layer, 0, len(tables))
	for _, tbl := range tables {
		res = append(res, &layer{ds: ds, table: tbl})
	}
	return res
}

// ExecuteSQL runs a statement and materializes the result. Byte columns
// that parse as WKB become the feature geometry.
func (ds *dataset) ExecuteSQL(statement string) (driver.Layer, error) {
	rows, err := ds.db.Query(statement)
	if err != nil {
		return nil, fmt.Errorf("sql execution failed: %w", err)
	}
	defer rows.Close()
	return materialize(rows)
}

func (ds *dataset) Close() error {
	return ds.db.Close()
}
