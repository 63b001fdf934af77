// Package gpkg implements a GeoPackage driver on top of the pure-go sqlite
// driver. Layers come from gpkg_contents/gpkg_geometry_columns; geometries
// are stored as GPKG binary blobs (a small header followed by WKB).
//
// A GeoPackage that has not been initialized yet (no gpkg_contents table, or
// a zero-length file) refuses to open read-only: update access is required
// to create the metadata skeleton. This is the case the access negotiator's
// update-mode retry exists for.
package gpkg

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb"

	_ "modernc.org/sqlite" // sqlite driver loaded here

	"github.com/vectool/vecinfo/pkg/driver"
)

// Driver implements driver.Driver for GeoPackage files.
type Driver struct{}

// New creates a GeoPackage driver.
func New() *Driver { return &Driver{} }

// Name returns the driver name.
func (d *Driver) Name() string { return "GPKG" }

// Capabilities returns the driver capability set.
func (d *Driver) Capabilities() driver.Capability {
	return driver.CapUpdate | driver.CapSQL | driver.CapCreate
}

// Identify recognizes a GeoPackage by its .gpkg extension. The content check
// is deliberately skipped: a freshly created empty file is still a valid
// target for update-mode initialization.
func (d *Driver) Identify(path string) bool {
	if strings.ToLower(filepath.Ext(path)) != ".gpkg" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// Open opens the sqlite database behind the GeoPackage. Read-only access
// maps to sqlite immutable-free mode=ro; update access uses mode=rw and
// initializes the GeoPackage metadata tables when missing.
func (d *Driver) Open(path string, flags driver.OpenFlag, openOptions []string) (driver.Dataset, error) {
	oo := driver.ParseOpenOptions(openOptions)

	mode := "rw"
	if flags.Has(driver.FlagReadOnly) {
		mode = "ro"
	}
	dsn := fmt.Sprintf("file:%s?mode=%s", path, mode)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("can't open geopackage database: %w", err)
	}

	initialized, err := hasContents(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("can't inspect geopackage %q: %w", path, err)
	}

	if !initialized {
		if flags.Has(driver.FlagReadOnly) {
			_ = db.Close()
			return nil, fmt.Errorf("geopackage %q: %w", path, driver.ErrEmptyContainer)
		}
		if err := initSkeleton(db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("can't initialize geopackage %q: %w", path, err)
		}
		log.Printf("[INFO] initialized empty geopackage %q", path)
	}

	ds := &dataset{path: path, db: db, readOnly: flags.Has(driver.FlagReadOnly)}
	if v, ok := oo["LIST_ALL_TABLES"]; ok && strings.EqualFold(v, "YES") {
		ds.listAllTables = true
	}
	return ds, nil
}

// hasContents reports whether the gpkg_contents table exists. A zero-length
// or otherwise uninitialized sqlite file yields false.
func hasContents(db *sql.DB) (bool, error) {
	var name string
	err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='gpkg_contents'`).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// initSkeleton creates the minimal GeoPackage metadata tables.
func initSkeleton(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS gpkg_spatial_ref_sys (
			srs_name TEXT NOT NULL, srs_id INTEGER PRIMARY KEY,
			organization TEXT NOT NULL, organization_coordsys_id INTEGER NOT NULL,
			definition TEXT NOT NULL, description TEXT)`,
		`INSERT OR IGNORE INTO gpkg_spatial_ref_sys VALUES
			('WGS 84 geodetic', 4326, 'EPSG', 4326, 'GEOGCS["WGS 84",DATUM["WGS_1984"]]', 'longitude/latitude'),
			('Undefined cartesian SRS', -1, 'NONE', -1, 'undefined', 'undefined cartesian'),
			('Undefined geographic SRS', 0, 'NONE', 0, 'undefined', 'undefined geographic')`,
		`CREATE TABLE IF NOT EXISTS gpkg_contents (
			table_name TEXT NOT NULL PRIMARY KEY, data_type TEXT NOT NULL,
			identifier TEXT UNIQUE, description TEXT DEFAULT '',
			last_change DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			min_x DOUBLE, min_y DOUBLE, max_x DOUBLE, max_y DOUBLE,
			srs_id INTEGER, CONSTRAINT fk_gc_r_srs_id FOREIGN KEY (srs_id) REFERENCES gpkg_spatial_ref_sys(srs_id))`,
		`CREATE TABLE IF NOT EXISTS gpkg_geometry_columns (
			table_name TEXT NOT NULL, column_name TEXT NOT NULL,
			geometry_type_name TEXT NOT NULL, srs_id INTEGER NOT NULL,
			z TINYINT NOT NULL, m TINYINT NOT NULL,
			CONSTRAINT pk_geom_cols PRIMARY KEY (table_name, column_name))`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

type dataset struct {
	path          string
	db            *sql.DB
	readOnly      bool
	listAllTables bool
}

func (ds *dataset) Name() string       { return ds.path }
func (ds *dataset) DriverName() string { return "GPKG" }

func (ds *dataset) Layers() []driver.Layer {
	query := `SELECT c.table_name, COALESCE(g.column_name,''), COALESCE(g.geometry_type_name,''),
		COALESCE(c.srs_id,0), c.min_x, c.min_y, c.max_x, c.max_y
		FROM gpkg_contents c LEFT JOIN gpkg_geometry_columns g ON c.table_name = g.table_name
		WHERE c.data_type = 'features'`
	if ds.listAllTables {
		query = strings.Replace(query, "WHERE c.data_type = 'features'",
			"WHERE c.data_type IN ('features', 'attributes')", 1)
	}

	rows, err := ds.db.Query(query)
	if err != nil {
		log.Printf("[WARN] can't list geopackage layers: %v", err)
		return nil
	}
	defer rows.Close()

	var res []driver.Layer
	for rows.Next() {
		l := &layer{ds: ds}
		var minX, minY, maxX, maxY sql.NullFloat64
		if err := rows.Scan(&l.table, &l.geomColumn, &l.geomType, &l.srsID, &minX, &minY, &maxX, &maxY); err != nil {
			log.Printf("[WARN] can't scan geopackage layer row: %v", err)
			continue
		}
		if minX.Valid && minY.Valid && maxX.Valid && maxY.Valid {
			l.extent = orb.Bound{Min: orb.Point{minX.Float64, minY.Float64}, Max: orb.Point{maxX.Float64, maxY.Float64}}
			l.hasExtent = true
		}
		res = append(res, l)
	}
	if err := rows.Err(); err != nil {
		log.Printf("[WARN] geopackage layer listing interrupted: %v", err)
	}
	return res
}

func (ds *dataset) Metadata() map[string]string {
	res := map[string]string{}
	var appID int64
	if err := ds.db.QueryRow(`PRAGMA application_id`).Scan(&appID); err == nil && appID != 0 {
		res["APPLICATION_ID"] = fmt.Sprintf("%d", appID)
	}
	var userVer int64
	if err := ds.db.QueryRow(`PRAGMA user_version`).Scan(&userVer); err == nil && userVer != 0 {
		res["USER_VERSION"] = fmt.Sprintf("%d", userVer)
	}
	return res
}

func (ds *dataset) Close() error {
	return ds.db.Close()
}
