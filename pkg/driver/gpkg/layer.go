package gpkg

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/vectool/vecinfo/pkg/driver"
)

type layer struct {
	ds         *dataset
	table      string
	geomColumn string
	geomType   string
	srsID      int64
	extent     orb.Bound
	hasExtent  bool
}

func (l *layer) Name() string { return l.table }

func (l *layer) GeometryType() string {
	if l.geomType == "" {
		return "None"
	}
	// gpkg stores upper-case type names, report them in mixed case
	return normalizeGeomType(l.geomType)
}

func (l *layer) Metadata() map[string]string {
	return map[string]string{"SRS_ID": fmt.Sprintf("%d", l.srsID)}
}

func (l *layer) FeatureCount() (int64, error) {
	var count int64
	// table name comes from gpkg_contents, quoted to be safe
	err := l.ds.db.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM %s`, quoteIdent(l.table))).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("can't count features in %q: %w", l.table, err)
	}
	return count, nil
}

// Extent prefers the registered bounds from gpkg_contents and falls back to
// scanning geometry blob envelopes when the contents row has none.
func (l *layer) Extent() (orb.Bound, error) {
	if l.hasExtent {
		return l.extent, nil
	}
	if l.geomColumn == "" {
		return orb.Bound{}, nil
	}

	var bound orb.Bound
	first := true
	err := l.Features(func(f driver.Feature) bool {
		if f.Geometry == nil {
			return true
		}
		if first {
			bound = f.Geometry.Bound()
			first = false
			return true
		}
		bound = bound.Union(f.Geometry.Bound())
		return true
	})
	if err != nil {
		return orb.Bound{}, err
	}
	return bound, nil
}

func (l *layer) Schema() []driver.Field {
	rows, err := l.ds.db.Query(fmt.Sprintf(`PRAGMA table_info(%s)`, quoteIdent(l.table)))
	if err != nil {
		return nil
	}
	defer rows.Close()

	var res []driver.Field
	for rows.Next() {
		var cid int
		var name, declType string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &declType, &notNull, &dflt, &pk); err != nil {
			continue
		}
		if name == l.geomColumn || pk != 0 {
			// geometry and primary key columns are not attribute fields
			continue
		}
		res = append(res, driver.Field{Name: name, Type: sqliteFieldType(declType), Nullable: notNull == 0})
	}
	return res
}

func (l *layer) Features(fn func(f driver.Feature) bool) error {
	rows, err := l.ds.db.Query(fmt.Sprintf(`SELECT rowid, * FROM %s`, quoteIdent(l.table)))
	if err != nil {
		return fmt.Errorf("can't read features from %q: %w", l.table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return err
	}

	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("can't scan feature row: %w", err)
		}

		rec := driver.Feature{Properties: map[string]any{}}
		for i, col := range cols {
			switch {
			case i == 0: // rowid
				if fid, ok := vals[i].(int64); ok {
					rec.FID = fid
				}
			case col == l.geomColumn:
				blob, ok := vals[i].([]byte)
				if !ok {
					continue
				}
				geom, gErr := decodeGeometry(blob)
				if gErr != nil {
					return fmt.Errorf("bad geometry blob in %q fid %d: %w", l.table, rec.FID, gErr)
				}
				rec.Geometry = geom
			default:
				rec.Properties[col] = vals[i]
			}
		}
		if !fn(rec) {
			return nil
		}
	}
	return rows.Err()
}

// ExecuteSQL runs a statement and materializes the result as an in-memory
// layer. Geometry blobs in the result are decoded when a column carries the
// gpkg binary signature.
func (ds *dataset) ExecuteSQL(statement string) (driver.Layer, error) {
	rows, err := ds.db.Query(statement)
	if err != nil {
		return nil, fmt.Errorf("sql execution failed: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	res := &driver.MemLayer{LayerName: "SELECT"}
	fieldSet := make(map[string]driver.FieldType, len(cols))

	fid := int64(0)
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("can't scan result row: %w", err)
		}

		rec := driver.Feature{FID: fid, Properties: map[string]any{}}
		fid++
		for i, col := range cols {
			if blob, ok := vals[i].([]byte); ok && isGPKGBlob(blob) {
				if geom, gErr := decodeGeometry(blob); gErr == nil {
					rec.Geometry = geom
					continue
				}
			}
			rec.Properties[col] = vals[i]
			if _, seen := fieldSet[col]; !seen {
				fieldSet[col] = valueFieldType(vals[i])
			}
		}
		res.Recs = append(res.Recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, col := range cols {
		if ft, ok := fieldSet[col]; ok {
			res.Fields = append(res.Fields, driver.Field{Name: col, Type: ft, Nullable: true})
		}
	}
	return res, nil
}

// decodeGeometry strips the GeoPackage binary header and unmarshals the WKB
// payload. Header: magic "GP", version, flags (envelope size in bits 1-3),
// 4-byte srs id, then the optional envelope.
func decodeGeometry(blob []byte) (orb.Geometry, error) {
	if !isGPKGBlob(blob) {
		return nil, fmt.Errorf("missing gpkg geometry signature")
	}
	flags := blob[3]
	envSizes := []int{0, 32, 48, 48, 64}
	envCode := int(flags >> 1 & 0x07)
	if envCode >= len(envSizes) {
		return nil, fmt.Errorf("invalid envelope contents indicator %d", envCode)
	}
	headerLen := 8 + envSizes[envCode]
	if len(blob) < headerLen {
		return nil, fmt.Errorf("geometry blob truncated")
	}
	if flags&0x20 != 0 {
		// empty geometry flag
		return nil, nil
	}
	return wkb.Unmarshal(blob[headerLen:])
}

func isGPKGBlob(blob []byte) bool {
	return len(blob) >= 8 && blob[0] == 'G' && blob[1] == 'P'
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func normalizeGeomType(t string) string {
	switch strings.ToUpper(t) {
	case "POINT":
		return "Point"
	case "LINESTRING":
		return "Line String"
	case "POLYGON":
		return "Polygon"
	case "MULTIPOINT":
		return "Multi Point"
	case "MULTILINESTRING":
		return "Multi Line String"
	case "MULTIPOLYGON":
		return "Multi Polygon"
	case "GEOMETRYCOLLECTION":
		return "Geometry Collection"
	case "GEOMETRY":
		return "Unknown (any)"
	default:
		return t
	}
}

func sqliteFieldType(declType string) driver.FieldType {
	dt := strings.ToUpper(declType)
	switch {
	case strings.Contains(dt, "INT"):
		return driver.TypeInteger64
	case strings.Contains(dt, "CHAR"), strings.Contains(dt, "TEXT"), strings.Contains(dt, "CLOB"):
		return driver.TypeString
	case strings.Contains(dt, "REAL"), strings.Contains(dt, "FLOA"), strings.Contains(dt, "DOUB"):
		return driver.TypeReal
	case strings.Contains(dt, "BOOL"):
		return driver.TypeBool
	case strings.Contains(dt, "DATE"), strings.Contains(dt, "TIME"):
		return driver.TypeDateTime
	case strings.Contains(dt, "BLOB"):
		return driver.TypeBinary
	default:
		return driver.TypeString
	}
}

func valueFieldType(v any) driver.FieldType {
	switch v.(type) {
	case int64:
		return driver.TypeInteger64
	case float64:
		return driver.TypeReal
	case bool:
		return driver.TypeBool
	case []byte:
		return driver.TypeBinary
	default:
		return driver.TypeString
	}
}
