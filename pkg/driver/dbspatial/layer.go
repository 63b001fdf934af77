package dbspatial

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/encoding/wkt"

	"github.com/vectool/vecinfo/pkg/driver"
)

type layer struct {
	ds    *dataset
	table spatialTable
}

func (l *layer) Name() string {
	if l.table.schema != "" && l.table.schema != "public" {
		return l.table.schema + "." + l.table.name
	}
	return l.table.name
}

func (l *layer) GeometryType() string { return l.table.geomType }

func (l *layer) Metadata() map[string]string {
	return map[string]string{"SRID": fmt.Sprintf("%d", l.table.srid)}
}

func (l *layer) FeatureCount() (int64, error) {
	var count int64
	q := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, qualified(l.ds.dialect, l.table))
	if err := l.ds.db.QueryRow(q).Scan(&count); err != nil {
		return 0, fmt.Errorf("can't count features in %q: %w", l.table.name, err)
	}
	return count, nil
}

func (l *layer) Extent() (orb.Bound, error) {
	var box sql.NullString
	if err := l.ds.db.QueryRow(l.ds.dialect.extentQuery(l.table)).Scan(&box); err != nil {
		return orb.Bound{}, fmt.Errorf("can't compute extent of %q: %w", l.table.name, err)
	}
	if !box.Valid || box.String == "" {
		return orb.Bound{}, nil
	}
	return parseExtent(box.String)
}

func (l *layer) Schema() []driver.Field {
	rows, err := l.ds.dialect.columns(l.ds.db, l.table)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var res []driver.Field
	for rows.Next() {
		var name, dataType, nullable string
		if err := rows.Scan(&name, &dataType, &nullable); err != nil {
			continue
		}
		if name == l.table.geomColumn {
			continue
		}
		res = append(res, driver.Field{
			Name:     name,
			Type:     dbFieldType(dataType),
			Nullable: strings.EqualFold(nullable, "YES"),
		})
	}
	return res
}

func (l *layer) Features(fn func(f driver.Feature) bool) error {
	d := l.ds.dialect
	attrs := make([]string, 0, len(l.Schema()))
	for _, f := range l.Schema() {
		attrs = append(attrs, d.quote(f.Name))
	}
	sel := d.wkbExpr(l.table.geomColumn)
	if len(attrs) > 0 {
		sel += ", " + strings.Join(attrs, ", ")
	}

	rows, err := l.ds.db.Query(fmt.Sprintf(`SELECT %s FROM %s`, sel, qualified(d, l.table)))
	if err != nil {
		return fmt.Errorf("can't read features from %q: %w", l.table.name, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return err
	}

	fid := int64(0)
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("can't scan feature row: %w", err)
		}

		rec := driver.Feature{FID: fid, Properties: map[string]any{}}
		fid++
		if blob, ok := vals[0].([]byte); ok {
			geom, gErr := wkb.Unmarshal(blob)
			if gErr != nil {
				return fmt.Errorf("bad wkb in %q fid %d: %w", l.table.name, rec.FID, gErr)
			}
			rec.Geometry = geom
		}
		for i := 1; i < len(cols); i++ {
			rec.Properties[cols[i]] = vals[i]
		}
		if !fn(rec) {
			return nil
		}
	}
	return rows.Err()
}

// materialize drains a result cursor into a MemLayer. Byte columns that
// parse as WKB become the feature geometry; the rest stay attributes.
func materialize(rows *sql.Rows) (driver.Layer, error) {
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
			if blob, ok := vals[i].([]byte); ok && rec.Geometry == nil {
				if geom, gErr := wkb.Unmarshal(blob); gErr == nil {
					rec.Geometry = geom
					continue
				}
			}
			rec.Properties[col] = vals[i]
			if _, seen := fieldSet[col]; !seen && vals[i] != nil {
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

// parseExtent understands the two textual envelope forms the dialects
// produce: postgres "BOX(minx miny,maxx maxy)" and mysql envelope WKT.
func parseExtent(s string) (orb.Bound, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "BOX(") {
		inner := strings.TrimSuffix(strings.TrimPrefix(s, "BOX("), ")")
		corners := strings.Split(inner, ",")
		if len(corners) != 2 {
			return orb.Bound{}, fmt.Errorf("bad box %q", s)
		}
		minPt, err := parsePoint(corners[0])
		if err != nil {
			return orb.Bound{}, err
		}
		maxPt, err := parsePoint(corners[1])
		if err != nil {
			return orb.Bound{}, err
		}
		return orb.Bound{Min: minPt, Max: maxPt}, nil
	}

	geom, err := wkt.Unmarshal(s)
	if err != nil {
		return orb.Bound{}, fmt.Errorf("bad envelope %q: %w", s, err)
	}
	return geom.Bound(), nil
}

func parsePoint(s string) (orb.Point, error) {
	parts := strings.Fields(strings.TrimSpace(s))
	if len(parts) < 2 {
		return orb.Point{}, fmt.Errorf("bad box corner %q", s)
	}
	x, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return orb.Point{}, err
	}
	y, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return orb.Point{}, err
	}
	return orb.Point{x, y}, nil
}

func dbFieldType(dataType string) driver.FieldType {
	dt := strings.ToLower(dataType)
	switch {
	case strings.Contains(dt, "bigint"):
		return driver.TypeInteger64
	case strings.Contains(dt, "int"):
		return driver.TypeInteger
	case strings.Contains(dt, "double"), strings.Contains(dt, "real"),
		strings.Contains(dt, "numeric"), strings.Contains(dt, "decimal"), strings.Contains(dt, "float"):
		return driver.TypeReal
	case strings.Contains(dt, "bool"):
		return driver.TypeBool
	case strings.Contains(dt, "timestamp"), strings.Contains(dt, "date"), strings.Contains(dt, "time"):
		return driver.TypeDateTime
	case strings.Contains(dt, "json"):
		return driver.TypeJSON
	case strings.Contains(dt, "bytea"), strings.Contains(dt, "blob"), strings.Contains(dt, "binary"):
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
