// Package geojson implements a read-only driver for GeoJSON files using the
// orb geometry library. A file is exposed as a single layer; the attribute
// schema is inferred from feature properties.
package geojson

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/vectool/vecinfo/pkg/driver"
)

// Driver implements driver.Driver for GeoJSON files.
type Driver struct{}

// New creates a GeoJSON driver.
func New() *Driver { return &Driver{} }

// Name returns the driver name.
func (d *Driver) Name() string { return "GeoJSON" }

// Capabilities returns the driver capability set. GeoJSON here is read-only.
func (d *Driver) Capabilities() driver.Capability { return 0 }

// Identify recognizes a GeoJSON file by extension, with a content sniff for
// the generic .json case. Nonexistent paths are not recognized.
func (d *Driver) Identify(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".geojson" && ext != ".json" {
		return false
	}
	fh, err := os.Open(path) // nolint gosec // path comes from the user running the tool
	if err != nil {
		return false
	}
	defer fh.Close() // nolint

	head := make([]byte, 512)
	n, err := fh.Read(head)
	if err != nil || n == 0 {
		return false
	}
	head = bytes.TrimLeft(head[:n], " \t\r\n\xef\xbb\xbf")
	if len(head) == 0 || head[0] != '{' {
		return false
	}
	if ext == ".geojson" {
		return true
	}
	return bytes.Contains(head, []byte(`"FeatureCollection"`)) || bytes.Contains(head, []byte(`"Feature"`))
}

// Open reads and parses the file. Update access is refused, the driver has
// no write support.
func (d *Driver) Open(path string, flags driver.OpenFlag, _ []string) (driver.Dataset, error) {
	if flags.Has(driver.FlagUpdate) {
		return nil, driver.ErrReadOnlyDriver
	}

	data, err := os.ReadFile(path) // nolint gosec
	if err != nil {
		return nil, fmt.Errorf("can't read geojson file: %w", err)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		// a bare feature is a legal geojson document too
		f, fErr := geojson.UnmarshalFeature(data)
		if fErr != nil {
			return nil, fmt.Errorf("can't parse geojson: %w", err)
		}
		fc = geojson.NewFeatureCollection()
		fc.Append(f)
	}

	layerName := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return &dataset{path: path, layer: newLayer(layerName, fc)}, nil
}

type dataset struct {
	path  string
	layer *layer
}

func (ds *dataset) Name() string                { return ds.path }
func (ds *dataset) DriverName() string          { return "GeoJSON" }
func (ds *dataset) Layers() []driver.Layer      { return []driver.Layer{ds.layer} }
func (ds *dataset) Metadata() map[string]string { return nil }
func (ds *dataset) Close() error                { ds.layer = nil; return nil }

func (ds *dataset) ExecuteSQL(string) (driver.Layer, error) {
	return nil, driver.ErrSQLNotSupported
}

type layer struct {
	name   string
	fc     *geojson.FeatureCollection
	fields []driver.Field
}

func newLayer(name string, fc *geojson.FeatureCollection) *layer {
	return &layer{name: name, fc: fc, fields: inferSchema(fc.Features)}
}

func (l *layer) Name() string                { return l.name }
func (l *layer) Schema() []driver.Field      { return l.fields }
func (l *layer) Metadata() map[string]string { return nil }

func (l *layer) FeatureCount() (int64, error) { return int64(len(l.fc.Features)), nil }

// GeometryType returns the common geometry type of all features, or
// "Unknown (any)" for mixed collections.
func (l *layer) GeometryType() string {
	res := ""
	for _, f := range l.fc.Features {
		if f.Geometry == nil {
			continue
		}
		gt := string(f.Geometry.GeoJSONType())
		if res == "" {
			res = gt
			continue
		}
		if res != gt {
			return "Unknown (any)"
		}
	}
	if res == "" {
		return "None"
	}
	return res
}

func (l *layer) Extent() (orb.Bound, error) {
	var bound orb.Bound
	first := true
	for _, f := range l.fc.Features {
		if f.Geometry == nil {
			continue
		}
		if first {
			bound = f.Geometry.Bound()
			first = false
			continue
		}
		bound = bound.Union(f.Geometry.Bound())
	}
	return bound, nil
}

func (l *layer) Features(fn func(f driver.Feature) bool) error {
	for i, f := range l.fc.Features {
		rec := driver.Feature{FID: int64(i), Geometry: f.Geometry, Properties: f.Properties}
		if !fn(rec) {
			return nil
		}
	}
	return nil
}

// inferSchema derives a field list from feature properties. Types are
// promoted when features disagree: integer and real promote to real,
// anything else to string. Order follows first occurrence.
func inferSchema(features []*geojson.Feature) []driver.Field {
	types := make(map[string]driver.FieldType)
	var order []string

	for _, f := range features {
		for name, value := range f.Properties {
			ft := fieldType(value)
			prev, seen := types[name]
			if !seen {
				order = append(order, name)
				types[name] = ft
				continue
			}
			types[name] = promote(prev, ft)
		}
	}

	res := make([]driver.Field, 0, len(order))
	for _, name := range order {
		res = append(res, driver.Field{Name: name, Type: types[name], Nullable: true})
	}
	return res
}

func fieldType(v any) driver.FieldType {
	switch val := v.(type) {
	case bool:
		return driver.TypeBool
	case float64:
		if val == float64(int64(val)) {
			return driver.TypeInteger64
		}
		return driver.TypeReal
	case int, int64:
		return driver.TypeInteger64
	case string:
		return driver.TypeString
	case map[string]any, []any:
		return driver.TypeJSON
	default:
		return driver.TypeString
	}
}

func promote(a, b driver.FieldType) driver.FieldType {
	if a == b {
		return a
	}
	numeric := func(t driver.FieldType) bool {
		return t == driver.TypeInteger || t == driver.TypeInteger64 || t == driver.TypeReal
	}
	if numeric(a) && numeric(b) {
		return driver.TypeReal
	}
	return driver.TypeString
}
