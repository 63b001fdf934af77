// Package flatgeobuf implements a read-only driver for FlatGeobuf files.
// The format keeps all layer metadata (geometry type, envelope, CRS, column
// schema, feature count) in its header, so describing a file never scans
// features; feature access goes through the built-in spatial index.
package flatgeobuf

import (
	"bytes"
	"fmt"
	"os"

	fgb "github.com/flatgeobuf/flatgeobuf/src/go"
	"github.com/flatgeobuf/flatgeobuf/src/go/flattypes"
	"github.com/paulmach/orb"

	"github.com/vectool/vecinfo/pkg/driver"
)

// magic is the FlatGeobuf signature: "fgb", spec version 3, "fgb", patch 0.
var magic = []byte{0x66, 0x67, 0x62, 0x03, 0x66, 0x67, 0x62, 0x00}

// Driver implements driver.Driver for FlatGeobuf files.
type Driver struct{}

// New creates a FlatGeobuf driver.
func New() *Driver { return &Driver{} }

// Name returns the driver name.
func (d *Driver) Name() string { return "FlatGeobuf" }

// Capabilities returns the driver capability set, read-only.
func (d *Driver) Capabilities() driver.Capability { return 0 }

// Identify checks the 8-byte magic signature.
func (d *Driver) Identify(path string) bool {
	fh, err := os.Open(path) // nolint gosec
	if err != nil {
		return false
	}
	defer fh.Close() // nolint

	head := make([]byte, len(magic))
	if _, err := fh.Read(head); err != nil {
		return false
	}
	// patch byte may vary between writers, compare signature around it
	return bytes.Equal(head[:4], magic[:4]) && bytes.Equal(head[4:7], magic[4:7])
}

// Open memory-maps the file and validates the header. Update access is
// refused.
func (d *Driver) Open(path string, flags driver.OpenFlag, _ []string) (driver.Dataset, error) {
	if flags.Has(driver.FlagUpdate) {
		return nil, driver.ErrReadOnlyDriver
	}

	f, err := fgb.New(path)
	if err != nil {
		return nil, fmt.Errorf("can't open flatgeobuf file: %w", err)
	}
	header := f.Header()
	if header == nil {
		return nil, fmt.Errorf("flatgeobuf file %q has no header", path)
	}
	return &dataset{path: path, fgb: f, header: header}, nil
}

type dataset struct {
	path   string
	fgb    *fgb.FlatGeoBuf
	header *flattypes.Header
}

func (ds *dataset) Name() string       { return ds.path }
func (ds *dataset) DriverName() string { return "FlatGeobuf" }

func (ds *dataset) Layers() []driver.Layer {
	return []driver.Layer{&layer{ds: ds}}
}

func (ds *dataset) ExecuteSQL(string) (driver.Layer, error) {
	return nil, driver.ErrSQLNotSupported
}

// Metadata reports header-level details that have no place in the layer
// schema: CRS and index presence.
func (ds *dataset) Metadata() map[string]string {
	res := map[string]string{}
	var crs flattypes.Crs
	if ds.header.Crs(&crs) != nil {
		res["CRS"] = fmt.Sprintf("%s:%d", string(crs.Org()), crs.Code())
		if name := string(crs.Name()); name != "" {
			res["CRS_NAME"] = name
		}
	}
	res["SPATIAL_INDEX"] = "NO"
	if ds.header.IndexNodeSize() > 0 {
		res["SPATIAL_INDEX"] = "YES"
	}
	return res
}

func (ds *dataset) Close() error {
	// the upstream FlatGeoBuf type frees its mapping via finalizer only;
	// dropping the reference is all we can do here
	ds.fgb = nil
	ds.header = nil
	return nil
}

type layer struct {
	ds *dataset
}

func (l *layer) Name() string {
	if name := string(l.ds.header.Name()); name != "" {
		return name
	}
	return l.ds.path
}

func (l *layer) GeometryType() string {
	return flattypes.EnumNamesGeometryType[l.ds.header.GeometryType()]
}

func (l *layer) FeatureCount() (int64, error) {
	return int64(l.ds.header.FeaturesCount()), nil // nolint gosec // counts fit in int64
}

func (l *layer) Extent() (orb.Bound, error) {
	h := l.ds.header
	if h.EnvelopeLength() < 4 {
		return orb.Bound{}, nil
	}
	return orb.Bound{
		Min: orb.Point{h.Envelope(0), h.Envelope(1)},
		Max: orb.Point{h.Envelope(2), h.Envelope(3)},
	}, nil
}

func (l *layer) Schema() []driver.Field {
	h := l.ds.header
	res := make([]driver.Field, 0, h.ColumnsLength())
	for i := 0; i < h.ColumnsLength(); i++ {
		var col flattypes.Column
		if !h.Columns(&col, i) {
			continue
		}
		res = append(res, driver.Field{
			Name:     string(col.Name()),
			Type:     columnType(col.Type()),
			Width:    int(col.Width()),
			Nullable: col.Nullable(),
		})
	}
	return res
}

func (l *layer) Metadata() map[string]string {
	res := map[string]string{}
	if desc := string(l.ds.header.Description()); desc != "" {
		res["DESCRIPTION"] = desc
	}
	return res
}

// Features iterates through the spatial index using the header envelope as
// query bounds. Files written without an index can't be iterated by the
// upstream reader; that is reported as an error rather than silence.
func (l *layer) Features(fn func(f driver.Feature) bool) error {
	h := l.ds.header
	if h.IndexNodeSize() == 0 {
		return fmt.Errorf("flatgeobuf file %q has no spatial index, feature access not available", l.ds.path)
	}
	if h.EnvelopeLength() < 4 {
		return nil // indexed but empty, nothing to query
	}

	features, err := l.ds.fgb.Search(h.Envelope(0), h.Envelope(1), h.Envelope(2), h.Envelope(3))
	if err != nil {
		return fmt.Errorf("can't search flatgeobuf index: %w", err)
	}

	for i, ft := range features {
		rec := driver.Feature{FID: int64(i)}
		var geomObj flattypes.Geometry
		if g := ft.Geometry(&geomObj); g != nil {
			rec.Geometry = convertGeometry(g)
		}
		rec.Properties = decodeProperties(ft, h)
		if !fn(rec) {
			return nil
		}
	}
	return nil
}

func columnType(t flattypes.ColumnType) driver.FieldType {
	switch t {
	case flattypes.ColumnTypeBool:
		return driver.TypeBool
	case flattypes.ColumnTypeByte, flattypes.ColumnTypeUByte, flattypes.ColumnTypeShort,
		flattypes.ColumnTypeUShort, flattypes.ColumnTypeInt, flattypes.ColumnTypeUInt:
		return driver.TypeInteger
	case flattypes.ColumnTypeLong, flattypes.ColumnTypeULong:
		return driver.TypeInteger64
	case flattypes.ColumnTypeFloat, flattypes.ColumnTypeDouble:
		return driver.TypeReal
	case flattypes.ColumnTypeDateTime:
		return driver.TypeDateTime
	case flattypes.ColumnTypeJson:
		return driver.TypeJSON
	case flattypes.ColumnTypeBinary:
		return driver.TypeBinary
	default:
		return driver.TypeString
	}
}
