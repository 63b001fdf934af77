package flatgeobuf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/flatgeobuf/flatgeobuf/src/go/flattypes"
	"github.com/flatgeobuf/flatgeobuf/src/go/writer"
	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vectool/vecinfo/pkg/driver"
)

// geomGenerator feeds orb geometries to the upstream flatgeobuf writer.
type geomGenerator struct {
	geoms []orb.Geometry
	index int
}

func (g *geomGenerator) Generate() *writer.Feature {
	if g.index >= len(g.geoms) {
		return nil
	}
	geom := g.geoms[g.index]
	g.index++

	builder := flatbuffers.NewBuilder(1024)
	wg := writer.NewGeometry(builder)
	switch v := geom.(type) {
	case orb.Point:
		wg.SetType(flattypes.GeometryTypePoint)
		wg.SetXY([]float64{v[0], v[1]})
	case orb.LineString:
		wg.SetType(flattypes.GeometryTypeLineString)
		xy := make([]float64, 0, len(v)*2)
		for _, p := range v {
			xy = append(xy, p[0], p[1])
		}
		wg.SetXY(xy)
	default:
		return nil
	}

	feature := writer.NewFeature(builder)
	feature.SetGeometry(wg)
	return feature
}

func writeFGB(t *testing.T, name string, geomType flattypes.GeometryType, withIndex bool, geoms []orb.Geometry) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)

	builder := flatbuffers.NewBuilder(4096)
	header := writer.NewHeader(builder)
	header.SetGeometryType(geomType)
	header.SetName("test_layer")

	fgbWriter := writer.NewWriter(header, withIndex, &geomGenerator{geoms: geoms}, nil)

	fh, err := os.Create(path)
	require.NoError(t, err)
	_, err = fgbWriter.Write(fh)
	require.NoError(t, err)
	require.NoError(t, fh.Close())
	return path
}

func TestDriver_Identify(t *testing.T) {
	d := New()

	path := writeFGB(t, "points.fgb", flattypes.GeometryTypePoint, true,
		[]orb.Geometry{orb.Point{1, 2}})
	assert.True(t, d.Identify(path))

	notFGB := filepath.Join(t.TempDir(), "plain.fgb")
	require.NoError(t, os.WriteFile(notFGB, []byte("definitely not flatgeobuf"), 0o600))
	assert.False(t, d.Identify(notFGB))

	assert.False(t, d.Identify(filepath.Join(t.TempDir(), "missing.fgb")))
}

func TestDriver_OpenRefusesUpdate(t *testing.T) {
	d := New()
	path := writeFGB(t, "points.fgb", flattypes.GeometryTypePoint, true,
		[]orb.Geometry{orb.Point{1, 2}})

	_, err := d.Open(path, driver.FlagVector|driver.FlagUpdate, nil)
	assert.ErrorIs(t, err, driver.ErrReadOnlyDriver)
}

func TestDriver_OpenAndDescribe(t *testing.T) {
	d := New()
	path := writeFGB(t, "points.fgb", flattypes.GeometryTypePoint, true,
		[]orb.Geometry{orb.Point{1, 2}, orb.Point{3, 4}, orb.Point{5, 6}})

	ds, err := d.Open(path, driver.FlagVector|driver.FlagReadOnly, nil)
	require.NoError(t, err)
	defer ds.Close()

	assert.Equal(t, "FlatGeobuf", ds.DriverName())
	assert.Equal(t, "YES", ds.Metadata()["SPATIAL_INDEX"])

	layers := ds.Layers()
	require.Len(t, layers, 1)
	assert.Equal(t, "test_layer", layers[0].Name())
	assert.Equal(t, "Point", layers[0].GeometryType())
}

func TestLayer_Features(t *testing.T) {
	d := New()
	want := []orb.Geometry{orb.Point{1, 2}, orb.Point{3, 4}, orb.Point{5, 6}}
	path := writeFGB(t, "points.fgb", flattypes.GeometryTypePoint, true, want)

	ds, err := d.Open(path, driver.FlagVector|driver.FlagReadOnly, nil)
	require.NoError(t, err)
	defer ds.Close()

	var got []orb.Geometry
	err = ds.Layers()[0].Features(func(f driver.Feature) bool {
		got = append(got, f.Geometry)
		return true
	})
	require.NoError(t, err)
	// index writing reorders features, compare as a set
	assert.ElementsMatch(t, want, got)
}

func TestLayer_FeaturesNoIndex(t *testing.T) {
	d := New()
	path := writeFGB(t, "points.fgb", flattypes.GeometryTypePoint, false,
		[]orb.Geometry{orb.Point{1, 2}})

	ds, err := d.Open(path, driver.FlagVector|driver.FlagReadOnly, nil)
	require.NoError(t, err)
	defer ds.Close()

	err = ds.Layers()[0].Features(func(driver.Feature) bool { return true })
	assert.ErrorContains(t, err, "no spatial index")
}

func TestDataset_ExecuteSQLNotSupported(t *testing.T) {
	d := New()
	path := writeFGB(t, "points.fgb", flattypes.GeometryTypePoint, true,
		[]orb.Geometry{orb.Point{1, 2}})

	ds, err := d.Open(path, driver.FlagVector|driver.FlagReadOnly, nil)
	require.NoError(t, err)
	defer ds.Close()

	_, err = ds.ExecuteSQL("SELECT 1")
	assert.ErrorIs(t, err, driver.ErrSQLNotSupported)
}

func TestColumnType(t *testing.T) {
	tbl := []struct {
		in   flattypes.ColumnType
		want driver.FieldType
	}{
		{flattypes.ColumnTypeBool, driver.TypeBool},
		{flattypes.ColumnTypeShort, driver.TypeInteger},
		{flattypes.ColumnTypeInt, driver.TypeInteger},
		{flattypes.ColumnTypeLong, driver.TypeInteger64},
		{flattypes.ColumnTypeDouble, driver.TypeReal},
		{flattypes.ColumnTypeString, driver.TypeString},
		{flattypes.ColumnTypeDateTime, driver.TypeDateTime},
		{flattypes.ColumnTypeJson, driver.TypeJSON},
		{flattypes.ColumnTypeBinary, driver.TypeBinary},
	}
	for _, tt := range tbl {
		assert.Equal(t, tt.want, columnType(tt.in))
	}
}
