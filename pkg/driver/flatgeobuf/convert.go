package flatgeobuf

import (
	"encoding/binary"
	"math"

	"github.com/flatgeobuf/flatgeobuf/src/go/flattypes"
	"github.com/paulmach/orb"
)

// convertGeometry converts a FlatGeobuf geometry to orb. XY values are flat
// pairs; ring/part boundaries come from the ends array.
func convertGeometry(g *flattypes.Geometry) orb.Geometry {
	switch g.Type() {
	case flattypes.GeometryTypePoint:
		if g.XyLength() < 2 {
			return nil
		}
		return orb.Point{g.Xy(0), g.Xy(1)}
	case flattypes.GeometryTypeMultiPoint:
		return orb.MultiPoint(points(g))
	case flattypes.GeometryTypeLineString:
		return orb.LineString(points(g))
	case flattypes.GeometryTypeMultiLineString:
		mls := orb.MultiLineString{}
		for _, part := range split(g) {
			mls = append(mls, orb.LineString(part))
		}
		return mls
	case flattypes.GeometryTypePolygon:
		poly := orb.Polygon{}
		for _, part := range split(g) {
			poly = append(poly, orb.Ring(part))
		}
		return poly
	case flattypes.GeometryTypeMultiPolygon:
		mp := orb.MultiPolygon{}
		for i := 0; i < g.PartsLength(); i++ {
			var part flattypes.Geometry
			if !g.Parts(&part, i) {
				continue
			}
			if poly, ok := convertGeometry(&part).(orb.Polygon); ok {
				mp = append(mp, poly)
			}
		}
		return mp
	case flattypes.GeometryTypeGeometryCollection:
		coll := orb.Collection{}
		for i := 0; i < g.PartsLength(); i++ {
			var part flattypes.Geometry
			if !g.Parts(&part, i) {
				continue
			}
			if geom := convertGeometry(&part); geom != nil {
				coll = append(coll, geom)
			}
		}
		return coll
	default:
		return nil
	}
}

func points(g *flattypes.Geometry) []orb.Point {
	res := make([]orb.Point, 0, g.XyLength()/2)
	for i := 0; i+1 < g.XyLength(); i += 2 {
		res = append(res, orb.Point{g.Xy(i), g.Xy(i + 1)})
	}
	return res
}

// split cuts the flat point list at the ends boundaries. Without an ends
// array the whole list is one part.
func split(g *flattypes.Geometry) [][]orb.Point {
	pts := points(g)
	if g.EndsLength() == 0 {
		return [][]orb.Point{pts}
	}

	var res [][]orb.Point
	start := uint32(0)
	for i := 0; i < g.EndsLength(); i++ {
		end := g.Ends(i)
		if end > uint32(len(pts)) {
			end = uint32(len(pts))
		}
		res = append(res, pts[start:end])
		start = end
	}
	return res
}

// decodeProperties unpacks the per-feature property buffer: little-endian
// column index followed by a value encoded per the column type.
func decodeProperties(ft *flattypes.Feature, header *flattypes.Header) map[string]any {
	propsLen := ft.PropertiesLength()
	if propsLen == 0 || header.ColumnsLength() == 0 {
		return nil
	}

	data := make([]byte, propsLen)
	for i := 0; i < propsLen; i++ {
		data[i] = byte(ft.Properties(i))
	}

	props := map[string]any{}
	offset := 0
	for offset+2 <= len(data) {
		colIndex := int(binary.LittleEndian.Uint16(data[offset:]))
		offset += 2
		if colIndex >= header.ColumnsLength() {
			break
		}
		var col flattypes.Column
		if !header.Columns(&col, colIndex) {
			break
		}
		value, n := readValue(data[offset:], col.Type())
		if n == 0 {
			break
		}
		offset += n
		props[string(col.Name())] = value
	}
	return props
}

func readValue(data []byte, t flattypes.ColumnType) (any, int) {
	switch t {
	case flattypes.ColumnTypeBool:
		if len(data) < 1 {
			return nil, 0
		}
		return data[0] != 0, 1
	case flattypes.ColumnTypeByte:
		if len(data) < 1 {
			return nil, 0
		}
		return int8(data[0]), 1
	case flattypes.ColumnTypeUByte:
		if len(data) < 1 {
			return nil, 0
		}
		return data[0], 1
	case flattypes.ColumnTypeShort:
		if len(data) < 2 {
			return nil, 0
		}
		return int16(binary.LittleEndian.Uint16(data)), 2 // nolint gosec
	case flattypes.ColumnTypeUShort:
		if len(data) < 2 {
			return nil, 0
		}
		return binary.LittleEndian.Uint16(data), 2
	case flattypes.ColumnTypeInt:
		if len(data) < 4 {
			return nil, 0
		}
		return int32(binary.LittleEndian.Uint32(data)), 4 // nolint gosec
	case flattypes.ColumnTypeUInt:
		if len(data) < 4 {
			return nil, 0
		}
		return binary.LittleEndian.Uint32(data), 4
	case flattypes.ColumnTypeLong:
		if len(data) < 8 {
			return nil, 0
		}
		return int64(binary.LittleEndian.Uint64(data)), 8 // nolint gosec
	case flattypes.ColumnTypeULong:
		if len(data) < 8 {
			return nil, 0
		}
		return binary.LittleEndian.Uint64(data), 8
	case flattypes.ColumnTypeFloat:
		if len(data) < 4 {
			return nil, 0
		}
		return math.Float32frombits(binary.LittleEndian.Uint32(data)), 4
	case flattypes.ColumnTypeDouble:
		if len(data) < 8 {
			return nil, 0
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(data)), 8
	case flattypes.ColumnTypeString, flattypes.ColumnTypeJson, flattypes.ColumnTypeDateTime:
		if len(data) < 4 {
			return nil, 0
		}
		strLen := int(binary.LittleEndian.Uint32(data))
		if len(data) < 4+strLen {
			return nil, 0
		}
		return string(data[4 : 4+strLen]), 4 + strLen
	case flattypes.ColumnTypeBinary:
		if len(data) < 4 {
			return nil, 0
		}
		binLen := int(binary.LittleEndian.Uint32(data))
		if len(data) < 4+binLen {
			return nil, 0
		}
		res := make([]byte, binLen)
		copy(res, data[4:4+binLen])
		return res, 4 + binLen
	default:
		return nil, 0
	}
}
