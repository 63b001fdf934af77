package driver

import "github.com/paulmach/orb"

// MemLayer is an in-memory Layer, used by sql-capable drivers to hold
// statement results after the underlying cursor is drained.
type MemLayer struct {
	LayerName string
	GeomType  string
	Fields    []Field
	Recs      []Feature
	Meta      map[string]string
}

// Name returns the layer name.
func (l *MemLayer) Name() string { return l.LayerName }

// Schema returns the field list.
func (l *MemLayer) Schema() []Field { return l.Fields }

// Metadata returns layer metadata, may be nil.
func (l *MemLayer) Metadata() map[string]string { return l.Meta }

// FeatureCount returns the number of stored records.
func (l *MemLayer) FeatureCount() (int64, error) { return int64(len(l.Recs)), nil }

// GeometryType returns the declared geometry type, or the common type of the
// stored records when not declared.
func (l *MemLayer) GeometryType() string {
	if l.GeomType != "" {
		return l.GeomType
	}
	res := ""
	for _, rec := range l.Recs {
		if rec.Geometry == nil {
			continue
		}
		gt := string(rec.Geometry.GeoJSONType())
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

// Extent returns the union bound of all stored geometries.
func (l *MemLayer) Extent() (orb.Bound, error) {
	var bound orb.Bound
	first := true
	for _, rec := range l.Recs {
		if rec.Geometry == nil {
			continue
		}
		if first {
			bound = rec.Geometry.Bound()
			first = false
			continue
		}
		bound = bound.Union(rec.Geometry.Bound())
	}
	return bound, nil
}

// Features iterates the stored records in order.
func (l *MemLayer) Features(fn func(f Feature) bool) error {
	for _, rec := range l.Recs {
		if !fn(rec) {
			return nil
		}
	}
	return nil
}
