package report

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb/encoding/wkt"

	"github.com/vectool/vecinfo/pkg/driver"
)

// jsonReport is the stable structured-output schema.
type jsonReport struct {
	Description string            `json:"description"`
	Driver      string            `json:"driver"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Layers      []jsonLayer       `json:"layers"`
}

type jsonLayer struct {
	Name         string            `json:"name"`
	GeometryType string            `json:"geometryType"`
	FeatureCount *int64            `json:"featureCount,omitempty"`
	Extent       []float64         `json:"extent,omitempty"` // [xmin, ymin, xmax, ymax]
	Fields       []jsonField       `json:"fields,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Features     []jsonFeature     `json:"features,omitempty"`
}

type jsonField struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Width    int    `json:"width,omitempty"`
	Nullable bool   `json:"nullable"`
}

type jsonFeature struct {
	FID        int64          `json:"fid"`
	Properties map[string]any `json:"properties,omitempty"`
	Geometry   string         `json:"geometry,omitempty"` // wkt
}

func (r *Renderer) describeJSON(ds driver.Dataset, layers []driver.Layer) error {
	rep := jsonReport{
		Description: ds.Name(),
		Driver:      ds.DriverName(),
		Layers:      []jsonLayer{},
	}
	if !r.Opts.NoMeta {
		rep.Metadata = ds.Metadata()
	}

	for _, st := range r.collectStats(layers) {
		if st.err != nil {
			return fmt.Errorf("can't describe layer %q: %w", st.name, st.err)
		}

		jl := jsonLayer{Name: st.name, GeometryType: st.gt}
		if !r.Opts.NoCount {
			count := st.count
			jl.FeatureCount = &count
		}
		if !r.Opts.NoExtent && !st.extent.IsEmpty() {
			jl.Extent = []float64{st.extent.Min[0], st.extent.Min[1], st.extent.Max[0], st.extent.Max[1]}
		}
		if !r.Opts.NoMeta {
			jl.Metadata = st.layer.Metadata()
		}
		if !r.Opts.NoFields {
			for _, f := range st.layer.Schema() {
				jl.Fields = append(jl.Fields, jsonField{
					Name: f.Name, Type: string(f.Type), Width: f.Width, Nullable: f.Nullable,
				})
			}
		}

		if r.Opts.Features {
			feats, err := r.collectFeatures(ds, st.layer)
			if err != nil {
				return err
			}
			jl.Features = feats
		}
		rep.Layers = append(rep.Layers, jl)
	}

	enc := json.NewEncoder(r.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

func (r *Renderer) collectFeatures(ds driver.Dataset, l driver.Layer) ([]jsonFeature, error) {
	src := l
	if r.Opts.Where != "" {
		filtered, err := applyWhere(ds, l, r.Opts.Where)
		if err != nil {
			return nil, err
		}
		src = filtered
	}

	var res []jsonFeature
	err := src.Features(func(f driver.Feature) bool {
		if r.Opts.FID >= 0 && f.FID != r.Opts.FID {
			return true
		}
		jf := jsonFeature{FID: f.FID, Properties: f.Properties}
		if f.Geometry != nil {
			jf.Geometry = wkt.MarshalString(f.Geometry)
		}
		res = append(res, jf)
		return !(r.Opts.FID >= 0)
	})
	if err != nil {
		return nil, err
	}
	if r.Opts.FID >= 0 && len(res) == 0 {
		return nil, fmt.Errorf("feature %d not found in layer %q: %w", r.Opts.FID, l.Name(), driver.ErrNoFeature)
	}
	return res, nil
}
