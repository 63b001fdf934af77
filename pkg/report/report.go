// Package report renders a description of an open vector dataset as plain
// text or json. It is the only consumer of a successfully negotiated handle.
package report

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/go-pkgz/stringutils"
	"github.com/go-pkgz/syncs"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"

	"github.com/vectool/vecinfo/pkg/driver"
)

// Options controls what the renderer prints.
type Options struct {
	JSON     bool     // structured output instead of plain text
	Summary  bool     // per-layer summary blocks without features
	Features bool     // dump features as well
	NoFields bool     // skip field definitions
	NoCount  bool     // skip feature counts
	NoExtent bool     // skip extents
	NoMeta   bool     // skip metadata sections
	Layers   []string // restrict to named layers, empty means all
	FID      int64    // dump a single feature by fid, -1 for all
	Where    string   // attribute filter, needs a sql-capable dataset
	Workers  int      // concurrent layer stat collection, 0 means serial
}

// Renderer writes dataset descriptions to Out.
type Renderer struct {
	Out  io.Writer
	Opts Options
}

// layerStats is everything the text and json renderers need per layer,
// collected up front so slow drivers can be scanned concurrently.
type layerStats struct {
	layer  driver.Layer
	name   string
	gt     string
	count  int64
	extent orb.Bound
	err    error
}

// Describe renders the full dataset report.
func (r *Renderer) Describe(ds driver.Dataset) error {
	layers, err := r.selectLayers(ds)
	if err != nil {
		return err
	}

	if r.Opts.JSON {
		return r.describeJSON(ds, layers)
	}

	fmt.Fprintf(r.Out, "INFO: Open of `%s'\n      using driver `%s' successful.\n", ds.Name(), ds.DriverName())

	if !r.Opts.NoMeta {
		r.printMetadata(ds.Metadata(), "")
	}

	if !r.Opts.Summary && !r.Opts.Features && len(r.Opts.Layers) == 0 {
		// bare listing, one line per layer
		for i, l := range layers {
			fmt.Fprintf(r.Out, "%d: %s (%s)\n", i+1, l.Name(), l.GeometryType())
		}
		return nil
	}

	stats := r.collectStats(layers)
	for _, st := range stats {
		if st.err != nil {
			return fmt.Errorf("can't describe layer %q: %w", st.name, st.err)
		}
		fmt.Fprintln(r.Out)
		if err := r.printLayer(ds, st); err != nil {
			return err
		}
	}
	return nil
}

// DescribeLayer renders a single layer block, used for sql statement results.
func (r *Renderer) DescribeLayer(ds driver.Dataset, l driver.Layer) error {
	if r.Opts.JSON {
		return r.describeJSON(ds, []driver.Layer{l})
	}
	st := r.layerStats(l)
	if st.err != nil {
		return fmt.Errorf("can't describe layer %q: %w", st.name, st.err)
	}
	return r.printLayer(ds, st)
}

// selectLayers applies the layer name filter. Unknown names are an error,
// matching the behavior users expect from naming a layer explicitly.
func (r *Renderer) selectLayers(ds driver.Dataset) ([]driver.Layer, error) {
	all := ds.Layers()
	if len(r.Opts.Layers) == 0 {
		return all, nil
	}

	wanted := stringutils.DeDup(r.Opts.Layers)
	byName := make(map[string]driver.Layer, len(all))
	for _, l := range all {
		byName[l.Name()] = l
	}

	res := make([]driver.Layer, 0, len(wanted))
	for _, name := range wanted {
		l, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("layer %q not found in data source", name)
		}
		res = append(res, l)
	}
	return res, nil
}

// collectStats gathers per-layer counts and extents, concurrently when
// Workers allows. Output order stays the layer order.
func (r *Renderer) collectStats(layers []driver.Layer) []layerStats {
	res := make([]layerStats, len(layers))
	if r.Opts.Workers <= 1 {
		for i, l := range layers {
			res[i] = r.layerStats(l)
		}
		return res
	}

	wg := syncs.NewSizedGroup(r.Opts.Workers, syncs.Preemptive)
	for i, l := range layers {
		i, l := i, l
		wg.Go(func(_ context.Context) {
			res[i] = r.layerStats(l)
		})
	}
	wg.Wait()
	return res
}

func (r *Renderer) layerStats(l driver.Layer) layerStats {
	st := layerStats{layer: l, name: l.Name(), gt: l.GeometryType(), count: -1}
	if !r.Opts.NoCount {
		count, err := l.FeatureCount()
		if err != nil {
			st.err = err
			return st
		}
		st.count = count
	}
	if !r.Opts.NoExtent {
		extent, err := l.Extent()
		if err != nil {
			st.err = err
			return st
		}
		st.extent = extent
	}
	return st
}

func (r *Renderer) printLayer(ds driver.Dataset, st layerStats) error {
	fmt.Fprintf(r.Out, "Layer name: %s\n", st.name)
	fmt.Fprintf(r.Out, "Geometry: %s\n", st.gt)
	if !r.Opts.NoCount {
		fmt.Fprintf(r.Out, "Feature Count: %d\n", st.count)
	}
	if !r.Opts.NoExtent && !st.extent.IsEmpty() {
		fmt.Fprintf(r.Out, "Extent: (%f, %f) - (%f, %f)\n",
			st.extent.Min[0], st.extent.Min[1], st.extent.Max[0], st.extent.Max[1])
	}
	if !r.Opts.NoMeta {
		r.printMetadata(st.layer.Metadata(), "")
	}
	if !r.Opts.NoFields {
		for _, f := range st.layer.Schema() {
			nullable := ""
			if !f.Nullable {
				nullable = " NOT NULL"
			}
			if f.Width > 0 {
				fmt.Fprintf(r.Out, "%s: %s (%d)%s\n", f.Name, f.Type, f.Width, nullable)
				continue
			}
			fmt.Fprintf(r.Out, "%s: %s%s\n", f.Name, f.Type, nullable)
		}
	}

	if !r.Opts.Features {
		return nil
	}
	return r.printFeatures(ds, st.layer)
}

func (r *Renderer) printFeatures(ds driver.Dataset, l driver.Layer) error {
	src := l
	if r.Opts.Where != "" {
		filtered, err := applyWhere(ds, l, r.Opts.Where)
		if err != nil {
			return err
		}
		src = filtered
	}

	found := false
	err := src.Features(func(f driver.Feature) bool {
		if r.Opts.FID >= 0 && f.FID != r.Opts.FID {
			return true
		}
		found = true
		fmt.Fprintf(r.Out, "\nFeature(%s):%d\n", l.Name(), f.FID)

		names := make([]string, 0, len(f.Properties))
		for name := range f.Properties {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(r.Out, "  %s = %v\n", name, formatValue(f.Properties[name]))
		}
		if f.Geometry != nil {
			fmt.Fprintf(r.Out, "  %s\n", wkt.MarshalString(f.Geometry))
		}
		return !(r.Opts.FID >= 0) // single-fid lookup stops at the hit
	})
	if err != nil {
		return err
	}
	if r.Opts.FID >= 0 && !found {
		return fmt.Errorf("feature %d not found in layer %q: %w", r.Opts.FID, l.Name(), driver.ErrNoFeature)
	}
	return nil
}

// applyWhere pushes an attribute filter down as sql. Drivers without sql
// support can't filter, which is reported rather than silently ignored.
func applyWhere(ds driver.Dataset, l driver.Layer, where string) (driver.Layer, error) {
	res, err := ds.ExecuteSQL(fmt.Sprintf("SELECT * FROM %q WHERE %s", l.Name(), where))
	if err != nil {
		return nil, fmt.Errorf("can't apply attribute filter to layer %q: %w", l.Name(), err)
	}
	return res, nil
}

func (r *Renderer) printMetadata(md map[string]string, indent string) {
	if len(md) == 0 {
		return
	}
	fmt.Fprintf(r.Out, "%sMetadata:\n", indent)
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(r.Out, "%s  %s=%s\n", indent, k, md[k])
	}
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "(null)"
	case []byte:
		return fmt.Sprintf("(%d bytes)", len(val))
	case string:
		return val
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", val))
	}
}
