package main

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vectool/vecinfo/pkg/access"
	"github.com/vectool/vecinfo/pkg/config"
	"github.com/vectool/vecinfo/pkg/creds"
	"github.com/vectool/vecinfo/pkg/report"
)

const testCollection = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"name": "alpha", "pop": 100}, "geometry": {"type": "Point", "coordinates": [1, 2]}},
    {"type": "Feature", "properties": {"name": "beta", "pop": 250}, "geometry": {"type": "Point", "coordinates": [3, 4]}}
  ]
}`

func writeFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cities.geojson")
	require.NoError(t, os.WriteFile(path, []byte(testCollection), 0o600))
	return path
}

// defaultOpts mimics the flag defaults run() relies on.
func defaultOpts(datasource string) options {
	opts := options{FID: -1, ConfigFile: "no-such-config.yml"}
	opts.PositionalArgs.Datasource = datasource
	return opts
}

func captureStdout(t *testing.T, f func() error) (out string, err error) {
	t.Helper()
	r, w, pErr := os.Pipe()
	require.NoError(t, pErr)
	oldStdout := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = oldStdout }()

	err = f()
	require.NoError(t, w.Close())
	data, rErr := io.ReadAll(r)
	require.NoError(t, rErr)
	return string(data), err
}

func TestRun_Listing(t *testing.T) {
	path := writeFixture(t)

	out, err := captureStdout(t, func() error { return run(defaultOpts(path)) })
	require.NoError(t, err)
	assert.Contains(t, out, "using driver `GeoJSON' successful")
	assert.Contains(t, out, "1: cities (Point)")
	assert.NotContains(t, out, "Had to open data source read-only.")
}

func TestRun_Summary(t *testing.T) {
	path := writeFixture(t)
	opts := defaultOpts(path)
	opts.Summary = true

	out, err := captureStdout(t, func() error { return run(opts) })
	require.NoError(t, err)
	assert.Contains(t, out, "Layer name: cities")
	assert.Contains(t, out, "Feature Count: 2")
	assert.Contains(t, out, "name: String")
}

func TestRun_JSON(t *testing.T) {
	path := writeFixture(t)
	opts := defaultOpts(path)
	opts.JSON = true

	out, err := captureStdout(t, func() error { return run(opts) })
	require.NoError(t, err)
	assert.Contains(t, out, `"driver"`)
	assert.Contains(t, out, `"GeoJSON"`)
	assert.Contains(t, out, `"cities"`)
}

func TestRun_SQLDegradesToReadOnly(t *testing.T) {
	// geojson can't open for update, so default intent with sql falls back
	// to read-only and the advisory is printed before sql fails
	path := writeFixture(t)
	opts := defaultOpts(path)
	opts.SQL = "SELECT * FROM cities"

	out, err := captureStdout(t, func() error { return run(opts) })
	require.Error(t, err)
	assert.Contains(t, out, "Had to open data source read-only.")

	t.Run("quiet suppresses advisory", func(t *testing.T) {
		opts.Quiet = true
		out, err := captureStdout(t, func() error { return run(opts) })
		require.Error(t, err)
		assert.NotContains(t, out, "Had to open data source read-only.")
	})
}

func TestRun_Errors(t *testing.T) {
	tbl := []struct {
		name string
		opts func() options
		err  string
	}{
		{"conflicting flags", func() options {
			opts := defaultOpts(writeFixture(t))
			opts.ReadOnly, opts.Update = true, true
			return opts
		}, "--ro and --update can't be combined"},
		{"no datasource", func() options {
			return defaultOpts("")
		}, "no datasource specified"},
		{"unrecognized source", func() options {
			path := filepath.Join(t.TempDir(), "data.bin")
			require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o600))
			return defaultOpts(path)
		}, "no driver recognizes"},
		{"explicit update refused", func() options {
			opts := defaultOpts(writeFixture(t))
			opts.Update = true
			return opts
		}, "does not support update access"},
	}

	for _, tt := range tbl {
		t.Run(tt.name, func(t *testing.T) {
			_, err := captureStdout(t, func() error { return run(tt.opts()) })
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.err)
		})
	}
}

func TestIntent(t *testing.T) {
	assert.Equal(t, access.IntentDefault, intent(options{}))
	assert.Equal(t, access.IntentReadOnly, intent(options{ReadOnly: true}))
	assert.Equal(t, access.IntentUpdate, intent(options{Update: true}))
}

func TestMakeRegistry(t *testing.T) {
	registry := makeRegistry(&config.Config{})
	assert.Equal(t, []string{"FlatGeobuf", "GeoJSON", "GPKG", "DBSpatial"}, registry.Names())

	registry = makeRegistry(&config.Config{DisabledDrivers: []string{"geojson"}})
	assert.Equal(t, []string{"FlatGeobuf", "GPKG", "DBSpatial"}, registry.Names())
}

func TestOpenOptions(t *testing.T) {
	cfg := &config.Config{OpenOptions: map[string][]string{"GPKG": {"LIST_ALL_TABLES=YES"}}}
	opts := options{OpenOpts: []string{"FLATTEN_NESTED_ATTRIBUTES=YES"}}

	res := openOptions(opts, cfg, makeRegistry(cfg))
	assert.Equal(t, []string{"LIST_ALL_TABLES=YES", "FLATTEN_NESTED_ATTRIBUTES=YES"}, res,
		"command line options come last")
}

func TestReportOptions(t *testing.T) {
	opts := options{Summary: true, FID: -1}
	res := reportOptions(opts, &config.Config{OutputFormat: "json", Workers: 4})
	assert.Equal(t, report.Options{JSON: true, Summary: true, FID: -1, Workers: 4}, res)

	opts.Workers = 2
	res = reportOptions(opts, &config.Config{Workers: 4})
	assert.Equal(t, 2, res.Workers, "explicit flag wins over config")
}

func TestMakeCredsProvider(t *testing.T) {
	p, err := makeCredsProvider(CredsProvider{Provider: "none"}, &config.Config{})
	require.NoError(t, err)
	assert.IsType(t, &creds.NoOpProvider{}, p)

	p, err = makeCredsProvider(CredsProvider{Provider: "internal", Key: "key",
		Conn: filepath.Join(t.TempDir(), "creds.db")}, &config.Config{})
	require.NoError(t, err)
	assert.IsType(t, &creds.InternalStore{}, p)
}
