package driver

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDriver struct {
	name       string
	identifies bool
	caps       Capability
	openErr    error
	openCalls  int
	lastFlags  OpenFlag
	lastOpts   []string
}

func (d *fakeDriver) Name() string              { return d.name }
func (d *fakeDriver) Identify(path string) bool { return d.identifies }
func (d *fakeDriver) Capabilities() Capability  { return d.caps }

func (d *fakeDriver) Open(path string, flags OpenFlag, openOptions []string) (Dataset, error) {
	d.openCalls++
	d.lastFlags = flags
	d.lastOpts = openOptions
	if d.openErr != nil {
		return nil, d.openErr
	}
	return &fakeDataset{driverName: d.name}, nil
}

type fakeDataset struct{ driverName string }

func (d *fakeDataset) Name() string                     { return "fake" }
func (d *fakeDataset) DriverName() string               { return d.driverName }
func (d *fakeDataset) Layers() []Layer                  { return nil }
func (d *fakeDataset) ExecuteSQL(string) (Layer, error) { return nil, ErrSQLNotSupported }
func (d *fakeDataset) Metadata() map[string]string      { return nil }
func (d *fakeDataset) Close() error                     { return nil }

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry(&fakeDriver{name: "a"}, &fakeDriver{name: "b"})
	assert.Equal(t, []string{"a", "b"}, r.Names())

	// re-registering keeps the position
	replacement := &fakeDriver{name: "a", identifies: true}
	r.Register(replacement)
	assert.Equal(t, []string{"a", "b"}, r.Names())
	got, err := r.Get("a")
	require.NoError(t, err)
	assert.Same(t, replacement, got)

	_, err = r.Get("nope")
	assert.ErrorContains(t, err, `driver "nope" not registered`)
}

func TestRegistry_IdentifyVector(t *testing.T) {
	r := NewRegistry(&fakeDriver{name: "a"}, &fakeDriver{name: "b", identifies: true})
	assert.True(t, r.IdentifyVector("some/path"))

	r = NewRegistry(&fakeDriver{name: "a"})
	assert.False(t, r.IdentifyVector("some/path"))
	assert.False(t, r.IdentifyVector("/does/not/exist"))
}

func TestRegistry_Open(t *testing.T) {
	t.Run("first identifying driver wins", func(t *testing.T) {
		skipped := &fakeDriver{name: "skipped"}
		winner := &fakeDriver{name: "winner", identifies: true}
		never := &fakeDriver{name: "never", identifies: true}
		r := NewRegistry(skipped, winner, never)

		ds, err := r.Open("path", FlagVector|FlagReadOnly, []string{"K=V"})
		require.NoError(t, err)
		assert.Equal(t, "winner", ds.DriverName())
		assert.Equal(t, 0, skipped.openCalls)
		assert.Equal(t, 1, winner.openCalls)
		assert.Equal(t, 0, never.openCalls, "later drivers not tried after success")
		assert.Equal(t, FlagVector|FlagReadOnly, winner.lastFlags)
		assert.Equal(t, []string{"K=V"}, winner.lastOpts)
	})

	t.Run("unrecognized path", func(t *testing.T) {
		r := NewRegistry(&fakeDriver{name: "a"})
		_, err := r.Open("path", FlagVector|FlagReadOnly, nil)
		assert.ErrorIs(t, err, ErrUnrecognized)
	})

	t.Run("update skips read-only drivers", func(t *testing.T) {
		roDriver := &fakeDriver{name: "ro", identifies: true}
		rwDriver := &fakeDriver{name: "rw", identifies: true, caps: CapUpdate}
		r := NewRegistry(roDriver, rwDriver)

		ds, err := r.Open("path", FlagVector|FlagUpdate, nil)
		require.NoError(t, err)
		assert.Equal(t, "rw", ds.DriverName())
		assert.Equal(t, 0, roDriver.openCalls)
	})

	t.Run("all identifying drivers fail", func(t *testing.T) {
		e1 := errors.New("boom one")
		e2 := errors.New("boom two")
		r := NewRegistry(
			&fakeDriver{name: "one", identifies: true, openErr: e1},
			&fakeDriver{name: "two", identifies: true, openErr: e2},
		)

		_, err := r.Open("path", FlagVector|FlagReadOnly|FlagVerboseError, nil)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrUnrecognized)
		assert.ErrorIs(t, err, e1)
		assert.ErrorIs(t, err, e2)
	})

	t.Run("update with no capable driver reports read-only drivers", func(t *testing.T) {
		r := NewRegistry(&fakeDriver{name: "ro", identifies: true})
		_, err := r.Open("path", FlagVector|FlagUpdate, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrReadOnlyDriver)
	})
}
