// Package driver defines the capability model for vector data sources and the
// registry used to identify and open them. A driver recognizes a format-specific
// source (file, container or database connection) and produces a Dataset handle.
// Implemented by geojson, flatgeobuf, gpkg and dbspatial packages.
package driver

import (
	"errors"
	"strings"

	"github.com/paulmach/orb"
)

// OpenFlag is a set of capability bits requested from a driver's Open.
// Exactly one of FlagReadOnly/FlagUpdate is set in any flag set passed to Open.
type OpenFlag int

// Open flags.
const (
	FlagVector       OpenFlag = 1 << iota // vector access requested
	FlagReadOnly                          // open without write access
	FlagUpdate                            // open with write access
	FlagVerboseError                      // log open failures loudly
)

// Has reports whether all bits of f2 are set in f.
func (f OpenFlag) Has(f2 OpenFlag) bool { return f&f2 == f2 }

// String returns a human-readable form of the flag set, e.g. "vector|read-only".
func (f OpenFlag) String() string {
	var parts []string
	if f.Has(FlagVector) {
		parts = append(parts, "vector")
	}
	if f.Has(FlagReadOnly) {
		parts = append(parts, "read-only")
	}
	if f.Has(FlagUpdate) {
		parts = append(parts, "update")
	}
	if f.Has(FlagVerboseError) {
		parts = append(parts, "verbose-error")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Capability describes optional operations a driver supports.
type Capability int

// Driver capabilities.
const (
	CapUpdate Capability = 1 << iota // can open sources with write access
	CapSQL                           // can execute sql statements
	CapCreate                        // can initialize an empty container on update open
)

// Has reports whether all bits of c2 are set in c.
func (c Capability) Has(c2 Capability) bool { return c&c2 == c2 }

// Common errors returned by drivers and the registry.
var (
	ErrUnrecognized    = errors.New("no driver recognizes data source")
	ErrReadOnlyDriver  = errors.New("driver does not support update access")
	ErrSQLNotSupported = errors.New("driver does not support sql execution")
	ErrEmptyContainer  = errors.New("container has no content, open with update access to initialize")
	ErrNoFeature       = errors.New("no such feature")
)

// Driver is a format plugin. Identify must be a cheap, non-mutating check,
// safe on paths that don't exist; Open performs the real acquisition.
type Driver interface {
	Name() string
	Identify(path string) bool
	Open(path string, flags OpenFlag, openOptions []string) (Dataset, error)
	Capabilities() Capability
}

// Dataset is an open data source handle, exclusively owned by the caller.
// The caller must call Close exactly once on every exit path.
type Dataset interface {
	Name() string
	DriverName() string
	Layers() []Layer
	ExecuteSQL(statement string) (Layer, error)
	Metadata() map[string]string
	Close() error
}

// Layer is a named collection of features with a uniform schema.
type Layer interface {
	Name() string
	GeometryType() string
	FeatureCount() (int64, error)
	Extent() (orb.Bound, error)
	Schema() []Field
	// Features streams features through fn in source order. FID numbering is
	// zero-based and stable within one open handle. Iteration stops when fn
	// returns false.
	Features(fn func(f Feature) bool) error
	Metadata() map[string]string
}

// Field describes a single attribute column of a layer.
type Field struct {
	Name     string
	Type     FieldType
	Width    int // 0 when the source does not constrain width
	Nullable bool
}

// FieldType enumerates attribute types understood by the report layer.
type FieldType string

// Field types, the usual simple-features attribute set.
const (
	TypeInteger   FieldType = "Integer"
	TypeInteger64 FieldType = "Integer64"
	TypeReal      FieldType = "Real"
	TypeString    FieldType = "String"
	TypeBool      FieldType = "Boolean"
	TypeDateTime  FieldType = "DateTime"
	TypeBinary    FieldType = "Binary"
	TypeJSON      FieldType = "JSON"
)

// Feature is a single record: attributes keyed by field name plus an
// optional geometry. A nil Geometry means the feature has none.
type Feature struct {
	FID        int64
	Geometry   orb.Geometry
	Properties map[string]any
}

// ParseOpenOptions splits "key=value" open option strings into a map.
// Malformed entries (no "=") are kept with an empty value so drivers can
// still see the key was supplied.
func ParseOpenOptions(openOptions []string) map[string]string {
	res := make(map[string]string, len(openOptions))
	for _, oo := range openOptions {
		k, v, found := strings.Cut(oo, "=")
		if !found {
			res[strings.TrimSpace(oo)] = ""
			continue
		}
		res[strings.TrimSpace(k)] = v
	}
	return res
}
