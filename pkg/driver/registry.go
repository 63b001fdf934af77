package driver

import (
	"fmt"
	"log"

	"github.com/hashicorp/go-multierror"
)

// Registry holds an ordered list of drivers. It is built once at process
// startup and injected into the consumers; it is not mutated afterwards, so
// concurrent identify/open calls on different paths need no locking.
type Registry struct {
	drivers []Driver
}

// NewRegistry creates a registry with the given drivers, tried in order.
func NewRegistry(drivers ...Driver) *Registry {
	res := &Registry{}
	for _, d := range drivers {
		res.Register(d)
	}
	return res
}

// Register appends a driver. Re-registering a name replaces the earlier entry,
// keeping its position.
func (r *Registry) Register(d Driver) {
	for i, existing := range r.drivers {
		if existing.Name() == d.Name() {
			r.drivers[i] = d
			return
		}
	}
	r.drivers = append(r.drivers, d)
}

// Get returns a registered driver by name.
func (r *Registry) Get(name string) (Driver, error) {
	for _, d := range r.drivers {
		if d.Name() == name {
			return d, nil
		}
	}
	return nil, fmt.Errorf("driver %q not registered", name)
}

// Names returns the registered driver names in registration order.
func (r *Registry) Names() []string {
	res := make([]string, 0, len(r.drivers))
	for _, d := range r.drivers {
		res = append(res, d.Name())
	}
	return res
}

// IdentifyVector reports whether any registered driver recognizes the path
// for vector access. This is a peek only: no driver Open is attempted, no
// lock is taken, and a nonexistent path yields false, never an error.
func (r *Registry) IdentifyVector(path string) bool {
	for _, d := range r.drivers {
		if d.Identify(path) {
			log.Printf("[DEBUG] driver %q identified %q", d.Name(), path)
			return true
		}
	}
	return false
}

// Open tries each driver that identifies the path, in registration order, and
// returns the first successful dataset. Drivers without update capability are
// skipped when FlagUpdate is requested. With FlagVerboseError each failure is
// logged at warn level, otherwise at debug only; the aggregated error keeps
// every per-driver failure either way.
func (r *Registry) Open(path string, flags OpenFlag, openOptions []string) (Dataset, error) {
	errs := new(multierror.Error)
	identified := false

	for _, d := range r.drivers {
		if !d.Identify(path) {
			continue
		}
		identified = true

		if flags.Has(FlagUpdate) && !d.Capabilities().Has(CapUpdate) {
			log.Printf("[DEBUG] driver %q skipped for %q, no update capability", d.Name(), path)
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", d.Name(), ErrReadOnlyDriver))
			continue
		}

		ds, err := d.Open(path, flags, openOptions)
		if err != nil {
			if flags.Has(FlagVerboseError) {
				log.Printf("[WARN] driver %q failed to open %q: %v", d.Name(), path, err)
			} else {
				log.Printf("[DEBUG] driver %q failed to open %q: %v", d.Name(), path, err)
			}
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", d.Name(), err))
			continue
		}
		log.Printf("[DEBUG] opened %q with driver %q, flags %s", path, d.Name(), flags)
		return ds, nil
	}

	if !identified {
		if flags.Has(FlagVerboseError) {
			log.Printf("[WARN] no driver recognizes %q", path)
		}
		return nil, fmt.Errorf("open %q: %w", path, ErrUnrecognized)
	}
	return nil, fmt.Errorf("open %q: %w", path, errs.ErrorOrNil())
}
