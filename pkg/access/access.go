// Package access implements the dataset open-mode negotiation: given the
// user's intent (explicit read-only or update request, or neither), an
// optional attached sql statement and a driver-identification probe, it
// decides the open flags, performs the open and applies a single bounded
// fallback retry when the first attempt fails.
package access

import (
	"fmt"
	"log"

	"github.com/vectool/vecinfo/pkg/driver"
)

// Intent is the caller's requested access mode. IntentReadOnly and
// IntentUpdate are mutually exclusive; enforcing that is the argument
// parser's job, not ours.
type Intent int

// Access intents.
const (
	IntentDefault  Intent = iota // no explicit request, negotiate
	IntentReadOnly               // explicit read-only request
	IntentUpdate                 // explicit update request
)

// Prober answers whether any installed driver recognizes a path for vector
// access without opening or locking it. Must return false on nonexistent
// paths rather than failing.
type Prober interface {
	IdentifyVector(path string) bool
}

// Opener performs the actual open. Open options are passed through verbatim.
type Opener interface {
	Open(path string, flags driver.OpenFlag, openOptions []string) (driver.Dataset, error)
}

// Result is the outcome of a successful negotiation. Degraded is true only
// when the source had to be opened read-only after a failed update attempt;
// the caller should surface that to the user.
type Result struct {
	Dataset  driver.Dataset
	Degraded bool
}

// Negotiator owns the open-mode decision and retry policy. Stateless across
// invocations; both collaborators are injected.
type Negotiator struct {
	Probe  Prober
	Opener Opener
}

// Negotiate computes the initial flag set, attempts the open and applies at
// most one fallback:
//   - default intent, no sql: open read-only; if the probe recognized the
//     source and the open still failed, retry once in update mode. Some
//     container formats (an empty geopackage, say) cannot be opened
//     read-only until they hold at least one object.
//   - default intent with sql: the statement may mutate, so open in update
//     mode; on failure retry once read-only and mark the result degraded.
//   - explicit intent: no fallback, the failure is terminal.
//
// On failure no handle is retained. The fallback never chains.
func (n *Negotiator) Negotiate(path string, intent Intent, sqlStatement string, openOptions []string) (Result, error) {
	flags := driver.FlagVector
	mayRetryUpdate := false

	switch {
	case intent == IntentUpdate:
		flags |= driver.FlagUpdate | driver.FlagVerboseError
	case intent == IntentReadOnly:
		flags |= driver.FlagReadOnly | driver.FlagVerboseError
	case sqlStatement == "":
		flags |= driver.FlagReadOnly
		if n.Probe.IdentifyVector(path) {
			// a recognized source has a plausible update-mode fallback, so
			// keep the first failure quiet
			mayRetryUpdate = true
		} else {
			flags |= driver.FlagVerboseError
		}
	default:
		flags |= driver.FlagUpdate | driver.FlagVerboseError
	}

	ds, err := n.Opener.Open(path, flags, openOptions)
	if err == nil {
		return Result{Dataset: ds}, nil
	}

	if intent != IntentDefault {
		return Result{}, fmt.Errorf("can't open %q: %w", path, err)
	}

	if sqlStatement == "" && mayRetryUpdate {
		log.Printf("[DEBUG] read-only open of %q failed, retrying in update mode", path)
		ds, retryErr := n.Opener.Open(path, driver.FlagVector|driver.FlagUpdate, openOptions)
		if retryErr != nil {
			return Result{}, fmt.Errorf("can't open %q: %w", path, err)
		}
		return Result{Dataset: ds}, nil
	}

	if sqlStatement != "" {
		log.Printf("[DEBUG] update open of %q failed, retrying read-only", path)
		ds, retryErr := n.Opener.Open(path, driver.FlagVector|driver.FlagReadOnly, openOptions)
		if retryErr != nil {
			return Result{}, fmt.Errorf("can't open %q: %w", path, err)
		}
		return Result{Dataset: ds, Degraded: true}, nil
	}

	return Result{}, fmt.Errorf("can't open %q: %w", path, err)
}
