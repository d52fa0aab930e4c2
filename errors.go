package celldb

import (
	"errors"
	"fmt"

	"github.com/celltrace/celldb/cellid"
	"github.com/celltrace/celldb/timeline"
)

var (
	// ErrStoreUnavailable wraps failures of a backing store. The store's
	// original error can be recovered via errors.Unwrap; it is never
	// swallowed and never retried by this package.
	ErrStoreUnavailable = errors.New("backing store unavailable")

	// ErrEmptyInterval is returned for records whose start is not before
	// their end. Alias of the timeline sentinel.
	ErrEmptyInterval = timeline.ErrEmptyInterval

	// ErrSearchArgs is returned when a search combines filters that make
	// no sense together, e.g. a lower distance bound without a center.
	ErrSearchArgs = errors.New("invalid search arguments")
)

// MalformedRecordError reports an import row that could not be typed: a
// missing lac/ci or eci for the declared radio, out-of-range identity
// components, an empty interval or an invalid position.
//
// Row is the zero-based position in the import stream, filled in by the
// importer so the offending source line can be located.
type MalformedRecordError struct {
	Row      int
	Identity cellid.Identity
	Reason   string
	cause    error
}

func (e *MalformedRecordError) Error() string {
	if e.Identity.IsZero() {
		return fmt.Sprintf("malformed record at row %d: %s", e.Row, e.Reason)
	}
	return fmt.Sprintf("malformed record at row %d (%s): %s", e.Row, e.Identity, e.Reason)
}

func (e *MalformedRecordError) Unwrap() error { return e.cause }

// DuplicateConflictError reports two records of the same identity claiming
// overlapping validity under the Strict dedup policy. Both intervals are
// carried so the conflicting source rows can be diagnosed.
type DuplicateConflictError struct {
	Row      int
	Identity cellid.Identity
	Existing Interval
	Incoming Interval
	cause    error
}

func (e *DuplicateConflictError) Error() string {
	return fmt.Sprintf("duplicate conflict at row %d for %s: existing %s overlaps incoming %s",
		e.Row, e.Identity, e.Existing, e.Incoming)
}

func (e *DuplicateConflictError) Unwrap() error { return e.cause }
