// Package timeline implements the per-identity temporal index of the cell
// database: an ordered set of non-overlapping validity intervals with
// point-in-time lookup, and the deduplication resolver that keeps the set
// non-overlapping while records are imported.
package timeline

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Policy decides how an incoming record that overlaps existing validity is
// resolved during import.
type Policy uint8

const (
	// TakeFirst keeps existing records: the incoming record is clipped to
	// the uncovered remainder of its interval, or dropped if none remains.
	TakeFirst Policy = iota + 1
	// TakeLast lets the incoming record win: overlapped portions of
	// existing records are clipped away, splitting them when the overlap
	// is in the middle.
	TakeLast
	// Strict treats any overlap as a fatal import error, except an exact
	// duplicate (same interval, same antenna data), which is a no-op.
	Strict
)

// String returns the configuration name of the policy.
func (p Policy) String() string {
	switch p {
	case TakeFirst:
		return "take_first"
	case TakeLast:
		return "take_last"
	case Strict:
		return "strict"
	default:
		return fmt.Sprintf("policy(%d)", uint8(p))
	}
}

// ParsePolicy resolves a configuration name ("take_first", "take-last",
// "strict") to a Policy.
func ParsePolicy(name string) (Policy, error) {
	switch strings.ReplaceAll(strings.ToLower(name), "-", "_") {
	case "take_first":
		return TakeFirst, nil
	case "take_last":
		return TakeLast, nil
	case "strict":
		return Strict, nil
	default:
		return 0, fmt.Errorf("unknown duplicate policy: %q", name)
	}
}

// Arena is the record storage a Timeline resolves conflicts against. The
// timeline tracks only record ids and intervals; clipping and dropping the
// backing records is delegated to the owner.
type Arena interface {
	// ClipRecord narrows the validity interval of record id to iv.
	ClipRecord(id uint32, iv Interval)
	// SplitRecord clones record id with validity iv and returns the id of
	// the clone. Used when clipping leaves a record in two pieces.
	SplitRecord(id uint32, iv Interval) uint32
	// DropRecord removes record id entirely.
	DropRecord(id uint32)
	// SameAntenna reports whether two records describe the same antenna
	// deployment (equal position and azimuth). Exact duplicates are
	// tolerated under the Strict policy.
	SameAntenna(a, b uint32) bool
}

// ConflictError reports two records of the same identity claiming
// overlapping validity under the Strict policy.
type ConflictError struct {
	ExistingID uint32
	IncomingID uint32
	Existing   Interval
	Incoming   Interval
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflicting validity: existing record %d %s overlaps incoming record %d %s",
		e.ExistingID, e.Existing, e.IncomingID, e.Incoming)
}

type entry struct {
	iv Interval
	id uint32
}

// Timeline is the ordered validity history of a single identity. Entries
// are kept sorted by start and never overlap. The zero value is an empty
// timeline ready for use.
//
// Insert is not safe for concurrent use; At and the read accessors are safe
// once inserts have finished.
type Timeline struct {
	entries []entry
}

// Len returns the number of validity intervals.
func (t *Timeline) Len() int { return len(t.entries) }

// IDs returns the record ids in interval start order.
func (t *Timeline) IDs() []uint32 {
	ids := make([]uint32, len(t.entries))
	for i, e := range t.entries {
		ids[i] = e.id
	}
	return ids
}

// At returns the id of the record whose interval contains ts. The lookup
// is a binary search over interval starts: O(log n) in the number of
// intervals.
func (t *Timeline) At(ts time.Time) (uint32, bool) {
	// First entry starting after ts; the candidate is the one before it.
	i := sort.Search(len(t.entries), func(i int) bool {
		return t.entries[i].iv.Start.After(ts)
	})
	if i == 0 {
		return 0, false
	}
	if e := t.entries[i-1]; e.iv.Contains(ts) {
		return e.id, true
	}
	return 0, false
}

// Append adds a record whose interval is known not to overlap any existing
// entry, e.g. when rebuilding an index from an already-consistent record
// set. It panics if the invariant would break.
func (t *Timeline) Append(id uint32, iv Interval) {
	lo, hi := t.overlapRange(iv)
	if lo != hi {
		panic(fmt.Sprintf("timeline: Append %s overlaps existing %s", iv, t.entries[lo].iv))
	}
	t.splice(lo, hi, []entry{{iv: iv, id: id}})
}

// Insert resolves the incoming record (id, iv) against the existing
// timeline under the given policy and restores the non-overlap invariant.
// Record mutations (clipping, splitting, dropping) are applied through the
// arena. A Strict conflict is reported as *ConflictError and leaves both
// the timeline and the arena untouched.
func (t *Timeline) Insert(a Arena, id uint32, iv Interval, pol Policy) error {
	if err := iv.Validate(); err != nil {
		return err
	}

	lo, hi := t.overlapRange(iv)
	if lo == hi {
		t.splice(lo, hi, []entry{{iv: iv, id: id}})
		return nil
	}

	switch pol {
	case Strict:
		first := t.entries[lo]
		if hi-lo == 1 && first.iv.Equal(iv) && a.SameAntenna(first.id, id) {
			a.DropRecord(id) // exact duplicate, keep the original
			return nil
		}
		return &ConflictError{
			ExistingID: first.id,
			IncomingID: id,
			Existing:   first.iv,
			Incoming:   iv,
		}

	case TakeFirst:
		covers := make([]Interval, 0, hi-lo)
		for _, e := range t.entries[lo:hi] {
			covers = append(covers, e.iv)
		}
		pieces := subtract(iv, covers)
		if len(pieces) == 0 {
			a.DropRecord(id)
			return nil
		}
		added := make([]entry, 0, len(pieces))
		a.ClipRecord(id, pieces[0])
		added = append(added, entry{iv: pieces[0], id: id})
		for _, p := range pieces[1:] {
			added = append(added, entry{iv: p, id: a.SplitRecord(id, p)})
		}
		merged := mergeSorted(t.entries[lo:hi], added)
		t.splice(lo, hi, merged)
		return nil

	case TakeLast:
		kept := make([]entry, 0, (hi-lo)*2+1)
		for _, e := range t.entries[lo:hi] {
			pieces := subtract(e.iv, []Interval{iv})
			if len(pieces) == 0 {
				a.DropRecord(e.id)
				continue
			}
			a.ClipRecord(e.id, pieces[0])
			kept = append(kept, entry{iv: pieces[0], id: e.id})
			if len(pieces) > 1 {
				kept = append(kept, entry{iv: pieces[1], id: a.SplitRecord(e.id, pieces[1])})
			}
		}
		merged := mergeSorted(kept, []entry{{iv: iv, id: id}})
		t.splice(lo, hi, merged)
		return nil

	default:
		return fmt.Errorf("unknown duplicate policy: %d", pol)
	}
}

// overlapRange returns the half-open index range of entries overlapping iv.
// Entries are sorted by start and disjoint, so both bounds are found by
// binary search.
func (t *Timeline) overlapRange(iv Interval) (lo, hi int) {
	lo = sort.Search(len(t.entries), func(i int) bool {
		return t.entries[i].iv.endsAfter(iv.Start)
	})
	hi = lo + sort.Search(len(t.entries)-lo, func(i int) bool {
		return !t.entries[lo+i].iv.startsBefore(iv.End)
	})
	return lo, hi
}

// splice replaces entries[lo:hi] with repl, which must already be sorted.
func (t *Timeline) splice(lo, hi int, repl []entry) {
	out := make([]entry, 0, len(t.entries)-(hi-lo)+len(repl))
	out = append(out, t.entries[:lo]...)
	out = append(out, repl...)
	out = append(out, t.entries[hi:]...)
	t.entries = out
}

func mergeSorted(a, b []entry) []entry {
	out := make([]entry, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	sort.Slice(out, func(i, j int) bool {
		return out[i].iv.Start.Before(out[j].iv.Start)
	})
	return out
}
