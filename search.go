package celldb

import (
	"context"
	"fmt"
	"time"

	"github.com/celltrace/celldb/cellid"
	"github.com/celltrace/celldb/geo"
)

// SearchBuilder accumulates search filters and produces a narrowed
// Database. Obtain one from Database.Search; the builder is single-use and
// not safe for concurrent use, unlike the databases it produces.
type SearchBuilder struct {
	db      *Database
	radios  []cellid.Radio
	mcc     *int
	mnc     *int
	center  *geo.Point
	limitM  float64
	lowerM  float64
	at      *time.Time
	exclude map[cellid.Identity]struct{}
	count   int
	countOK bool
}

// Search starts a new search over the database's records. Filters compose
// with AND semantics; Execute returns a new Database restricted to the
// matching records, leaving the receiver untouched.
func (db *Database) Search() *SearchBuilder {
	return &SearchBuilder{db: db, count: -1}
}

// Radio restricts results to the given radio technologies.
func (s *SearchBuilder) Radio(radios ...cellid.Radio) *SearchBuilder {
	s.radios = append(s.radios, radios...)
	return s
}

// MCC restricts results to one mobile country code.
func (s *SearchBuilder) MCC(mcc int) *SearchBuilder {
	s.mcc = &mcc
	return s
}

// MNC restricts results to one mobile network code.
func (s *SearchBuilder) MNC(mnc int) *SearchBuilder {
	s.mnc = &mnc
	return s
}

// Within restricts results to records at most limitM meters from center,
// measured along the great circle. The boundary is inclusive. Results of a
// radius search iterate in ascending distance order, ties broken by
// insertion order.
func (s *SearchBuilder) Within(center geo.Point, limitM float64) *SearchBuilder {
	s.center = &center
	s.limitM = limitM
	return s
}

// Beyond additionally excludes records at most lowerM meters from the
// Within center, e.g. to skip antennas co-located with a known point.
// Requires Within.
func (s *SearchBuilder) Beyond(lowerM float64) *SearchBuilder {
	s.lowerM = lowerM
	return s
}

// ActiveAt restricts results to records whose validity interval contains
// ts (start inclusive, end exclusive).
func (s *SearchBuilder) ActiveAt(ts time.Time) *SearchBuilder {
	s.at = &ts
	return s
}

// Exclude removes records of the given identities from the results.
func (s *SearchBuilder) Exclude(ids ...cellid.Identity) *SearchBuilder {
	if s.exclude == nil {
		s.exclude = make(map[cellid.Identity]struct{}, len(ids))
	}
	for _, id := range ids {
		s.exclude[id] = struct{}{}
	}
	return s
}

// Limit caps the number of results, applied after all other filters in the
// result iteration order. For radius searches that keeps the n nearest
// records.
func (s *SearchBuilder) Limit(n int) *SearchBuilder {
	s.count = n
	s.countOK = true
	return s
}

// Execute runs the search and returns the matching records as a new
// Database. The result shares record storage with the parent but owns its
// indexes, so it can be searched again, snapshotted, or queried
// independently. An empty result is a valid, empty database. The context
// is used for logging; the narrowing itself is in-memory and does not
// block.
func (s *SearchBuilder) Execute(ctx context.Context) (*Database, error) {
	start := time.Now()
	view, err := s.execute()
	took := time.Since(start)
	if err != nil {
		s.db.opts.metrics.RecordSearch(0, took, err)
		s.db.opts.logger.LogSearch(ctx, 0, err)
		return nil, err
	}
	s.db.opts.metrics.RecordSearch(view.Len(), took, nil)
	s.db.opts.logger.LogSearch(ctx, view.Len(), nil)
	return view, nil
}

func (s *SearchBuilder) execute() (*Database, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}

	var candidates []uint32
	if s.center != nil {
		matches := s.db.grid.Within(*s.center, s.limitM, s.lowerM)
		candidates = make([]uint32, len(matches))
		for i, m := range matches {
			candidates[i] = m.ID
		}
	} else {
		candidates = s.db.order
	}

	radios := make(map[cellid.Radio]struct{}, len(s.radios))
	for _, r := range s.radios {
		radios[r] = struct{}{}
	}

	ids := make([]uint32, 0, len(candidates))
	for _, id := range candidates {
		if s.countOK && len(ids) >= s.count {
			break
		}
		rec := &s.db.arena.recs[id]
		if len(radios) > 0 {
			if _, ok := radios[rec.Identity.Radio()]; !ok {
				continue
			}
		}
		if s.mcc != nil && rec.Identity.MCC() != *s.mcc {
			continue
		}
		if s.mnc != nil && rec.Identity.MNC() != *s.mnc {
			continue
		}
		if s.at != nil && !rec.Interval.Contains(*s.at) {
			continue
		}
		if s.exclude != nil {
			if _, ok := s.exclude[rec.Identity]; ok {
				continue
			}
		}
		ids = append(ids, id)
	}

	return s.db.newView(ids), nil
}

func (s *SearchBuilder) validate() error {
	if s.center != nil {
		if !s.center.Valid() {
			return fmt.Errorf("%w: center %v out of range", ErrSearchArgs, *s.center)
		}
		if s.limitM < 0 {
			return fmt.Errorf("%w: negative distance limit %g", ErrSearchArgs, s.limitM)
		}
	}
	if s.lowerM != 0 {
		if s.center == nil {
			return fmt.Errorf("%w: lower distance bound without a center", ErrSearchArgs)
		}
		if s.lowerM < 0 {
			return fmt.Errorf("%w: negative lower distance bound %g", ErrSearchArgs, s.lowerM)
		}
	}
	if s.countOK && s.count < 0 {
		return fmt.Errorf("%w: negative result limit %d", ErrSearchArgs, s.count)
	}
	return nil
}
