package celldb

import (
	"context"
	"time"

	"github.com/celltrace/celldb/cellid"
	"github.com/celltrace/celldb/geo"
	"github.com/celltrace/celldb/timeline"
)

// Interval is a half-open validity range. Re-exported from the timeline
// package so callers rarely need to import it directly.
type Interval = timeline.Interval

// DedupPolicy selects how overlapping validity claims for the same identity
// are resolved during import.
type DedupPolicy = timeline.Policy

// Dedup policies. See the timeline package for exact semantics.
const (
	TakeFirst = timeline.TakeFirst
	TakeLast  = timeline.TakeLast
	Strict    = timeline.Strict
)

// ParsePolicy resolves a configuration name ("take_first", "take_last",
// "strict") to a DedupPolicy.
func ParsePolicy(name string) (DedupPolicy, error) { return timeline.ParsePolicy(name) }

// Record is one antenna deployment: an identity valid over a bounded time
// interval at a fixed position. Records are immutable once import has
// finished; Get and Search return copies of the value, never shared
// pointers.
type Record struct {
	Identity cellid.Identity
	Interval Interval
	Position geo.Point
	// Azimuth is the antenna's direction from north, if known.
	Azimuth *geo.Angle
	// Extra carries source columns the database does not interpret.
	Extra map[string]string
}

// sameAntenna reports whether two records describe the same physical
// deployment: equal position and azimuth. Used to recognize exact
// duplicates under the Strict policy.
func sameAntenna(a, b *Record) bool {
	if a.Position != b.Position {
		return false
	}
	switch {
	case a.Azimuth == nil && b.Azimuth == nil:
		return true
	case a.Azimuth == nil || b.Azimuth == nil:
		return false
	default:
		return *a.Azimuth == *b.Azimuth
	}
}

// Row is one untyped import row, as delivered by a CSV file or a backing
// store. Zero times mean an absent bound; nil pointers mean absent values.
// Which of LAC/CI versus ECI must be present follows from Radio.
type Row struct {
	DateStart time.Time
	DateEnd   time.Time
	Radio     string
	MCC       int
	MNC       int
	LAC       *int
	CI        *int
	ECI       *int
	Lat       float64
	Lon       float64
	Azimuth   *float64
	Extra     map[string]string
}

// Source is an ordered sequence of import rows. Implementations stream rows
// in their native order; the importer never reorders them, because dedup
// decisions depend on arrival order.
type Source interface {
	// Rows calls fn for every row in source order. A non-nil error from fn
	// stops the stream and is returned verbatim.
	Rows(ctx context.Context, fn func(Row) error) error
}

// RadiusSource is a Source that can push a coarse radius filter down to the
// backing store. The store filter may overshoot (e.g. a bounding box); the
// exact great-circle check always happens in-core.
type RadiusSource interface {
	Source
	// RowsWithin streams the rows whose position may lie within limitM
	// meters of center.
	RowsWithin(ctx context.Context, center geo.Point, limitM float64, fn func(Row) error) error
}

// RowsOf adapts a fixed slice to a Source, e.g. for tests and small
// in-process imports.
func RowsOf(rows []Row) Source { return sliceSource(rows) }

type sliceSource []Row

func (s sliceSource) Rows(ctx context.Context, fn func(Row) error) error {
	for _, r := range s {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

// recordFromRow validates and types a raw row. Malformed rows are reported
// as *MalformedRecordError carrying the offending field.
func recordFromRow(row Row) (Record, error) {
	radio, err := cellid.ParseRadio(row.Radio)
	if err != nil {
		return Record{}, &MalformedRecordError{Reason: err.Error()}
	}

	var id cellid.Identity
	if radio.UsesCGI() {
		if row.LAC == nil || row.CI == nil {
			return Record{}, &MalformedRecordError{
				Reason: radio.String() + " row requires both lac and ci",
			}
		}
		id, err = cellid.New(radio, row.MCC, row.MNC, *row.LAC, *row.CI, 0)
	} else {
		if row.ECI == nil {
			return Record{}, &MalformedRecordError{
				Reason: radio.String() + " row requires an eci",
			}
		}
		id, err = cellid.New(radio, row.MCC, row.MNC, 0, 0, *row.ECI)
	}
	if err != nil {
		return Record{}, &MalformedRecordError{Reason: err.Error()}
	}
	if !id.IsValid() {
		return Record{}, &MalformedRecordError{
			Identity: id,
			Reason:   "identity components out of range",
		}
	}

	iv := Interval{Start: row.DateStart, End: row.DateEnd}
	if err := iv.Validate(); err != nil {
		return Record{}, &MalformedRecordError{Identity: id, Reason: err.Error(), cause: err}
	}

	pos := geo.Point{Lat: row.Lat, Lon: row.Lon}
	if !pos.Valid() {
		return Record{}, &MalformedRecordError{
			Identity: id,
			Reason:   "position outside the WGS84 domain: " + pos.String(),
		}
	}

	rec := Record{
		Identity: id,
		Interval: iv,
		Position: pos,
		Extra:    row.Extra,
	}
	if row.Azimuth != nil {
		az := geo.NewAngle(*row.Azimuth)
		rec.Azimuth = &az
	}
	return rec, nil
}
