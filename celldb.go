package celldb

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/celltrace/celldb/cellid"
	"github.com/celltrace/celldb/geo"
	"github.com/celltrace/celldb/spatial"
	"github.com/celltrace/celldb/timeline"
)

// arena is the append-only record storage shared between a database and
// every view narrowed from it. Views select records through bitmaps; the
// records themselves are stored once.
type arena struct {
	recs []Record
}

// Database is a read-only temporal-spatial collection of antenna records.
//
// A Database is built once, via Import/ImportFrom/ReadSnapshot, and is then
// immutable: Get and Search may be called from any number of goroutines
// without coordination. Search produces a new Database that shares record
// storage with its parent but owns its index structures, so narrowed views
// and their parents never alias mutable state.
type Database struct {
	arena  *arena
	live   *roaring.Bitmap
	order  []uint32 // iteration order: import order, or distance order for radius results
	byCell map[cellid.Identity]*timeline.Timeline
	grid   *spatial.Grid
	opts   options
}

// Len returns the number of retained records (after deduplication).
func (db *Database) Len() int { return len(db.order) }

// Get returns the record of identity ci that was active at ts, if any.
// Absence is a normal outcome, not an error: the boolean is false when the
// identity is unknown or no validity interval contains ts. The start of an
// interval is inclusive, the end exclusive.
func (db *Database) Get(ci cellid.Identity, ts time.Time) (Record, bool) {
	start := time.Now()
	tl, ok := db.byCell[ci]
	if !ok {
		db.opts.metrics.RecordGet(false, time.Since(start))
		return Record{}, false
	}
	id, ok := tl.At(ts)
	db.opts.metrics.RecordGet(ok, time.Since(start))
	if !ok {
		return Record{}, false
	}
	return db.arena.recs[id], true
}

// Records iterates the retained records. Base databases iterate in import
// order; radius-search results iterate by ascending distance from the query
// center.
func (db *Database) Records() iter.Seq[Record] {
	return func(yield func(Record) bool) {
		for _, id := range db.order {
			if !yield(db.arena.recs[id]) {
				return
			}
		}
	}
}

// Identities returns the number of distinct identities with at least one
// retained record.
func (db *Database) Identities() int { return len(db.byCell) }

// Import bulk-loads rows in the given order, resolving overlapping
// validity per identity with the dedup policy. Under Strict the first
// conflict aborts the import with a *DuplicateConflictError. Malformed rows
// abort the import unless WithSkipMalformed is set, in which case they are
// logged and skipped; either way a rejected row leaves no partial state.
func Import(ctx context.Context, rows []Row, policy DedupPolicy, optFns ...Option) (*Database, error) {
	return ImportFrom(ctx, RowsOf(rows), policy, optFns...)
}

// ImportFrom bulk-loads records from a Source. Reading the source and
// building the indexes are overlapped, but rows are applied strictly in
// source order: dedup decisions depend on arrival order, so the core never
// reorders the stream.
func ImportFrom(ctx context.Context, src Source, policy DedupPolicy, optFns ...Option) (*Database, error) {
	im := newImporter(policy, applyOptions(optFns))

	rowCh := make(chan Row, 256)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(rowCh)
		return src.Rows(ctx, func(row Row) error {
			select {
			case rowCh <- row:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	})
	g.Go(func() error {
		for row := range rowCh {
			if err := im.addRow(ctx, row); err != nil {
				return err
			}
		}
		return nil
	})

	err := g.Wait()
	return im.finish(ctx, err)
}

// FetchWithin builds a database of the records within limitM meters of
// center, delegating a coarse radius filter to the source when it supports
// one. The exact great-circle check and all deduplication happen in-core,
// so behavior does not depend on the backing store's filtering.
func FetchWithin(ctx context.Context, src Source, center geo.Point, limitM float64, policy DedupPolicy, optFns ...Option) (*Database, error) {
	coarse := src
	if rs, ok := src.(RadiusSource); ok {
		coarse = radiusAdapter{rs: rs, center: center, limitM: limitM}
	}
	db, err := ImportFrom(ctx, coarse, policy, optFns...)
	if err != nil {
		return nil, err
	}
	return db.Search().Within(center, limitM).Execute(ctx)
}

type radiusAdapter struct {
	rs     RadiusSource
	center geo.Point
	limitM float64
}

func (a radiusAdapter) Rows(ctx context.Context, fn func(Row) error) error {
	return a.rs.RowsWithin(ctx, a.center, a.limitM, fn)
}

// importer drives a single-threaded, order-sensitive bulk import.
type importer struct {
	db       *Database
	policy   DedupPolicy
	rowIdx   int
	skipped  int
	started  time.Time
	progress *rate.Limiter
}

func newImporter(policy DedupPolicy, opts options) *importer {
	return &importer{
		db: &Database{
			arena:  &arena{},
			live:   roaring.New(),
			byCell: make(map[cellid.Identity]*timeline.Timeline),
			opts:   opts,
		},
		policy:   policy,
		started:  time.Now(),
		progress: rate.NewLimiter(rate.Every(5*time.Second), 1),
	}
}

func (im *importer) addRow(ctx context.Context, row Row) error {
	rowIdx := im.rowIdx
	im.rowIdx++

	rec, err := recordFromRow(row)
	if err != nil {
		var malformed *MalformedRecordError
		if errors.As(err, &malformed) {
			malformed.Row = rowIdx
			if im.db.opts.skipMalformed {
				im.skipped++
				im.db.opts.logger.WarnContext(ctx, "skipping malformed row", "error", malformed)
				return nil
			}
		}
		return err
	}
	if err := im.addRecord(ctx, rowIdx, rec); err != nil {
		return err
	}

	if im.progress.Allow() {
		im.db.opts.logger.LogImportProgress(ctx, im.rowIdx, int(im.db.live.GetCardinality()), im.skipped)
	}
	return nil
}

// addRecord appends rec to the arena and resolves it against the
// identity's timeline. A rejected record leaves the database exactly as it
// was before the call.
func (im *importer) addRecord(ctx context.Context, rowIdx int, rec Record) error {
	db := im.db
	id := uint32(len(db.arena.recs))
	db.arena.recs = append(db.arena.recs, rec)
	db.live.Add(id)

	tl, ok := db.byCell[rec.Identity]
	if !ok {
		tl = &timeline.Timeline{}
		db.byCell[rec.Identity] = tl
	}

	if err := tl.Insert(importArena{db}, id, rec.Interval, im.policy); err != nil {
		// Roll back the appended record so the failed row is invisible.
		db.live.Remove(id)
		db.arena.recs = db.arena.recs[:id]

		var conflict *timeline.ConflictError
		if errors.As(err, &conflict) {
			return &DuplicateConflictError{
				Row:      rowIdx,
				Identity: rec.Identity,
				Existing: conflict.Existing,
				Incoming: conflict.Incoming,
				cause:    err,
			}
		}
		return err
	}
	return nil
}

func (im *importer) finish(ctx context.Context, err error) (*Database, error) {
	db := im.db
	took := time.Since(im.started)
	if err != nil {
		db.opts.metrics.RecordImport(im.rowIdx, 0, took, err)
		db.opts.logger.LogImport(ctx, im.rowIdx, 0, im.skipped, err)
		return nil, err
	}

	db.order = db.live.ToArray()
	db.grid = spatial.NewGrid(db.opts.gridCellSizeM, db.positionOf, db.opts.dist)
	for _, id := range db.order {
		db.grid.Add(id)
	}
	// Drop timelines that were clipped away completely: an identity with
	// zero remaining records behaves as unknown.
	for ci, tl := range db.byCell {
		if tl.Len() == 0 {
			delete(db.byCell, ci)
		}
	}

	db.opts.metrics.RecordImport(im.rowIdx, db.Len(), took, nil)
	db.opts.logger.LogImport(ctx, im.rowIdx, db.Len(), im.skipped, nil)
	return db, nil
}

func (db *Database) positionOf(id uint32) geo.Point {
	return db.arena.recs[id].Position
}

// importArena adapts the database to the timeline resolver's view of
// record storage.
type importArena struct {
	db *Database
}

func (a importArena) ClipRecord(id uint32, iv Interval) {
	a.db.arena.recs[id].Interval = iv
}

func (a importArena) SplitRecord(id uint32, iv Interval) uint32 {
	clone := a.db.arena.recs[id]
	clone.Interval = iv
	nid := uint32(len(a.db.arena.recs))
	a.db.arena.recs = append(a.db.arena.recs, clone)
	a.db.live.Add(nid)
	return nid
}

func (a importArena) DropRecord(id uint32) {
	a.db.live.Remove(id)
}

func (a importArena) SameAntenna(x, y uint32) bool {
	return sameAntenna(&a.db.arena.recs[x], &a.db.arena.recs[y])
}

// newView builds an independently owned database over a subset of the
// arena. ids must reference disjoint-per-identity records (always true for
// subsets of a deduplicated database) and determine iteration order.
func (db *Database) newView(ids []uint32) *Database {
	view := &Database{
		arena:  db.arena,
		live:   roaring.BitmapOf(ids...),
		order:  ids,
		byCell: make(map[cellid.Identity]*timeline.Timeline),
		opts:   db.opts,
	}
	for _, id := range ids {
		rec := &db.arena.recs[id]
		tl, ok := view.byCell[rec.Identity]
		if !ok {
			tl = &timeline.Timeline{}
			view.byCell[rec.Identity] = tl
		}
		tl.Append(id, rec.Interval)
	}
	view.grid = spatial.NewGrid(db.opts.gridCellSizeM, view.positionOf, db.opts.dist)
	for _, id := range ids {
		view.grid.Add(id)
	}
	return view
}
