package celldb_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	celldb "github.com/celltrace/celldb"
	"github.com/celltrace/celldb/cellid"
	"github.com/celltrace/celldb/geo"
	"github.com/celltrace/celldb/testutil"
)

var baseTime = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

func hours(n int) time.Time { return baseTime.Add(time.Duration(n) * time.Hour) }

func intp(v int) *int { return &v }

func gsmRow(ci int, start, end time.Time, lat, lon float64) celldb.Row {
	return celldb.Row{
		DateStart: start,
		DateEnd:   end,
		Radio:     "GSM",
		MCC:       204,
		MNC:       8,
		LAC:       intp(1234),
		CI:        intp(ci),
		Lat:       lat,
		Lon:       lon,
	}
}

func lteRow(eci int, start, end time.Time, lat, lon float64) celldb.Row {
	return celldb.Row{
		DateStart: start,
		DateEnd:   end,
		Radio:     "LTE",
		MCC:       204,
		MNC:       16,
		ECI:       intp(eci),
		Lat:       lat,
		Lon:       lon,
	}
}

func TestImportAndGet(t *testing.T) {
	ctx := context.Background()

	rows := []celldb.Row{
		gsmRow(5678, hours(0), hours(10), 52.0905, 5.1214),
		gsmRow(5678, hours(10), hours(20), 52.0907, 5.1216),
	}

	db, err := celldb.Import(ctx, rows, celldb.Strict)
	require.NoError(t, err)
	require.Equal(t, 2, db.Len())
	require.Equal(t, 1, db.Identities())

	id := cellid.NewGSM(204, 8, 1234, 5678)

	t.Run("interval start is inclusive", func(t *testing.T) {
		rec, ok := db.Get(id, hours(0))
		require.True(t, ok)
		assert.Equal(t, 52.0905, rec.Position.Lat)
	})

	t.Run("interval end is exclusive", func(t *testing.T) {
		rec, ok := db.Get(id, hours(10))
		require.True(t, ok)
		assert.Equal(t, 52.0907, rec.Position.Lat, "the second record owns the shared boundary")

		_, ok = db.Get(id, hours(20))
		assert.False(t, ok)
	})

	t.Run("mid interval", func(t *testing.T) {
		rec, ok := db.Get(id, hours(5))
		require.True(t, ok)
		assert.Equal(t, 52.0905, rec.Position.Lat)
	})

	t.Run("before first interval", func(t *testing.T) {
		_, ok := db.Get(id, hours(0).Add(-time.Second))
		assert.False(t, ok)
	})

	t.Run("unknown identity", func(t *testing.T) {
		_, ok := db.Get(cellid.NewGSM(204, 8, 1234, 9999), hours(5))
		assert.False(t, ok)
	})
}

func TestImportOpenEndedIntervals(t *testing.T) {
	ctx := context.Background()

	rows := []celldb.Row{
		{
			Radio: "LTE", MCC: 204, MNC: 16, ECI: intp(0x1234567),
			Lat: 52.0, Lon: 5.1,
		},
	}

	db, err := celldb.Import(ctx, rows, celldb.Strict)
	require.NoError(t, err)

	id := cellid.NewLTE(204, 16, 0x1234567)

	rec, ok := db.Get(id, hours(-1_000_000))
	require.True(t, ok, "open start covers any past moment")
	assert.True(t, rec.Interval.OpenEnded())

	_, ok = db.Get(id, hours(1_000_000))
	assert.True(t, ok, "open end covers any future moment")
}

func TestImportTakeFirst(t *testing.T) {
	ctx := context.Background()
	id := cellid.NewGSM(204, 8, 1234, 5678)

	t.Run("overlap tail is clipped", func(t *testing.T) {
		rows := []celldb.Row{
			gsmRow(5678, hours(0), hours(10), 52.0, 5.0),
			gsmRow(5678, hours(5), hours(15), 53.0, 6.0),
		}
		db, err := celldb.Import(ctx, rows, celldb.TakeFirst)
		require.NoError(t, err)
		require.Equal(t, 2, db.Len())

		rec, ok := db.Get(id, hours(7))
		require.True(t, ok)
		assert.Equal(t, 52.0, rec.Position.Lat, "existing record wins the overlap")

		rec, ok = db.Get(id, hours(12))
		require.True(t, ok)
		assert.Equal(t, 53.0, rec.Position.Lat, "incoming record keeps its uncovered remainder")
	})

	t.Run("fully covered incoming is dropped", func(t *testing.T) {
		rows := []celldb.Row{
			gsmRow(5678, hours(0), hours(10), 52.0, 5.0),
			gsmRow(5678, hours(2), hours(8), 53.0, 6.0),
		}
		db, err := celldb.Import(ctx, rows, celldb.TakeFirst)
		require.NoError(t, err)
		assert.Equal(t, 1, db.Len())
	})

	t.Run("incoming spanning gaps is split", func(t *testing.T) {
		rows := []celldb.Row{
			gsmRow(5678, hours(2), hours(4), 52.0, 5.0),
			gsmRow(5678, hours(6), hours(8), 52.1, 5.1),
			gsmRow(5678, hours(0), hours(10), 53.0, 6.0),
		}
		db, err := celldb.Import(ctx, rows, celldb.TakeFirst)
		require.NoError(t, err)
		assert.Equal(t, 5, db.Len(), "incoming covers three gaps")

		for _, h := range []int{1, 5, 9} {
			rec, ok := db.Get(id, hours(h))
			require.True(t, ok, "gap at hour %d", h)
			assert.Equal(t, 53.0, rec.Position.Lat)
		}
		for _, h := range []int{3, 7} {
			rec, ok := db.Get(id, hours(h))
			require.True(t, ok)
			assert.NotEqual(t, 53.0, rec.Position.Lat)
		}
	})

	t.Run("identical interval keeps the first", func(t *testing.T) {
		rows := []celldb.Row{
			gsmRow(5678, hours(0), hours(10), 52.0, 5.0),
			gsmRow(5678, hours(0), hours(10), 53.0, 6.0),
		}
		db, err := celldb.Import(ctx, rows, celldb.TakeFirst)
		require.NoError(t, err)
		require.Equal(t, 1, db.Len())

		rec, _ := db.Get(id, hours(5))
		assert.Equal(t, 52.0, rec.Position.Lat)
	})
}

func TestImportTakeLast(t *testing.T) {
	ctx := context.Background()
	id := cellid.NewGSM(204, 8, 1234, 5678)

	t.Run("existing tail is clipped", func(t *testing.T) {
		rows := []celldb.Row{
			gsmRow(5678, hours(0), hours(10), 52.0, 5.0),
			gsmRow(5678, hours(5), hours(15), 53.0, 6.0),
		}
		db, err := celldb.Import(ctx, rows, celldb.TakeLast)
		require.NoError(t, err)
		require.Equal(t, 2, db.Len())

		rec, ok := db.Get(id, hours(7))
		require.True(t, ok)
		assert.Equal(t, 53.0, rec.Position.Lat, "incoming record wins the overlap")

		rec, ok = db.Get(id, hours(2))
		require.True(t, ok)
		assert.Equal(t, 52.0, rec.Position.Lat)
	})

	t.Run("existing is split around the incoming", func(t *testing.T) {
		rows := []celldb.Row{
			gsmRow(5678, hours(0), hours(12), 52.0, 5.0),
			gsmRow(5678, hours(4), hours(8), 53.0, 6.0),
		}
		db, err := celldb.Import(ctx, rows, celldb.TakeLast)
		require.NoError(t, err)
		assert.Equal(t, 3, db.Len())

		for h, wantLat := range map[int]float64{2: 52.0, 6: 53.0, 10: 52.0} {
			rec, ok := db.Get(id, hours(h))
			require.True(t, ok, "hour %d", h)
			assert.Equal(t, wantLat, rec.Position.Lat, "hour %d", h)
		}
	})

	t.Run("fully covered existing is dropped", func(t *testing.T) {
		rows := []celldb.Row{
			gsmRow(5678, hours(2), hours(8), 52.0, 5.0),
			gsmRow(5678, hours(0), hours(10), 53.0, 6.0),
		}
		db, err := celldb.Import(ctx, rows, celldb.TakeLast)
		require.NoError(t, err)
		assert.Equal(t, 1, db.Len())

		rec, _ := db.Get(id, hours(5))
		assert.Equal(t, 53.0, rec.Position.Lat)
	})

	t.Run("identical interval keeps the last", func(t *testing.T) {
		rows := []celldb.Row{
			gsmRow(5678, hours(0), hours(10), 52.0, 5.0),
			gsmRow(5678, hours(0), hours(10), 53.0, 6.0),
		}
		db, err := celldb.Import(ctx, rows, celldb.TakeLast)
		require.NoError(t, err)
		require.Equal(t, 1, db.Len())

		rec, _ := db.Get(id, hours(5))
		assert.Equal(t, 53.0, rec.Position.Lat)
	})
}

func TestImportStrict(t *testing.T) {
	ctx := context.Background()

	t.Run("overlap aborts the import", func(t *testing.T) {
		rows := []celldb.Row{
			gsmRow(5678, hours(0), hours(10), 52.0, 5.0),
			gsmRow(5678, hours(5), hours(15), 53.0, 6.0),
		}
		db, err := celldb.Import(ctx, rows, celldb.Strict)
		require.Error(t, err)
		assert.Nil(t, db)

		var conflict *celldb.DuplicateConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, 1, conflict.Row)
		assert.Equal(t, cellid.NewGSM(204, 8, 1234, 5678), conflict.Identity)
	})

	t.Run("exact duplicate is a no-op", func(t *testing.T) {
		rows := []celldb.Row{
			gsmRow(5678, hours(0), hours(10), 52.0, 5.0),
			gsmRow(5678, hours(0), hours(10), 52.0, 5.0),
		}
		db, err := celldb.Import(ctx, rows, celldb.Strict)
		require.NoError(t, err)
		assert.Equal(t, 1, db.Len())
	})

	t.Run("same interval different position conflicts", func(t *testing.T) {
		rows := []celldb.Row{
			gsmRow(5678, hours(0), hours(10), 52.0, 5.0),
			gsmRow(5678, hours(0), hours(10), 52.0001, 5.0),
		}
		_, err := celldb.Import(ctx, rows, celldb.Strict)
		var conflict *celldb.DuplicateConflictError
		require.ErrorAs(t, err, &conflict)
	})

	t.Run("distinct identities never conflict", func(t *testing.T) {
		rows := []celldb.Row{
			gsmRow(5678, hours(0), hours(10), 52.0, 5.0),
			gsmRow(5679, hours(0), hours(10), 53.0, 6.0),
			lteRow(0x1234567, hours(0), hours(10), 54.0, 7.0),
		}
		db, err := celldb.Import(ctx, rows, celldb.Strict)
		require.NoError(t, err)
		assert.Equal(t, 3, db.Len())
	})
}

func TestImportMalformedRows(t *testing.T) {
	ctx := context.Background()

	bad := celldb.Row{
		Radio: "GSM", MCC: 204, MNC: 8, LAC: intp(1234), // CI missing
		Lat: 52.0, Lon: 5.0,
	}
	good := gsmRow(5678, hours(0), hours(10), 52.0, 5.0)

	t.Run("aborts by default", func(t *testing.T) {
		db, err := celldb.Import(ctx, []celldb.Row{good, bad}, celldb.Strict)
		require.Error(t, err)
		assert.Nil(t, db)

		var malformed *celldb.MalformedRecordError
		require.ErrorAs(t, err, &malformed)
		assert.Equal(t, 1, malformed.Row)
	})

	t.Run("skipped when requested", func(t *testing.T) {
		db, err := celldb.Import(ctx, []celldb.Row{good, bad}, celldb.Strict, celldb.WithSkipMalformed())
		require.NoError(t, err)
		assert.Equal(t, 1, db.Len())
	})

	t.Run("empty interval is malformed", func(t *testing.T) {
		rows := []celldb.Row{gsmRow(5678, hours(10), hours(10), 52.0, 5.0)}
		_, err := celldb.Import(ctx, rows, celldb.Strict)
		require.ErrorIs(t, err, celldb.ErrEmptyInterval)
	})

	t.Run("out of range identity is malformed", func(t *testing.T) {
		row := gsmRow(5678, hours(0), hours(10), 52.0, 5.0)
		row.MCC = 1000
		_, err := celldb.Import(ctx, []celldb.Row{row}, celldb.Strict)
		var malformed *celldb.MalformedRecordError
		require.ErrorAs(t, err, &malformed)
	})

	t.Run("invalid position is malformed", func(t *testing.T) {
		row := gsmRow(5678, hours(0), hours(10), 91.0, 5.0)
		_, err := celldb.Import(ctx, []celldb.Row{row}, celldb.Strict)
		var malformed *celldb.MalformedRecordError
		require.ErrorAs(t, err, &malformed)
	})
}

func TestRecordsIterationOrder(t *testing.T) {
	ctx := context.Background()

	rows := []celldb.Row{
		gsmRow(3, hours(0), hours(1), 52.0, 5.0),
		gsmRow(1, hours(0), hours(1), 52.1, 5.1),
		gsmRow(2, hours(0), hours(1), 52.2, 5.2),
	}
	db, err := celldb.Import(ctx, rows, celldb.Strict)
	require.NoError(t, err)

	var cis []int
	for rec := range db.Records() {
		_, ci, ok := rec.Identity.CGI()
		require.True(t, ok)
		cis = append(cis, ci)
	}
	assert.Equal(t, []int{3, 1, 2}, cis, "base databases iterate in import order")
}

type failingSource struct{ after int }

func (s failingSource) Rows(ctx context.Context, fn func(celldb.Row) error) error {
	for i := 0; i < s.after; i++ {
		if err := fn(gsmRow(100+i, hours(i), hours(i+1), 52.0, 5.0)); err != nil {
			return err
		}
	}
	return errors.New("connection reset")
}

func TestImportFromSourceError(t *testing.T) {
	db, err := celldb.ImportFrom(context.Background(), failingSource{after: 3}, celldb.Strict)
	require.EqualError(t, err, "connection reset")
	assert.Nil(t, db)
}

type recordingRadiusSource struct {
	rows   []celldb.Row
	center geo.Point
	limitM float64
	called bool
}

func (s *recordingRadiusSource) Rows(ctx context.Context, fn func(celldb.Row) error) error {
	for _, row := range s.rows {
		if err := fn(row); err != nil {
			return err
		}
	}
	return nil
}

func (s *recordingRadiusSource) RowsWithin(ctx context.Context, center geo.Point, limitM float64, fn func(celldb.Row) error) error {
	s.called = true
	s.center = center
	s.limitM = limitM
	return s.Rows(ctx, fn)
}

func TestFetchWithin(t *testing.T) {
	center := geo.Point{Lat: 52.0, Lon: 5.0}

	src := &recordingRadiusSource{rows: []celldb.Row{
		gsmRow(1, hours(0), hours(1), 52.0, 5.0),
		// ~15 km north, assume a sloppy store filter let it through.
		gsmRow(2, hours(0), hours(1), 52.135, 5.0),
	}}

	db, err := celldb.FetchWithin(context.Background(), src, center, 5000, celldb.Strict)
	require.NoError(t, err)

	assert.True(t, src.called, "coarse filter is pushed down to the source")
	assert.Equal(t, center, src.center)
	assert.Equal(t, 5000.0, src.limitM)
	assert.Equal(t, 1, db.Len(), "exact distance check runs in-core")
}

func TestImportBulkRandom(t *testing.T) {
	ctx := context.Background()
	rng := testutil.NewRNG(42)
	center := geo.Point{Lat: 52.0894, Lon: 5.1100}

	var rows []celldb.Row
	seen := make(map[cellid.Identity]bool)
	for len(rows) < 500 {
		id := rng.LTEIdentity()
		if seen[id] {
			continue
		}
		seen[id] = true

		pos := rng.PointNear(center, 10_000)
		start, end := rng.IntervalWithin(baseTime, 365*24*time.Hour)
		eci, _ := id.ECI()
		rows = append(rows, celldb.Row{
			Radio: "4G", MCC: id.MCC(), MNC: id.MNC(), ECI: intp(eci),
			DateStart: start, DateEnd: end,
			Lat: pos.Lat, Lon: pos.Lon,
		})
	}

	db, err := celldb.Import(ctx, rows, celldb.Strict)
	require.NoError(t, err)
	require.Equal(t, 500, db.Len(), "distinct identities never conflict")

	// Every imported record is findable inside its own interval.
	for _, row := range rows[:50] {
		id := cellid.NewLTE(row.MCC, row.MNC, *row.ECI)
		_, ok := db.Get(id, row.DateStart)
		assert.True(t, ok, "record of %s missing at its own start", id)
	}

	// The radius query over everything returns everything, ordered.
	all, err := db.Search().Within(center, 20_000).Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, 500, all.Len())
	prev := -1.0
	for rec := range all.Records() {
		d := geo.Haversine(center, rec.Position)
		assert.GreaterOrEqual(t, d, prev, "results must be distance ordered")
		prev = d
	}
}

func TestBasicMetricsCollector(t *testing.T) {
	ctx := context.Background()
	metrics := &celldb.BasicMetricsCollector{}

	rows := []celldb.Row{gsmRow(5678, hours(0), hours(10), 52.0, 5.0)}
	db, err := celldb.Import(ctx, rows, celldb.Strict, celldb.WithMetricsCollector(metrics))
	require.NoError(t, err)

	db.Get(cellid.NewGSM(204, 8, 1234, 5678), hours(5))
	db.Get(cellid.NewGSM(204, 8, 1234, 5678), hours(15))

	stats := metrics.GetStats()
	assert.Equal(t, int64(1), stats.ImportCount)
	assert.Equal(t, int64(1), stats.ImportRetained)
	assert.Equal(t, int64(2), stats.GetCount)
	assert.Equal(t, int64(1), stats.GetMisses)
}
