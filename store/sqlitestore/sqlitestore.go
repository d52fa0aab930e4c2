// Package sqlitestore backs the cell database with a single SQLite file,
// the easy choice for local tooling and tests. It implements celldb.Source
// and celldb.RadiusSource. SQLite has no geography type, so the radius
// filter is a latitude/longitude bounding box; the exact distance check
// happens in-core when the database is built.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	celldb "github.com/celltrace/celldb"
	"github.com/celltrace/celldb/geo"
)

// Store reads and writes antenna rows in a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database at path. Use ":memory:" for an
// ephemeral store.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", celldb.ErrStoreUnavailable, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %w", celldb.ErrStoreUnavailable, err)
	}
	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS antenna (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			date_start TEXT,
			date_end TEXT,
			radio TEXT NOT NULL,
			mcc INTEGER NOT NULL,
			mnc INTEGER NOT NULL,
			lac INTEGER,
			ci INTEGER,
			eci INTEGER,
			lat REAL NOT NULL,
			lon REAL NOT NULL,
			azimuth REAL,
			extra TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS antenna_pos_idx ON antenna (lat, lon)`,
		`CREATE INDEX IF NOT EXISTS antenna_cell_idx ON antenna (radio, mcc, mnc, lac, ci, eci)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: create schema: %w", celldb.ErrStoreUnavailable, err)
		}
	}
	return nil
}

// Append inserts rows in one transaction, preserving their order.
func (s *Store) Append(ctx context.Context, rows []celldb.Row) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", celldb.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO antenna
		(date_start, date_end, radio, mcc, mnc, lac, ci, eci, lat, lon, azimuth, extra)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("%w: %w", celldb.ErrStoreUnavailable, err)
	}
	defer stmt.Close()

	for i, row := range rows {
		var extra any
		if len(row.Extra) > 0 {
			data, err := json.Marshal(row.Extra)
			if err != nil {
				return fmt.Errorf("row %d: encode extra: %w", i, err)
			}
			extra = string(data)
		}
		_, err = stmt.ExecContext(ctx,
			timeText(row.DateStart), timeText(row.DateEnd),
			row.Radio, row.MCC, row.MNC,
			nullInt(row.LAC), nullInt(row.CI), nullInt(row.ECI),
			row.Lat, row.Lon, nullFloat(row.Azimuth), extra)
		if err != nil {
			return fmt.Errorf("%w: insert row %d: %w", celldb.ErrStoreUnavailable, i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %w", celldb.ErrStoreUnavailable, err)
	}
	return nil
}

const selectColumns = `date_start, date_end, radio, mcc, mnc, lac, ci, eci, lat, lon, azimuth, extra`

// Rows streams every stored row in insertion order, implementing
// celldb.Source.
func (s *Store) Rows(ctx context.Context, fn func(celldb.Row) error) error {
	return s.stream(ctx, fn, `SELECT `+selectColumns+` FROM antenna ORDER BY id`)
}

// RowsWithin streams the rows inside the bounding box of the query circle,
// implementing celldb.RadiusSource. The box may include corner points
// slightly beyond limitM; callers building a database via
// celldb.FetchWithin get the exact circle.
func (s *Store) RowsWithin(ctx context.Context, center geo.Point, limitM float64, fn func(celldb.Row) error) error {
	minLat, maxLat, minLon, maxLon := geo.BoundingBox(center, limitM)

	lonCond := `lon BETWEEN ? AND ?`
	lonArgs := []any{minLon, maxLon}
	if minLon < -180 || maxLon > 180 {
		// The box wraps the antimeridian: the longitude range splits in two.
		lonCond = `(lon >= ? OR lon <= ?)`
		lonArgs = []any{wrapLon(minLon), wrapLon(maxLon)}
	}

	query := `SELECT ` + selectColumns + ` FROM antenna
		WHERE lat BETWEEN ? AND ? AND ` + lonCond + ` ORDER BY id`
	args := append([]any{minLat, maxLat}, lonArgs...)
	return s.stream(ctx, fn, query, args...)
}

func (s *Store) stream(ctx context.Context, fn func(celldb.Row) error, query string, args ...any) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: %w", celldb.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			row        celldb.Row
			start, end sql.NullString
			lac, ci    sql.NullInt64
			eci        sql.NullInt64
			azimuth    sql.NullFloat64
			extra      sql.NullString
		)
		err := rows.Scan(&start, &end, &row.Radio, &row.MCC, &row.MNC,
			&lac, &ci, &eci, &row.Lat, &row.Lon, &azimuth, &extra)
		if err != nil {
			return fmt.Errorf("%w: %w", celldb.ErrStoreUnavailable, err)
		}
		if row.DateStart, err = textTime(start); err != nil {
			return err
		}
		if row.DateEnd, err = textTime(end); err != nil {
			return err
		}
		row.LAC = intPtr(lac)
		row.CI = intPtr(ci)
		row.ECI = intPtr(eci)
		if azimuth.Valid {
			deg := azimuth.Float64
			row.Azimuth = &deg
		}
		if extra.Valid && extra.String != "" {
			if err := json.Unmarshal([]byte(extra.String), &row.Extra); err != nil {
				return fmt.Errorf("decode extra: %w", err)
			}
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: %w", celldb.ErrStoreUnavailable, err)
	}
	return nil
}

func wrapLon(lon float64) float64 {
	switch {
	case lon < -180:
		return lon + 360
	case lon > 180:
		return lon - 360
	default:
		return lon
	}
}

// Dates are stored as RFC3339 text so the file stays readable with the
// sqlite3 shell.
func timeText(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func textTime(v sql.NullString) (time.Time, error) {
	if !v.Valid || v.String == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad stored time %q: %w", v.String, err)
	}
	return t, nil
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func nullInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullFloat(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}
