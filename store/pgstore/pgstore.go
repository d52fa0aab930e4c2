// Package pgstore backs the cell database with PostgreSQL + PostGIS. It
// implements celldb.Source and celldb.RadiusSource, so antenna data can be
// kept in a shared relational store and pulled into an embedded database
// per investigation, optionally pre-filtered by radius on the server.
package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	celldb "github.com/celltrace/celldb"
	"github.com/celltrace/celldb/geo"
)

const defaultTable = "antenna"

// Store reads and writes antenna rows in a PostGIS-enabled PostgreSQL
// database. Safe for concurrent use; it is a thin wrapper over *sql.DB.
type Store struct {
	db    *sql.DB
	table string
}

// Option configures a Store.
type Option func(*Store)

// WithTable overrides the table name (default "antenna").
func WithTable(name string) Option {
	return func(s *Store) { s.table = name }
}

// Open connects to PostgreSQL with a lib/pq DSN and verifies the
// connection. Connection failures are reported as
// celldb.ErrStoreUnavailable.
func Open(ctx context.Context, dsn string, optFns ...Option) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", celldb.ErrStoreUnavailable, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %w", celldb.ErrStoreUnavailable, err)
	}
	return New(db, optFns...), nil
}

// New wraps an existing connection pool. The caller keeps ownership of db
// unless Close is used.
func New(db *sql.DB, optFns ...Option) *Store {
	s := &Store{db: db, table: defaultTable}
	for _, fn := range optFns {
		fn(s)
	}
	return s
}

// Close closes the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// EnsureSchema creates the antenna table and its indexes if they do not
// exist. The position is stored as a geography point so distance filters
// work in meters on WGS84 coordinates.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS postgis`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			date_start TIMESTAMPTZ,
			date_end TIMESTAMPTZ,
			radio TEXT NOT NULL,
			mcc INT NOT NULL,
			mnc INT NOT NULL,
			lac INT,
			ci INT,
			eci BIGINT,
			pos GEOGRAPHY(POINT, 4326) NOT NULL,
			azimuth REAL,
			extra JSONB
		)`, pq.QuoteIdentifier(s.table)),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING GIST (pos)`,
			pq.QuoteIdentifier(s.table+"_pos_idx"), pq.QuoteIdentifier(s.table)),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (radio, mcc, mnc, lac, ci, eci)`,
			pq.QuoteIdentifier(s.table+"_cell_idx"), pq.QuoteIdentifier(s.table)),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: create schema: %w", celldb.ErrStoreUnavailable, err)
		}
	}
	return nil
}

// Append bulk-inserts rows with the COPY protocol. Rows are stored as
// given; validation and deduplication happen when a celldb.Database is
// built from the store.
func (s *Store) Append(ctx context.Context, rows []celldb.Row) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", celldb.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn(s.table,
		"date_start", "date_end", "radio", "mcc", "mnc",
		"lac", "ci", "eci", "pos", "azimuth", "extra"))
	if err != nil {
		return fmt.Errorf("%w: %w", celldb.ErrStoreUnavailable, err)
	}

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
			nullTime(row.DateStart), nullTime(row.DateEnd),
			row.Radio, row.MCC, row.MNC,
			nullInt(row.LAC), nullInt(row.CI), nullInt(row.ECI),
			ewkt(row.Lat, row.Lon), nullFloat(row.Azimuth), extra)
		if err != nil {
			return fmt.Errorf("%w: copy row %d: %w", celldb.ErrStoreUnavailable, i, err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		return fmt.Errorf("%w: flush copy: %w", celldb.ErrStoreUnavailable, err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("%w: %w", celldb.ErrStoreUnavailable, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %w", celldb.ErrStoreUnavailable, err)
	}
	return nil
}

const selectColumns = `date_start, date_end, radio, mcc, mnc, lac, ci, eci,
	ST_Y(pos::geometry), ST_X(pos::geometry), azimuth, extra`

// Rows streams every stored row in insertion order, implementing
// celldb.Source.
func (s *Store) Rows(ctx context.Context, fn func(celldb.Row) error) error {
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY id`,
		selectColumns, pq.QuoteIdentifier(s.table))
	return s.stream(ctx, fn, query)
}

// RowsWithin streams the rows within limitM meters of center in insertion
// order, implementing celldb.RadiusSource. The filter runs server-side
// with ST_DWithin on the geography column.
func (s *Store) RowsWithin(ctx context.Context, center geo.Point, limitM float64, fn func(celldb.Row) error) error {
	query := fmt.Sprintf(`SELECT %s FROM %s
		WHERE ST_DWithin(pos, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, $3)
		ORDER BY id`,
		selectColumns, pq.QuoteIdentifier(s.table))
	return s.stream(ctx, fn, query, center.Lon, center.Lat, limitM)
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
			start, end sql.NullTime
			lac, ci    sql.NullInt64
			eci        sql.NullInt64
			azimuth    sql.NullFloat64
			extra      []byte
		)
		err := rows.Scan(&start, &end, &row.Radio, &row.MCC, &row.MNC,
			&lac, &ci, &eci, &row.Lat, &row.Lon, &azimuth, &extra)
		if err != nil {
			return fmt.Errorf("%w: %w", celldb.ErrStoreUnavailable, err)
		}
		if start.Valid {
			row.DateStart = start.Time
		}
		if end.Valid {
			row.DateEnd = end.Time
		}
		row.LAC = intPtr(lac)
		row.CI = intPtr(ci)
		row.ECI = intPtr(eci)
		if azimuth.Valid {
			deg := azimuth.Float64
			row.Azimuth = &deg
		}
		if len(extra) > 0 {
			if err := json.Unmarshal(extra, &row.Extra); err != nil {
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

// ewkt renders a WGS84 point literal PostGIS accepts on a geography column.
func ewkt(lat, lon float64) string {
	return fmt.Sprintf("SRID=4326;POINT(%g %g)", lon, lat)
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
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
