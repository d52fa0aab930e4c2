// Command celldb is the maintenance tool for cell tower antenna data: it
// moves records between CSV files, relational stores and snapshot files,
// and answers point-in-time lookups from the command line.
//
// Stores are selected with -sqlite PATH or -pg DSN; the PG_DSN environment
// variable (optionally from a .env file) is the fallback for -pg.
//
//	celldb import -csv towers.csv -sqlite cells.db
//	celldb export -sqlite cells.db -csv out.csv
//	celldb snapshot -sqlite cells.db -out cells.snap -compression zstd
//	celldb get -snapshot cells.snap -cell GSM/204-8-1234-5678 -at 2023-06-15T12:00:00Z
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	celldb "github.com/celltrace/celldb"
	"github.com/celltrace/celldb/cellid"
	"github.com/celltrace/celldb/csvio"
	"github.com/celltrace/celldb/store/pgstore"
	"github.com/celltrace/celldb/store/sqlitestore"
)

func main() {
	// A missing .env is fine; explicit environment always wins.
	_ = godotenv.Load()

	logger := celldb.NewTextLogger(slog.LevelInfo)

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx := context.Background()
	var err error
	switch os.Args[1] {
	case "import":
		err = runImport(ctx, logger, os.Args[2:])
	case "export":
		err = runExport(ctx, logger, os.Args[2:])
	case "snapshot":
		err = runSnapshot(ctx, logger, os.Args[2:])
	case "get":
		err = runGet(ctx, logger, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Error(os.Args[1] + " failed: " + err.Error())
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: celldb <import|export|snapshot|get> [flags]")
}

// storeFlags holds the backend selection shared by all subcommands.
type storeFlags struct {
	sqlite string
	pg     string
}

func (f *storeFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.sqlite, "sqlite", "", "path of a SQLite store")
	fs.StringVar(&f.pg, "pg", os.Getenv("PG_DSN"), "PostgreSQL DSN (default $PG_DSN)")
}

// open returns the selected store as a row source/sink. The returned
// appender is nil for source-only use.
func (f *storeFlags) open(ctx context.Context) (src interface {
	Rows(context.Context, func(celldb.Row) error) error
}, appendFn func(context.Context, []celldb.Row) error, closeFn func() error, err error) {
	switch {
	case f.sqlite != "" && f.pg != "":
		return nil, nil, nil, fmt.Errorf("-sqlite and -pg are mutually exclusive")
	case f.sqlite != "":
		s, err := sqlitestore.Open(ctx, f.sqlite)
		if err != nil {
			return nil, nil, nil, err
		}
		return s, s.Append, s.Close, nil
	case f.pg != "":
		s, err := pgstore.Open(ctx, f.pg)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			s.Close()
			return nil, nil, nil, err
		}
		return s, s.Append, s.Close, nil
	default:
		return nil, nil, nil, fmt.Errorf("select a store with -sqlite or -pg")
	}
}

func runImport(ctx context.Context, logger *celldb.Logger, args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	var stores storeFlags
	stores.register(fs)
	csvPath := fs.String("csv", "", "CSV file to import")
	policy := fs.String("policy", "strict", "duplicate policy: take_first, take_last or strict")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *csvPath == "" {
		return fmt.Errorf("-csv is required")
	}
	// Validate the policy name even though the store keeps raw rows: the
	// same name is used again when a database is built from the store.
	if _, err := celldb.ParsePolicy(*policy); err != nil {
		return err
	}

	rows, err := csvio.ReadFile(*csvPath)
	if err != nil {
		return err
	}

	_, appendFn, closeFn, err := stores.open(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := appendFn(ctx, rows); err != nil {
		return err
	}
	logger.InfoContext(ctx, "import done", "rows", len(rows))
	return nil
}

func runExport(ctx context.Context, logger *celldb.Logger, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	var stores storeFlags
	stores.register(fs)
	csvPath := fs.String("csv", "", "CSV file to write")
	policy := fs.String("policy", "take_last", "duplicate policy applied while building the database")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *csvPath == "" {
		return fmt.Errorf("-csv is required")
	}
	pol, err := celldb.ParsePolicy(*policy)
	if err != nil {
		return err
	}

	src, _, closeFn, err := stores.open(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	db, err := celldb.ImportFrom(ctx, src, pol, celldb.WithLogger(logger), celldb.WithSkipMalformed())
	if err != nil {
		return err
	}

	f, err := os.Create(*csvPath)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := csvio.Write(f, db); err != nil {
		return err
	}
	logger.InfoContext(ctx, "export done", "records", db.Len(), "path", *csvPath)
	return f.Close()
}

func runSnapshot(ctx context.Context, logger *celldb.Logger, args []string) error {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	var stores storeFlags
	stores.register(fs)
	out := fs.String("out", "", "snapshot file to write")
	policy := fs.String("policy", "take_last", "duplicate policy applied while building the database")
	compression := fs.String("compression", "zstd", "payload compression: none, zstd or lz4")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *out == "" {
		return fmt.Errorf("-out is required")
	}
	pol, err := celldb.ParsePolicy(*policy)
	if err != nil {
		return err
	}
	comp, err := parseCompression(*compression)
	if err != nil {
		return err
	}

	src, _, closeFn, err := stores.open(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	db, err := celldb.ImportFrom(ctx, src, pol, celldb.WithLogger(logger), celldb.WithSkipMalformed())
	if err != nil {
		return err
	}

	f, err := os.Create(*out)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := db.WriteSnapshot(ctx, f, comp); err != nil {
		return err
	}
	return f.Close()
}

func runGet(ctx context.Context, logger *celldb.Logger, args []string) error {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	snap := fs.String("snapshot", "", "snapshot file to query")
	cell := fs.String("cell", "", "cell identity, e.g. GSM/204-8-1234-5678 or LTE/204-16-19082345")
	at := fs.String("at", "", "point in time, RFC3339 (default now)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *snap == "" || *cell == "" {
		return fmt.Errorf("-snapshot and -cell are required")
	}

	id, err := cellid.Parse(*cell)
	if err != nil {
		return err
	}
	ts := time.Now()
	if *at != "" {
		if ts, err = time.Parse(time.RFC3339, *at); err != nil {
			return err
		}
	}

	f, err := os.Open(*snap)
	if err != nil {
		return err
	}
	defer f.Close()

	db, err := celldb.ReadSnapshot(ctx, f, celldb.WithLogger(logger))
	if err != nil {
		return err
	}

	rec, ok := db.Get(id, ts)
	if !ok {
		return fmt.Errorf("no record of %s at %s", id, ts.Format(time.RFC3339))
	}
	fmt.Printf("%s\t%s\t%s", rec.Identity, rec.Position, rec.Interval)
	if rec.Azimuth != nil {
		fmt.Printf("\tazimuth %s", rec.Azimuth)
	}
	fmt.Println()
	return nil
}

func parseCompression(name string) (celldb.Compression, error) {
	switch name {
	case "none":
		return celldb.CompressionNone, nil
	case "zstd":
		return celldb.CompressionZstd, nil
	case "lz4":
		return celldb.CompressionLZ4, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", name)
	}
}
