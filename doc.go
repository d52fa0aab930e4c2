// Package celldb is an embedded temporal-spatial database of cell tower
// antenna records, built for reconstructing which antenna served a device
// at a given moment.
//
// Records key antenna data (position, azimuth) to a cell identity and a
// half-open validity interval. Identities follow the operator numbering
// plans: GSM and UMTS cells are addressed by mcc-mnc-lac-ci, LTE and NR
// cells by mcc-mnc-eci. The same identity may appear many times with
// disjoint intervals as the physical antenna moves or is re-tuned; imports
// resolve overlapping claims with a configurable duplicate policy.
//
// Quick start:
//
//	rows, err := csvio.ReadFile("towers.csv")
//	if err != nil { ... }
//
//	db, err := celldb.Import(ctx, rows, celldb.TakeLast,
//		celldb.WithLogger(celldb.NewTextLogger(slog.LevelInfo)),
//	)
//	if err != nil { ... }
//
//	// Which antenna was cell GSM/204-8-1234-5678 at this moment?
//	id, _ := cellid.Parse("GSM/204-8-1234-5678")
//	rec, ok := db.Get(id, when)
//
//	// All LTE antennas within 1500 m of a point of interest.
//	near, err := db.Search().
//		Radio(cellid.LTE).
//		Within(geo.Point{Lat: 52.09, Lon: 5.12}, 1500).
//		Execute(ctx)
//
// Search results are databases themselves and can be narrowed further,
// queried with Get, or written out with WriteSnapshot. Databases are
// immutable after import and safe for concurrent reads.
package celldb
