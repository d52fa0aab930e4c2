// Package spatial provides the geographic index of the cell database: a
// latitude/longitude grid with roaring-bitmap postings per cell, answering
// radius queries with an exact great-circle distance check after a coarse
// grid scan.
package spatial

import (
	"math"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/celltrace/celldb/geo"
)

// DefaultCellSizeM is the grid cell edge used when none is configured.
// Cell-tower radius queries are typically in the 100 m - 30 km range, so a
// 2 km cell keeps candidate sets small without exploding the cell count.
const DefaultCellSizeM = 2000

const metersPerDegreeLat = 2 * math.Pi * geo.EarthRadiusM / 360

type cellKey struct {
	lat int32
	lon int32
}

// Match is one record returned from a radius query.
type Match struct {
	ID       uint32
	Distance float64 // meters from the query center
}

// Grid buckets record positions into fixed-size latitude/longitude cells.
// Positions are resolved through a lookup function so the grid never copies
// record data; the owner guarantees lookups stay valid for the lifetime of
// the grid.
//
// A Grid is built once and then read-only: Add during concurrent Within
// calls is not supported.
type Grid struct {
	cellDeg float64
	lonCols int32 // number of longitude columns, for wraparound
	cells   map[cellKey]*roaring.Bitmap
	at      func(id uint32) geo.Point
	dist    geo.DistanceFunc
}

// NewGrid creates a grid with the given cell edge length in meters. at maps
// a record id to its position; dist is the geodesic distance used for the
// exact check (nil means haversine).
func NewGrid(cellSizeM float64, at func(id uint32) geo.Point, dist geo.DistanceFunc) *Grid {
	if cellSizeM <= 0 {
		cellSizeM = DefaultCellSizeM
	}
	if dist == nil {
		dist = geo.Haversine
	}
	cellDeg := cellSizeM / metersPerDegreeLat
	return &Grid{
		cellDeg: cellDeg,
		lonCols: int32(math.Ceil(360 / cellDeg)),
		cells:   make(map[cellKey]*roaring.Bitmap),
		at:      at,
		dist:    dist,
	}
}

// Add indexes record id at its current position.
func (g *Grid) Add(id uint32) {
	k := g.key(g.at(id))
	bm, ok := g.cells[k]
	if !ok {
		bm = roaring.New()
		g.cells[k] = bm
	}
	bm.Add(id)
}

// Len returns the number of indexed records.
func (g *Grid) Len() int {
	n := uint64(0)
	for _, bm := range g.cells {
		n += bm.GetCardinality()
	}
	return int(n)
}

// Within returns every indexed record within limitM meters of center,
// ordered by ascending distance (ties by id). The limit is inclusive: a
// record at exactly limitM is returned. When lowerM > 0, records at
// distance <= lowerM are excluded, mirroring an annulus query.
func (g *Grid) Within(center geo.Point, limitM, lowerM float64) []Match {
	if limitM < 0 {
		return nil
	}

	minLat, maxLat, minLon, maxLon := geo.BoundingBox(center, limitM)
	latLo := g.latIdx(minLat)
	latHi := g.latIdx(maxLat)
	lonLo := int32(math.Floor(minLon / g.cellDeg))
	lonHi := int32(math.Floor(maxLon / g.cellDeg))
	// A box covering the whole longitude circle ([-180,180] spans one more
	// column than the grid has) must visit each column exactly once, or
	// wrapped columns would be scanned twice.
	if lonHi-lonLo+1 >= g.lonCols {
		lonLo, lonHi = 0, g.lonCols-1
	}

	var out []Match
	for lat := latLo; lat <= latHi; lat++ {
		for lon := lonLo; lon <= lonHi; lon++ {
			bm, ok := g.cells[cellKey{lat: lat, lon: g.wrapLon(lon)}]
			if !ok {
				continue
			}
			it := bm.Iterator()
			for it.HasNext() {
				id := it.Next()
				d := g.dist(center, g.at(id))
				if d > limitM {
					continue
				}
				if lowerM > 0 && d <= lowerM {
					continue
				}
				out = append(out, Match{ID: id, Distance: d})
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (g *Grid) key(p geo.Point) cellKey {
	return cellKey{
		lat: g.latIdx(p.Lat),
		lon: g.wrapLon(int32(math.Floor(p.Lon / g.cellDeg))),
	}
}

func (g *Grid) latIdx(lat float64) int32 {
	return int32(math.Floor(lat / g.cellDeg))
}

// wrapLon folds a longitude column index into [0, lonCols) so queries
// crossing the antimeridian hit the right cells.
func (g *Grid) wrapLon(col int32) int32 {
	col %= g.lonCols
	if col < 0 {
		col += g.lonCols
	}
	return col
}
