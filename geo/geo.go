// Package geo provides the small slice of WGS84 geometry the cell database
// needs: points, azimuth angles, great-circle distances and bounding boxes.
package geo

import (
	"fmt"
	"math"
)

// EarthRadiusM is the mean earth radius in meters (IUGG), used by the
// haversine distance.
const EarthRadiusM = 6371008.8

const metersPerDegreeLat = 2 * math.Pi * EarthRadiusM / 360

// Point is a WGS84 coordinate in degrees.
type Point struct {
	Lat float64
	Lon float64
}

// String formats the point as "lat,lon" with enough digits for meter-level
// precision.
func (p Point) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lon)
}

// Valid reports whether the point lies within the WGS84 coordinate domain
// and both components are finite.
func (p Point) Valid() bool {
	return !math.IsNaN(p.Lat) && !math.IsInf(p.Lat, 0) &&
		!math.IsNaN(p.Lon) && !math.IsInf(p.Lon, 0) &&
		p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// DistanceFunc computes the distance in meters between two WGS84 points.
// It is the swap point for the geodesic formula: every index and query in
// this module calls through a DistanceFunc so the formula is consistent
// across calls.
type DistanceFunc func(a, b Point) float64

// Haversine returns the great-circle distance between a and b in meters on
// a spherical earth. The spherical approximation is accurate to roughly
// 0.5% of the true geodesic distance, far better than needed for
// kilometer-scale antenna queries.
func Haversine(a, b Point) float64 {
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLat := radians(b.Lat - a.Lat)
	dLon := radians(b.Lon - a.Lon)

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon
	return 2 * EarthRadiusM * math.Asin(math.Min(1, math.Sqrt(h)))
}

// BoundingBox returns a latitude/longitude box guaranteed to contain every
// point within radiusM meters of center. The box is a coarse filter: grid
// and SQL range scans use it to prune candidates before the exact distance
// check. Near the poles the longitude span degenerates to the full circle.
func BoundingBox(center Point, radiusM float64) (minLat, maxLat, minLon, maxLon float64) {
	dLat := radiusM / metersPerDegreeLat
	minLat = center.Lat - dLat
	maxLat = center.Lat + dLat

	cos := math.Cos(radians(center.Lat))
	if cos < 1e-6 {
		return minLat, maxLat, -180, 180
	}
	dLon := radiusM / (metersPerDegreeLat * cos)
	if dLon >= 180 {
		return minLat, maxLat, -180, 180
	}
	return minLat, maxLat, center.Lon - dLon, center.Lon + dLon
}

// Angle is a direction in degrees from geographic north, used for antenna
// azimuths. Values are normalized to [0, 360).
type Angle float64

// NewAngle normalizes deg into [0, 360).
func NewAngle(deg float64) Angle {
	d := math.Mod(deg, 360)
	if d < 0 {
		d += 360
	}
	return Angle(d)
}

// Degrees returns the angle in degrees.
func (a Angle) Degrees() float64 { return float64(a) }

// Radians returns the angle in radians.
func (a Angle) Radians() float64 { return radians(float64(a)) }

// String formats the angle as e.g. "135°".
func (a Angle) String() string { return fmt.Sprintf("%g°", float64(a)) }

func radians(deg float64) float64 { return deg * math.Pi / 180 }
