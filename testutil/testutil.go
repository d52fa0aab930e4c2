// Package testutil provides deterministic generators for cell database
// tests and benchmarks.
package testutil

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/celltrace/celldb/cellid"
	"github.com/celltrace/celldb/geo"
)

// RNG is a seeded, thread-safe random number generator.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Float64 returns a pseudo-random number in [0.0,1.0).
func (r *RNG) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float64()
}

// GSMIdentity returns a pseudo-random valid GSM identity.
func (r *RNG) GSMIdentity() cellid.Identity {
	return cellid.NewGSM(1+r.Intn(999), 1+r.Intn(99), 1+r.Intn(math.MaxUint16), 1+r.Intn(math.MaxUint16))
}

// LTEIdentity returns a pseudo-random valid LTE identity.
func (r *RNG) LTEIdentity() cellid.Identity {
	return cellid.NewLTE(1+r.Intn(999), 1+r.Intn(99), 0x100+r.Intn(0xFFFFFFF-0x100))
}

// PointNear returns a pseudo-random point within roughly radiusM meters of
// center. The offset is uniform per axis, not uniform over the disc; tests
// that care about exact distances should place points explicitly.
func (r *RNG) PointNear(center geo.Point, radiusM float64) geo.Point {
	dLat := radiusM / 111320.0
	dLon := dLat / math.Cos(center.Lat*math.Pi/180)
	return geo.Point{
		Lat: center.Lat + (r.Float64()*2-1)*dLat,
		Lon: center.Lon + (r.Float64()*2-1)*dLon,
	}
}

// IntervalWithin returns a pseudo-random non-empty interval inside
// [from, from+span).
func (r *RNG) IntervalWithin(from time.Time, span time.Duration) (time.Time, time.Time) {
	a := time.Duration(r.Intn(int(span)))
	b := time.Duration(r.Intn(int(span)))
	if a > b {
		a, b = b, a
	}
	if a == b {
		b += time.Second
	}
	return from.Add(a), from.Add(b)
}
