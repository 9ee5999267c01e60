// Package traffic is the live traffic-state aggregator of the simulator.
//
// A GlobalView ingests floating car data records keyed by road segment,
// tracks which segments changed since the last drain, and answers two
// queries incrementally: the aggregate speed of a segment (fed back into
// routing) and the level of service ahead of a vehicle (used to decide
// whether the vehicle can advance). Nothing here re-scans the whole network
// on a tick; only dirty segments are recomputed.
package traffic

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/traffic.report/internal/fcd"
)

// Segment is the read-only view of a road segment the aggregator consumes.
// The segment/graph model itself lives with the simulation driver.
type Segment interface {
	ID() int64
	LengthM() float64
	Lanes() int
}

// SpeedEstimate is the aggregate speed for one segment. Valid is false when
// the segment has no observations, which is distinct from a measured speed
// of zero.
type SpeedEstimate struct {
	SpeedKph float64
	Valid    bool
}

// GlobalView indexes FCD observations by segment and tracks modified
// segments between drains.
//
// A GlobalView is not safe for concurrent use. The simulation loop owns it
// and calls Add, the level-of-service queries, TakeSegmentSpeeds and
// DropOld strictly in sequence; a parallel simulation must shard by segment
// or serialise access with its own lock.
type GlobalView struct {
	classes fcd.ClassTable

	fcdBySegment map[int64][]fcd.Record

	// vehicleSegment and dirty track which segments have been modified
	// since the last call to TakeSegmentSpeeds, so only those segments
	// get their speeds recomputed.
	vehicleSegment map[int]int64 // vehicle id -> last segment observed
	dirty          map[int64]struct{}
}

// NewGlobalView creates an empty view using the given vehicle class table.
// The table must contain the "car" fallback entry; a table without it
// cannot resolve unknown vehicle types and is rejected with a panic.
func NewGlobalView(classes fcd.ClassTable) *GlobalView {
	if !classes.Validate() {
		panic("traffic: vehicle class table is missing the \"car\" fallback entry")
	}
	return &GlobalView{
		classes:        classes,
		fcdBySegment:   make(map[int64][]fcd.Record),
		vehicleSegment: make(map[int]int64),
		dirty:          make(map[int64]struct{}),
	}
}

// Add ingests one FCD record: the record is appended to its segment's
// history and the segment is marked dirty. If the vehicle was previously
// observed on a different segment, that segment is marked dirty too — its
// speed and level of service may change now that the vehicle has left it.
//
// Repeated observations for the same vehicle within a tick are all
// retained; consumers dedup by recency (SegmentSpeed) or storage order
// (load-ahead).
func (g *GlobalView) Add(rec fcd.Record) {
	g.fcdBySegment[rec.SegmentID] = append(g.fcdBySegment[rec.SegmentID], rec)
	g.dirty[rec.SegmentID] = struct{}{}
	old, seen := g.vehicleSegment[rec.VehicleID]
	if seen {
		if old != rec.SegmentID {
			g.dirty[old] = struct{}{}
			g.vehicleSegment[rec.VehicleID] = rec.SegmentID
		}
	} else {
		g.vehicleSegment[rec.VehicleID] = rec.SegmentID
	}
}

// SegmentSpeed returns the representative speed for a segment: the mean of
// each vehicle's most recent observed speed there. ok is false when the
// segment has no observations.
func (g *GlobalView) SegmentSpeed(segmentID int64) (speedKph float64, ok bool) {
	recs := g.fcdBySegment[segmentID]
	if len(recs) == 0 {
		return 0, false
	}

	// Sort a snapshot, never the stored history.
	snapshot := make([]fcd.Record, len(recs))
	copy(snapshot, recs)
	sort.SliceStable(snapshot, func(i, j int) bool {
		return snapshot[i].Datetime.Before(snapshot[j].Datetime)
	})

	latest := make(map[int]float64, len(snapshot))
	for _, rec := range snapshot {
		latest[rec.VehicleID] = rec.SpeedKph
	}
	speeds := make([]float64, 0, len(latest))
	for _, s := range latest {
		speeds = append(speeds, s)
	}
	return stat.Mean(speeds, nil), true
}

// TakeSegmentSpeeds returns every segment modified since the previous call,
// mapped to its current aggregate speed, then clears the modified set. This
// is the only operation that clears the set. All aggregates are computed
// before the set is cleared, so a failure partway through cannot silently
// drop changes.
func (g *GlobalView) TakeSegmentSpeeds() map[int64]SpeedEstimate {
	speeds := make(map[int64]SpeedEstimate, len(g.dirty))
	for segmentID := range g.dirty {
		kph, ok := g.SegmentSpeed(segmentID)
		speeds[segmentID] = SpeedEstimate{SpeedKph: kph, Valid: ok}
	}
	g.dirty = make(map[int64]struct{})
	return speeds
}

// DropOld removes every observation strictly older than threshold,
// preserving the relative order of survivors. Segments whose observation
// count changed are marked dirty: their latest-per-vehicle speeds may shift
// even without new arrivals.
func (g *GlobalView) DropOld(threshold time.Time) {
	for segmentID, recs := range g.fcdBySegment {
		kept := recs[:0]
		for _, rec := range recs {
			if !rec.Datetime.Before(threshold) {
				kept = append(kept, rec)
			}
		}
		if len(kept) != len(recs) {
			g.fcdBySegment[segmentID] = kept
			g.dirty[segmentID] = struct{}{}
		}
	}
}
