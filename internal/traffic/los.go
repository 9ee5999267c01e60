package traffic

import (
	"fmt"
	"time"

	"github.com/banshee-data/traffic.report/internal/fcd"
	"github.com/banshee-data/traffic.report/internal/monitoring"
	"github.com/banshee-data/traffic.report/internal/units"
)

// NoVehicle requests a level-of-service query with no reference vehicle:
// every observation on the segment counts as load ahead.
const NoVehicle = -1

// LevelOfService is the congestion score for a point on a segment. When
// Jammed is false, Score is in [0,1] with 1.0 free flow and 0.0 at
// capacity. When Jammed is true the point is saturated and Score carries no
// meaning; Jammed must be checked before Score is used.
type LevelOfService struct {
	Score  float64
	Jammed bool
}

func (l LevelOfService) String() string {
	if l.Jammed {
		return "jammed"
	}
	return fmt.Sprintf("%.4f", l.Score)
}

// losBand maps one half-open density interval, in vehicles per mile, to the
// low end of its raw output range. Each band spans 0.2 of raw output.
type losBand struct {
	lowDensity  float64
	highDensity float64
	lowOut      float64
}

// Density bands per the standard level-of-service table for road
// transportation. Density at or above the last band's upper bound has no
// finite level.
var losBands = []losBand{
	{0, 12, 0.0},
	{12, 20, 0.2},
	{20, 30, 0.4},
	{30, 42, 0.6},
	{42, 67, 0.8},
}

// endingLengthM is the fixed reference window used near segment ends and on
// short segments, to avoid density spikes when little road remains.
const endingLengthM = 200.0

// ScoreForDensity maps a vehicles-per-mile density to a level of service.
// Within its band the raw level is interpolated linearly; the reported
// score is the reverse (1.0 means free flow). Densities at or above 67
// veh/mi are jammed. Band boundaries belong to the higher band.
func ScoreForDensity(vehiclesPerMile float64) LevelOfService {
	for _, band := range losBands {
		if vehiclesPerMile < band.highDensity {
			d := band.highDensity - band.lowDensity
			raw := band.lowOut + (vehiclesPerMile-band.lowDensity)*0.2/d
			return LevelOfService{Score: 1.0 - raw}
		}
	}
	return LevelOfService{Jammed: true}
}

// loadAhead sums the PCU weights and occupied lengths (vehicle length plus
// standstill gap) of the distinct vehicles observed on the segment within
// [at-tolerance, at+tolerance], strictly ahead of offsetM and excluding
// vehicleID. Vehicle classes resolve through the table with the "car"
// fallback.
//
// When a vehicle has several qualifying observations inside the window, the
// first one in storage order wins. That is not necessarily the observation
// closest to the query instant; see DESIGN.md.
func (g *GlobalView) loadAhead(at time.Time, segmentID int64, tolerance time.Duration, vehicleID int, offsetM float64) (totalPCU, totalOccupiedM float64, ahead map[int]fcd.Class) {
	windowStart := at.Add(-tolerance)
	windowEnd := at.Add(tolerance)

	ahead = make(map[int]fcd.Class)
	for _, rec := range g.fcdBySegment[segmentID] {
		if rec.Datetime.Before(windowStart) || rec.Datetime.After(windowEnd) {
			continue
		}
		if rec.VehicleID == vehicleID || rec.StartOffsetM <= offsetM {
			continue
		}
		if _, seen := ahead[rec.VehicleID]; seen {
			continue
		}
		ahead[rec.VehicleID] = g.classes.Lookup(rec.VehicleType)
	}

	for _, class := range ahead {
		totalPCU += class.PCU
		totalOccupiedM += class.OccupiedLengthM()
	}
	return totalPCU, totalOccupiedM, ahead
}

// LevelOfServiceInFrontOfVehicle scores the congestion ahead of a vehicle
// positioned offsetM into the segment at time at. vehicleID excludes the
// vehicle's own observations (pass NoVehicle to count everything).
// tolerance widens the observation time window symmetrically around at.
//
// With limitVehicleCount set, a vehicle at the segment start is reported
// jammed outright when the summed occupied length of the vehicles ahead
// exceeds the road remaining, regardless of the density model.
//
// Segments must have positive length and at least one lane; anything else
// is a caller contract violation and panics rather than producing garbage
// densities.
func (g *GlobalView) LevelOfServiceInFrontOfVehicle(at time.Time, segment Segment, vehicleID int, offsetM float64, tolerance time.Duration, limitVehicleCount bool) LevelOfService {
	if segment.LengthM() <= 0 || segment.Lanes() < 1 {
		panic(fmt.Sprintf("traffic: segment %d has invalid geometry (length=%g lanes=%d)",
			segment.ID(), segment.LengthM(), segment.Lanes()))
	}

	totalPCU, totalOccupiedM, ahead := g.loadAhead(at, segment.ID(), tolerance, vehicleID, offsetM)

	availableM := segment.LengthM() - offsetM
	if limitVehicleCount && offsetM == 0.0 && segment.LengthM() >= 10.0 {
		if totalOccupiedM > availableM {
			monitoring.Logf("jam on segment %d: length=%.2f available=%.2f lanes=%d vehicles=%d occupied=%.2f",
				segment.ID(), segment.LengthM(), availableM, segment.Lanes(), len(ahead), totalOccupiedM)
			return LevelOfService{Jammed: true}
		}
	}

	// Normalise over a fixed 200 m window near the segment end so short
	// remainders do not blow up the density.
	restM := segment.LengthM() - offsetM
	var density float64
	if restM < endingLengthM {
		density = units.VehiclesPerMile(totalPCU, endingLengthM)
	} else {
		density = units.VehiclesPerMile(totalPCU, restM*float64(segment.Lanes()))
	}

	return ScoreForDensity(density)
}

// LevelOfServiceAtSegment answers "how congested is this segment overall
// right now": a query at the segment start with no reference vehicle and no
// tolerance.
func (g *GlobalView) LevelOfServiceAtSegment(at time.Time, segment Segment) LevelOfService {
	return g.LevelOfServiceInFrontOfVehicle(at, segment, NoVehicle, 0, 0, false)
}
