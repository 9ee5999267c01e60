// Package sim is the tick-driven simulation loop that feeds the traffic
// aggregator. Each tick every active vehicle reports an FCD record, the
// level of service ahead of each vehicle gates its advancement, dirty
// segment speeds are drained for the router, and old observations are
// periodically dropped. Vehicle state is optionally logged to the results
// sink.
package sim

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/traffic.report/internal/db"
	"github.com/banshee-data/traffic.report/internal/fcd"
	"github.com/banshee-data/traffic.report/internal/monitoring"
	"github.com/banshee-data/traffic.report/internal/timeutil"
	"github.com/banshee-data/traffic.report/internal/traffic"
	"github.com/banshee-data/traffic.report/internal/units"
)

// Segment is one road segment of the simulated network. It satisfies
// traffic.Segment.
type Segment struct {
	SegmentID int64
	Length    float64 // meters
	LaneCount int
}

func (s Segment) ID() int64        { return s.SegmentID }
func (s Segment) LengthM() float64 { return s.Length }
func (s Segment) Lanes() int       { return s.LaneCount }

// Vehicle is one simulated vehicle following a fixed route of segment ids.
type Vehicle struct {
	ID          int
	Type        string
	Route       []int64
	FreeFlowKph float64

	routeIndex int
	OffsetM    float64
	SpeedKph   float64
	Active     bool
}

// CurrentSegment returns the segment id the vehicle is currently on.
func (v *Vehicle) CurrentSegment() int64 {
	return v.Route[v.routeIndex]
}

// Vehicle status values logged to the results sink.
const (
	StatusDriving  = "driving"
	StatusQueued   = "queued"
	StatusFinished = "finished"
)

// Config carries the simulator's construction parameters.
type Config struct {
	Classes  fcd.ClassTable
	Segments []Segment

	// TickInterval is the simulated time that passes per tick.
	TickInterval time.Duration

	// Retention bounds how long observations are kept; every
	// RetentionEvery ticks, observations older than Retention are
	// dropped. RetentionEvery <= 0 disables retention.
	Retention      time.Duration
	RetentionEvery int

	// Start is the simulation start time. Zero means Clock.Now().
	Start time.Time

	Clock timeutil.Clock

	// Sink receives per-vehicle state records when non-nil.
	Sink *db.DB
}

// Simulator drives a GlobalView through simulated ticks.
type Simulator struct {
	cfg      Config
	view     *traffic.GlobalView
	segments map[int64]Segment
	vehicles []*Vehicle

	now    time.Time
	ticks  int
	runID  string
	speeds map[int64]traffic.SpeedEstimate
}

// New validates the network and builds a simulator. With a sink configured,
// a new run is registered immediately.
func New(cfg Config) (*Simulator, error) {
	if cfg.Classes == nil {
		cfg.Classes = fcd.DefaultClasses()
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if len(cfg.Segments) == 0 {
		return nil, fmt.Errorf("sim: no segments configured")
	}

	segments := make(map[int64]Segment, len(cfg.Segments))
	for _, seg := range cfg.Segments {
		if seg.Length <= 0 || seg.LaneCount < 1 {
			return nil, fmt.Errorf("sim: segment %d has invalid geometry (length=%g lanes=%d)",
				seg.SegmentID, seg.Length, seg.LaneCount)
		}
		if _, dup := segments[seg.SegmentID]; dup {
			return nil, fmt.Errorf("sim: duplicate segment id %d", seg.SegmentID)
		}
		segments[seg.SegmentID] = seg
	}

	start := cfg.Start
	if start.IsZero() {
		start = cfg.Clock.Now()
	}

	s := &Simulator{
		cfg:      cfg,
		view:     traffic.NewGlobalView(cfg.Classes),
		segments: segments,
		now:      start,
		speeds:   make(map[int64]traffic.SpeedEstimate),
	}

	if cfg.Sink != nil {
		runID, err := cfg.Sink.BeginRun(start)
		if err != nil {
			return nil, fmt.Errorf("sim: failed to begin run: %w", err)
		}
		s.runID = runID
	}
	return s, nil
}

// RunID returns the sink run id, or "" when no sink is configured.
func (s *Simulator) RunID() string { return s.runID }

// Now returns the current simulated time.
func (s *Simulator) Now() time.Time { return s.now }

// View exposes the underlying aggregator for direct queries.
func (s *Simulator) View() *traffic.GlobalView { return s.view }

// AddVehicle places a vehicle at the start of its route.
func (s *Simulator) AddVehicle(v Vehicle) (*Vehicle, error) {
	if len(v.Route) == 0 {
		return nil, fmt.Errorf("sim: vehicle %d has an empty route", v.ID)
	}
	for _, segmentID := range v.Route {
		if _, ok := s.segments[segmentID]; !ok {
			return nil, fmt.Errorf("sim: vehicle %d routes over unknown segment %d", v.ID, segmentID)
		}
	}
	if v.FreeFlowKph <= 0 {
		v.FreeFlowKph = 50
	}
	v.Active = true
	v.SpeedKph = v.FreeFlowKph
	added := v
	s.vehicles = append(s.vehicles, &added)
	return &added, nil
}

// ActiveVehicles returns the number of vehicles still driving.
func (s *Simulator) ActiveVehicles() int {
	n := 0
	for _, v := range s.vehicles {
		if v.Active {
			n++
		}
	}
	return n
}

// SegmentSpeeds returns the most recently drained aggregate per segment.
// This is what would be fed back into routing.
func (s *Simulator) SegmentSpeeds() map[int64]traffic.SpeedEstimate {
	out := make(map[int64]traffic.SpeedEstimate, len(s.speeds))
	for id, est := range s.speeds {
		out[id] = est
	}
	return out
}

// Tick advances the simulation by one step: ingest FCD for every active
// vehicle, advance vehicles gated by the level of service ahead of them,
// drain the dirty segments' speeds, and periodically drop old observations.
func (s *Simulator) Tick() error {
	s.ticks++

	for _, v := range s.vehicles {
		if !v.Active {
			continue
		}
		s.view.Add(fcd.Record{
			VehicleID:    v.ID,
			VehicleType:  v.Type,
			SegmentID:    v.CurrentSegment(),
			StartOffsetM: v.OffsetM,
			Datetime:     s.now,
			SpeedKph:     v.SpeedKph,
		})
	}

	for _, v := range s.vehicles {
		if !v.Active {
			continue
		}
		status := s.advance(v)
		if s.cfg.Sink != nil {
			err := s.cfg.Sink.AppendResult(s.runID, db.Result{
				Timestamp:    s.now,
				VehicleID:    v.ID,
				SegmentID:    v.CurrentSegment(),
				StartOffsetM: v.OffsetM,
				SpeedKph:     v.SpeedKph,
				Status:       status,
				Active:       v.Active,
			})
			if err != nil {
				return fmt.Errorf("sim: tick %d: %w", s.ticks, err)
			}
		}
	}

	for segmentID, est := range s.view.TakeSegmentSpeeds() {
		s.speeds[segmentID] = est
	}

	if s.cfg.RetentionEvery > 0 && s.ticks%s.cfg.RetentionEvery == 0 {
		s.view.DropOld(s.now.Add(-s.cfg.Retention))
	}

	s.now = s.now.Add(s.cfg.TickInterval)
	return nil
}

// advance moves one vehicle according to the level of service ahead of it
// and returns the status to log.
func (s *Simulator) advance(v *Vehicle) string {
	segment := s.segments[v.CurrentSegment()]
	los := s.view.LevelOfServiceInFrontOfVehicle(s.now, segment, v.ID, v.OffsetM, 0, true)
	if los.Jammed {
		v.SpeedKph = 0
		return StatusQueued
	}

	v.SpeedKph = v.FreeFlowKph * los.Score
	v.OffsetM += units.ConvertSpeed(v.SpeedKph, units.MPS) * s.cfg.TickInterval.Seconds()
	for v.OffsetM >= segment.Length {
		v.OffsetM -= segment.Length
		if v.routeIndex == len(v.Route)-1 {
			v.Active = false
			v.OffsetM = 0
			v.SpeedKph = 0
			return StatusFinished
		}
		v.routeIndex++
		segment = s.segments[v.CurrentSegment()]
	}
	return StatusDriving
}

// Run executes up to maxTicks ticks, stopping early when the context is
// cancelled or every vehicle has finished. With realTime set, each tick is
// paced by sleeping the tick interval on the configured clock.
func (s *Simulator) Run(ctx context.Context, maxTicks int, realTime bool) error {
	for i := 0; i < maxTicks; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.Tick(); err != nil {
			return err
		}
		if s.ActiveVehicles() == 0 {
			monitoring.Logf("all vehicles finished after %d ticks", s.ticks)
			return nil
		}
		if realTime {
			s.cfg.Clock.Sleep(s.cfg.TickInterval)
		}
	}
	return nil
}
