package traffic

import (
	"math"
	"testing"
	"time"

	"github.com/banshee-data/traffic.report/internal/fcd"
	"github.com/banshee-data/traffic.report/internal/monitoring"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

type testSegment struct {
	id      int64
	lengthM float64
	lanes   int
}

func (s testSegment) ID() int64        { return s.id }
func (s testSegment) LengthM() float64 { return s.lengthM }
func (s testSegment) Lanes() int       { return s.lanes }

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-3
}

func TestScoreForDensity(t *testing.T) {
	tests := []struct {
		name    string
		density float64
		score   float64
		jammed  bool
	}{
		{"empty road", 0, 1.0, false},
		{"light traffic", 6, 0.9, false},
		{"band boundary resolves upward", 12, 0.8, false},
		{"inside second band", 16, 0.7, false},
		{"boundary 20", 20, 0.6, false},
		{"boundary 30", 30, 0.4, false},
		{"boundary 42", 42, 0.2, false},
		{"just under jam", 66.999, 0.0, false},
		{"jam cutoff", 67, 0, true},
		{"far past jam", 150, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ScoreForDensity(tt.density)
			if got.Jammed != tt.jammed {
				t.Fatalf("ScoreForDensity(%v).Jammed = %v, want %v", tt.density, got.Jammed, tt.jammed)
			}
			if !tt.jammed && !approxEqual(got.Score, tt.score) {
				t.Errorf("ScoreForDensity(%v) = %v, want %v", tt.density, got.Score, tt.score)
			}
		})
	}
}

// 20 cars ahead on a 500 m, 2-lane segment: density 20*1609.344/(500*2)
// ~= 32.19 veh/mi, band [30,42), raw ~= 0.6365, reported ~= 0.3635.
func TestLevelOfServiceEndToEnd(t *testing.T) {
	g := NewGlobalView(fcd.DefaultClasses())
	segment := testSegment{id: 1, lengthM: 500, lanes: 2}
	for i := 0; i < 20; i++ {
		g.Add(fcd.Record{
			VehicleID:    100 + i,
			VehicleType:  "car",
			SegmentID:    1,
			StartOffsetM: 20 + float64(i)*20,
			Datetime:     t0,
			SpeedKph:     30,
		})
	}

	los := g.LevelOfServiceInFrontOfVehicle(t0, segment, 1, 0, 0, true)
	if los.Jammed {
		t.Fatal("unexpected jam: 20 cars occupy 140 m of 500 m")
	}
	if !approxEqual(los.Score, 0.3635) {
		t.Errorf("score = %v, want ~0.3635", los.Score)
	}
}

func TestJamShortCircuit(t *testing.T) {
	// 8 cars occupy 56 m of a 50 m segment. Density alone (8*1609.344/200
	// = 64.4 veh/mi) stays below the 67 cutoff, so only the occupied-length
	// check can report the jam.
	g := NewGlobalView(fcd.DefaultClasses())
	segment := testSegment{id: 1, lengthM: 50, lanes: 1}
	for i := 0; i < 8; i++ {
		g.Add(fcd.Record{
			VehicleID:    100 + i,
			VehicleType:  "car",
			SegmentID:    1,
			StartOffsetM: 1 + float64(i)*6,
			Datetime:     t0,
			SpeedKph:     0,
		})
	}

	if los := g.LevelOfServiceInFrontOfVehicle(t0, segment, 1, 0, 0, true); !los.Jammed {
		t.Errorf("limit mode at offset 0 = %v, want jammed", los)
	}

	// The short-circuit needs counting mode; without it the density model
	// answers.
	if los := g.LevelOfServiceInFrontOfVehicle(t0, segment, 1, 0, 0, false); los.Jammed {
		t.Errorf("without counting mode = jammed, want finite score")
	}

	// And it only applies when the query sits exactly at the segment start.
	if los := g.LevelOfServiceInFrontOfVehicle(t0, segment, 1, 0.5, 0, true); los.Jammed {
		t.Errorf("at offset 0.5 = jammed, want finite score")
	}
}

func TestDensityJamSentinel(t *testing.T) {
	// 9 cars over a 200 m reference window on a 100 m segment: density
	// 9*1609.344/200 = 72.4 veh/mi, past the last band.
	g := NewGlobalView(fcd.DefaultClasses())
	segment := testSegment{id: 1, lengthM: 100, lanes: 1}
	for i := 0; i < 9; i++ {
		g.Add(fcd.Record{
			VehicleID:    100 + i,
			VehicleType:  "car",
			SegmentID:    1,
			StartOffsetM: 10 + float64(i)*10,
			Datetime:     t0,
			SpeedKph:     0,
		})
	}

	los := g.LevelOfServiceInFrontOfVehicle(t0, segment, NoVehicle, 0, 0, false)
	if !los.Jammed {
		t.Errorf("density 72.4 veh/mi = %v, want jammed", los)
	}
}

func TestLoadAheadFilters(t *testing.T) {
	g := NewGlobalView(fcd.DefaultClasses())

	add := func(vehicleID int, offset float64) {
		g.Add(fcd.Record{VehicleID: vehicleID, VehicleType: "car", SegmentID: 1,
			StartOffsetM: offset, Datetime: t0, SpeedKph: 30})
	}
	add(1, 150)  // the reference vehicle itself
	add(2, 50)   // behind the reference offset
	add(3, 100)  // exactly at the reference offset: not strictly ahead
	add(4, 200)  // ahead, counts
	add(4, 300)  // same vehicle again: deduplicated
	add(5, 250)  // ahead, counts

	totalPCU, occupiedM, ahead := g.loadAhead(t0, 1, 0, 1, 100)
	if len(ahead) != 2 {
		t.Fatalf("vehicles ahead = %v, want vehicles 4 and 5 only", ahead)
	}
	if totalPCU != 2 {
		t.Errorf("totalPCU = %v, want 2", totalPCU)
	}
	if occupiedM != 14 {
		t.Errorf("occupiedM = %v, want 14 (two cars at 5+2 m)", occupiedM)
	}
}

func TestLoadAheadTimeWindow(t *testing.T) {
	g := NewGlobalView(fcd.DefaultClasses())
	add := func(vehicleID int, at time.Time) {
		g.Add(fcd.Record{VehicleID: vehicleID, VehicleType: "car", SegmentID: 1,
			StartOffsetM: 100, Datetime: at, SpeedKph: 30})
	}
	add(2, t0.Add(-3*time.Second)) // outside the window
	add(3, t0.Add(-2*time.Second)) // on the window edge: inclusive
	add(4, t0)
	add(5, t0.Add(2*time.Second)) // on the window edge: inclusive
	add(6, t0.Add(3*time.Second)) // outside the window

	_, _, ahead := g.loadAhead(t0, 1, 2*time.Second, NoVehicle, 0)
	if len(ahead) != 3 {
		t.Errorf("vehicles in window = %v, want vehicles 3, 4, 5", ahead)
	}

	// Zero tolerance keeps only the exact instant.
	_, _, ahead = g.loadAhead(t0, 1, 0, NoVehicle, 0)
	if len(ahead) != 1 {
		t.Errorf("vehicles at exact instant = %v, want vehicle 4 only", ahead)
	}
}

func TestLoadAheadUnknownTypeFallsBackToCar(t *testing.T) {
	g := NewGlobalView(fcd.DefaultClasses())
	g.Add(fcd.Record{VehicleID: 2, VehicleType: "hovercraft", SegmentID: 1,
		StartOffsetM: 100, Datetime: t0, SpeedKph: 30})

	totalPCU, occupiedM, _ := g.loadAhead(t0, 1, 0, NoVehicle, 0)
	if totalPCU != 1 || occupiedM != 7 {
		t.Errorf("unknown type weighted as (%v, %v), want car parameters (1, 7)", totalPCU, occupiedM)
	}
}

func TestLevelOfServiceAtSegmentConvenience(t *testing.T) {
	g := NewGlobalView(fcd.DefaultClasses())
	segment := testSegment{id: 1, lengthM: 500, lanes: 2}
	g.Add(fcd.Record{VehicleID: 2, VehicleType: "car", SegmentID: 1,
		StartOffsetM: 100, Datetime: t0, SpeedKph: 30})

	want := g.LevelOfServiceInFrontOfVehicle(t0, segment, NoVehicle, 0, 0, false)
	got := g.LevelOfServiceAtSegment(t0, segment)
	if got != want {
		t.Errorf("LevelOfServiceAtSegment = %v, want %v", got, want)
	}
	if got.Jammed || got.Score <= 0.9 {
		t.Errorf("one car on a long segment = %v, want nearly free flow", got)
	}
}

func TestEmptySegmentIsFreeFlow(t *testing.T) {
	g := NewGlobalView(fcd.DefaultClasses())
	segment := testSegment{id: 7, lengthM: 400, lanes: 1}
	los := g.LevelOfServiceAtSegment(t0, segment)
	if los.Jammed || los.Score != 1.0 {
		t.Errorf("empty segment = %v, want score 1.0", los)
	}
}

func TestInvalidGeometryPanics(t *testing.T) {
	g := NewGlobalView(fcd.DefaultClasses())
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for zero-lane segment")
		}
	}()
	g.LevelOfServiceAtSegment(t0, testSegment{id: 1, lengthM: 100, lanes: 0})
}
