// Package fcd defines the floating car data record and the vehicle class
// tables used to weight heterogeneous vehicles in density calculations.
package fcd

import "time"

// Record is one observation of one vehicle on one road segment at one
// instant. Records are constructed by the simulation driver and are never
// mutated after ingestion.
type Record struct {
	VehicleID    int
	VehicleType  string
	SegmentID    int64
	StartOffsetM float64 // distance from the segment start, meters
	Datetime     time.Time
	SpeedKph     float64
}

// Class holds the physical parameters of one vehicle class.
type Class struct {
	Name string
	// PCU is the passenger car unit weight: the number of equivalent
	// passenger cars this vehicle counts as in density calculations.
	PCU            float64
	LengthM        float64
	StandstillGapM float64
}

// OccupiedLengthM is the road length one stopped vehicle of this class
// consumes: its physical length plus the standstill gap to the next vehicle.
func (c Class) OccupiedLengthM() float64 {
	return c.LengthM + c.StandstillGapM
}

// ClassTable maps vehicle type names to class parameters. Every table must
// contain a "car" entry; it is the universal fallback for unknown types.
type ClassTable map[string]Class

// FallbackClassName is the mandatory entry every ClassTable carries.
const FallbackClassName = "car"

// DefaultClasses returns the built-in vehicle class table.
func DefaultClasses() ClassTable {
	return ClassTable{
		"car":   {Name: "car", PCU: 1.0, LengthM: 5.0, StandstillGapM: 2.0},
		"truck": {Name: "truck", PCU: 2.5, LengthM: 10.0, StandstillGapM: 3.0},
	}
}

// Validate reports whether the table can serve lookups, which requires the
// "car" fallback entry to exist.
func (t ClassTable) Validate() bool {
	_, ok := t[FallbackClassName]
	return ok
}

// Lookup resolves a vehicle type name to its class parameters, falling back
// to the "car" entry when the type is unknown. Panics if the table has no
// "car" entry; such a table violates the construction contract and would
// otherwise silently misweight every unknown vehicle.
func (t ClassTable) Lookup(typeName string) Class {
	if c, ok := t[typeName]; ok {
		return c
	}
	c, ok := t[FallbackClassName]
	if !ok {
		panic("fcd: class table has no \"car\" fallback entry")
	}
	return c
}
