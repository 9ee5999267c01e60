package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/banshee-data/traffic.report/internal/db"
	"github.com/banshee-data/traffic.report/internal/sim"
)

var (
	dbFile    = flag.String("db", "results.db", "Results database file (empty to disable logging)")
	ticks     = flag.Int("ticks", 300, "Maximum number of simulation ticks")
	vehicles  = flag.Int("vehicles", 40, "Number of vehicles to spawn")
	segments  = flag.Int("segments", 8, "Number of road segments in the ring network")
	seed      = flag.Int64("seed", 1, "Random seed for routes and vehicle types")
	realTime  = flag.Bool("real-time", false, "Pace ticks against the wall clock")
	retention = flag.Duration("retention", time.Minute, "Observation retention window")
)

func main() {
	flag.Parse()

	if *segments < 1 {
		log.Fatal("at least one segment is required")
	}

	rng := rand.New(rand.NewSource(*seed))

	// A ring of two-lane segments with varied lengths.
	network := make([]sim.Segment, *segments)
	for i := range network {
		network[i] = sim.Segment{
			SegmentID: int64(i + 1),
			Length:    300 + rng.Float64()*700,
			LaneCount: 2,
		}
	}

	var sink *db.DB
	if *dbFile != "" {
		var err error
		sink, err = db.NewDB(*dbFile)
		if err != nil {
			log.Fatalf("Failed to open results database: %v", err)
		}
		defer sink.Close()
	}

	simulator, err := sim.New(sim.Config{
		Segments:       network,
		TickInterval:   time.Second,
		Retention:      *retention,
		RetentionEvery: 60,
		Sink:           sink,
	})
	if err != nil {
		log.Fatalf("Failed to build simulator: %v", err)
	}

	for i := 0; i < *vehicles; i++ {
		vehicleType := "car"
		if rng.Intn(5) == 0 {
			vehicleType = "truck"
		}
		route := ringRoute(network, rng.Intn(len(network)), 2+rng.Intn(len(network)))
		if _, err := simulator.AddVehicle(sim.Vehicle{
			ID:          i + 1,
			Type:        vehicleType,
			Route:       route,
			FreeFlowKph: 40 + rng.Float64()*20,
		}); err != nil {
			log.Fatalf("Failed to add vehicle %d: %v", i+1, err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if simulator.RunID() != "" {
		log.Printf("Logging results under run %s", simulator.RunID())
	}
	if err := simulator.Run(ctx, *ticks, *realTime); err != nil && err != context.Canceled {
		log.Fatalf("Simulation failed: %v", err)
	}

	speeds := simulator.SegmentSpeeds()
	ids := make([]int64, 0, len(speeds))
	for id := range speeds {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		est := speeds[id]
		if est.Valid {
			fmt.Printf("segment %d: %.1f km/h\n", id, est.SpeedKph)
		} else {
			fmt.Printf("segment %d: no data\n", id)
		}
	}
	log.Printf("Done: %d vehicles still active", simulator.ActiveVehicles())
}

// ringRoute returns a route of length hops starting at index start, walking
// the ring network in order.
func ringRoute(network []sim.Segment, start, hops int) []int64 {
	route := make([]int64, hops)
	for i := 0; i < hops; i++ {
		route[i] = network[(start+i)%len(network)].SegmentID
	}
	return route
}
