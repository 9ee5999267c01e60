// Command los-chart renders the density to level-of-service response curve
// as a standalone HTML chart, for eyeballing the band table and its jam
// cutoff.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/traffic.report/internal/traffic"
)

var (
	out        = flag.String("out", "los.html", "Output HTML file")
	maxDensity = flag.Float64("max-density", 80, "Upper bound of the density axis (veh/mi)")
	step       = flag.Float64("step", 0.25, "Density sampling step (veh/mi)")
)

func main() {
	flag.Parse()

	if *step <= 0 {
		log.Fatal("step must be positive")
	}

	var x []string
	var y []opts.LineData
	for d := 0.0; d <= *maxDensity; d += *step {
		x = append(x, fmt.Sprintf("%.2f", d))
		los := traffic.ScoreForDensity(d)
		if los.Jammed {
			// Break the line at the jam cutoff rather than faking a value.
			y = append(y, opts.LineData{Value: nil})
			continue
		}
		y = append(y, opts.LineData{Value: los.Score})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Level of Service", Width: "900px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{Title: "Level of Service vs Density", Subtitle: "1.0 = free flow; gap = jammed"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "density (veh/mi)"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "level of service", Min: 0, Max: 1}),
	)
	line.SetXAxis(x)
	line.AddSeries("LoS", y)

	f, err := os.Create(*out)
	if err != nil {
		log.Fatalf("failed to create %s: %v", *out, err)
	}
	defer f.Close()
	if err := line.Render(f); err != nil {
		log.Fatalf("failed to render chart: %v", err)
	}
	log.Printf("wrote %s", *out)
}
