package report

import (
	"bytes"
	"fmt"
	"image/color"
	"io"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/laps.report/internal/race"
	"github.com/banshee-data/laps.report/internal/units"
)

// hmsTicks labels a seconds axis as HH:MM:SS.
type hmsTicks struct{}

func (hmsTicks) Ticks(min, max float64) []plot.Tick {
	ticks := plot.DefaultTicks{}.Ticks(min, max)
	for i := range ticks {
		if ticks[i].Label != "" {
			ticks[i].Label = units.FormatHMS(time.Duration(ticks[i].Value * float64(time.Second)))
		}
	}
	return ticks
}

// LapChartPNG renders a lap-time line chart for one competitor.
func LapChartPNG(h race.LapHistory) ([]byte, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("#%d %s - lap times", h.Number, h.Name)
	p.X.Label.Text = "Lap"
	p.Y.Label.Text = "Lap time"
	p.Y.Tick.Marker = hmsTicks{}
	p.X.Min = 0.5
	p.X.Max = float64(len(h.Laps)) + 0.5
	p.Y.Min = 0

	pts := make(plotter.XYs, len(h.Laps))
	for i, d := range h.Laps {
		pts[i] = plotter.XY{X: float64(i + 1), Y: d.Seconds()}
	}
	if len(pts) > 0 {
		line, points, err := plotter.NewLinePoints(pts)
		if err != nil {
			return nil, fmt.Errorf("lap chart: %w", err)
		}
		line.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
		line.Width = vg.Points(1.5)
		points.Color = line.Color
		p.Add(line, points, plotter.NewGrid())

		if st := ComputeLapStats(h.Laps); st.Count > 1 {
			mean, err := plotter.NewLine(plotter.XYs{
				{X: p.X.Min, Y: st.Mean.Seconds()},
				{X: p.X.Max, Y: st.Mean.Seconds()},
			})
			if err == nil {
				mean.Color = color.RGBA{R: 214, G: 39, B: 40, A: 255}
				mean.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
				p.Add(mean)
				p.Legend.Add("mean", mean)
			}
		}
	}

	wt, err := p.WriterTo(8*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return nil, fmt.Errorf("lap chart: %w", err)
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("lap chart: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderLeaderboard writes an HTML page with one laps-per-competitor bar
// chart per category.
func RenderLeaderboard(w io.Writer, snap race.Snapshot) error {
	page := components.NewPage()
	page.PageTitle = "Leaderboard"
	if snap.RaceName != "" {
		page.PageTitle = "Leaderboard - " + snap.RaceName
	}

	for _, cat := range snap.Categories {
		x := make([]string, len(cat.Standings))
		y := make([]opts.BarData, len(cat.Standings))
		for i, s := range cat.Standings {
			x[i] = fmt.Sprintf("%d° #%d %s", s.Rank, s.Number, s.Name)
			y[i] = opts.BarData{
				Value: s.Laps,
				Name:  units.FormatHMS(s.Elapsed),
			}
		}

		bar := charts.NewBar()
		bar.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "420px"}),
			charts.WithTitleOpts(opts.Title{Title: cat.Category, Subtitle: "updated " + units.FormatClock(snap.TakenAt)}),
			charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
			charts.WithYAxisOpts(opts.YAxis{Name: "Laps", NameLocation: "middle", NameGap: 30}),
		)
		bar.SetXAxis(x).
			AddSeries("laps", y,
				charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
			)
		page.AddCharts(bar)
	}

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return fmt.Errorf("render leaderboard: %w", err)
	}
	_, err := w.Write(buf.Bytes())
	return err
}
