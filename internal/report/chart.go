package report

import (
	"bytes"
	"fmt"
	"image/color"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

func hourLabels() []string {
	labels := make([]string, 24)
	for h := range labels {
		labels[h] = fmt.Sprintf("%02d", h)
	}
	return labels
}

// HourlyChartPNG draws persons detected and badge events per hour as a
// grouped bar chart.
func HourlyChartPNG(s DailySummary) ([]byte, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Office activity by hour, %s", s.Date)
	p.X.Label.Text = "Hour"
	p.Y.Label.Text = "Count"
	p.Y.Min = 0

	w := vg.Points(8)

	persons, err := plotter.NewBarChart(plotter.Values(ImagePersonsSeries(s.Image.Hourly)), w)
	if err != nil {
		return nil, fmt.Errorf("persons series: %w", err)
	}
	persons.Color = color.RGBA{R: 49, G: 104, B: 142, A: 255}
	persons.LineStyle.Width = vg.Length(0)
	persons.Offset = -w / 2

	badges, err := plotter.NewBarChart(plotter.Values(BadgeTotalSeries(s.Badge.Hourly)), w)
	if err != nil {
		return nil, fmt.Errorf("badge series: %w", err)
	}
	badges.Color = color.RGBA{R: 53, G: 183, B: 121, A: 255}
	badges.LineStyle.Width = vg.Length(0)
	badges.Offset = w / 2

	p.Add(persons, badges)
	p.Legend.Add("persons detected", persons)
	p.Legend.Add("badge events", badges)
	p.Legend.Top = true
	p.NominalX(hourLabels()...)

	wt, err := p.WriterTo(10*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return nil, fmt.Errorf("render hourly chart: %w", err)
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("encode hourly chart: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderHourlyChartHTML writes an interactive hourly bar chart page.
func RenderHourlyChartHTML(w io.Writer, s DailySummary) error {
	persons := make([]opts.BarData, 24)
	entries := make([]opts.BarData, 24)
	exits := make([]opts.BarData, 24)
	for h := 0; h < 24; h++ {
		persons[h] = opts.BarData{Value: s.Image.Hourly[h].TotalPersons}
		entries[h] = opts.BarData{Value: s.Badge.Hourly[h].Entries}
		exits[h] = opts.BarData{Value: s.Badge.Hourly[h].Exits}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Presence " + s.Date, Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Office activity by hour", Subtitle: fmt.Sprintf("%s (%s)", s.Date, s.Timezone)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(hourLabels()).
		AddSeries("persons detected", persons).
		AddSeries("entries", entries).
		AddSeries("exits", exits)

	page := components.NewPage()
	page.AddCharts(bar)
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render hourly chart page: %w", err)
	}
	return nil
}
