package report

import (
	"bytes"
	"fmt"
	"html/template"
)

var fallbackTemplate = template.Must(template.New("fallback").Funcs(template.FuncMap{
	"avg":  func(f float64) string { return fmt.Sprintf("%.2f", f) },
	"hour": formatHour,
}).Parse(`<html>
<head>
<style>
body { font-family: Arial, sans-serif; margin: 40px; }
h1 { color: #333; }
.section { margin: 20px 0; }
table { border-collapse: collapse; width: 100%; }
th, td { border: 1px solid #ddd; padding: 8px; text-align: left; }
th { background-color: #f5f5f5; }
</style>
</head>
<body>
<h1>Security Report - {{.Date}}</h1>

<div class="section">
<h2>Image Processing Statistics</h2>
<p>Total Detections: {{.Image.TotalDetections}}</p>
<p>Total Persons: {{.Image.TotalPersons}}</p>
<p>Average Persons per Detection: {{avg .Image.AveragePersons}}</p>
<p>Peak Hour: {{hour .Image.PeakHour}}</p>
</div>

<div class="section">
<h2>RFID Access Statistics</h2>
<p>Total Events: {{.Badge.TotalEvents}}</p>
<p>Unique Cards: {{.Badge.UniqueCards}}</p>
<p>Total Entries: {{.Badge.TotalEntries}}</p>
<p>Total Exits: {{.Badge.TotalExits}}</p>
<p>Peak Hour: {{hour .Badge.PeakHour}}</p>
</div>
{{- if .Rows}}

<div class="section">
<h2>Hourly Activity</h2>
<table>
<tr><th>Hour</th><th>Detections</th><th>Persons</th><th>Max Persons</th><th>Entries</th><th>Exits</th></tr>
{{- range .Rows}}
<tr><td>{{hour .Hour}}</td><td>{{.Image.Detections}}</td><td>{{.Image.TotalPersons}}</td><td>{{.Image.MaxPersons}}</td><td>{{.Badge.Entries}}</td><td>{{.Badge.Exits}}</td></tr>
{{- end}}
</table>
</div>
{{- end}}
<p><small>Timezone: {{.Timezone}}</small></p>
</body>
</html>
`))

type hourRow struct {
	Hour  int
	Image ImageHour
	Badge BadgeHour
}

func formatHour(h int) string {
	if h < 0 {
		return "n/a"
	}
	return fmt.Sprintf("%02d:00", h)
}

// Fallback renders the deterministic HTML report. Only hours with activity
// get a table row.
func Fallback(s DailySummary) (string, error) {
	var rows []hourRow
	for h := 0; h < 24; h++ {
		img, b := s.Image.Hourly[h], s.Badge.Hourly[h]
		if img.Detections == 0 && b.Total == 0 {
			continue
		}
		rows = append(rows, hourRow{Hour: h, Image: img, Badge: b})
	}
	var buf bytes.Buffer
	err := fallbackTemplate.Execute(&buf, struct {
		DailySummary
		Rows []hourRow
	}{s, rows})
	if err != nil {
		return "", fmt.Errorf("render fallback report: %w", err)
	}
	return buf.String(), nil
}
