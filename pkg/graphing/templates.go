package graphing

import (
	"bytes"
	"fmt"
	"html/template"

	"InferenceGovernor/pkg/benchmarking"
)

const summaryCSS = `<style>
.summary { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, Arial, sans-serif; max-width: 1400px; margin: 0 auto 20px; }
.summary h1 { font-size: 18px; border-bottom: 2px solid #333; padding-bottom: 8px; }
.summary table { border-collapse: collapse; width: 100%; font-size: 12px; }
.summary th, .summary td { border: 1px solid #ddd; padding: 4px 8px; text-align: right; }
.summary th { background: #f5f5f5; }
.summary tr.cancelled td { color: #a50026; }
</style>
`

var templates = template.Must(template.New("").Funcs(template.FuncMap{
	"num":     func(v float64) string { return fmt.Sprintf("%.1f", v) },
	"percent": func(r benchmarking.Result) string { return fmt.Sprintf("%.0f%%", r.SuccessRate()*100) },
}).Parse(`
{{define "summary"}}
<div class="summary">
  <h1>{{.Title}}</h1>
  <table>
    <tr>
      <th>Concurrency</th><th>Success</th><th>Rate</th><th>Rejected</th>
      <th>TTFT p50</th><th>TTFT p90</th><th>TTFT p99</th>
      <th>Latency p50</th><th>Latency p90</th><th>Latency p99</th>
      <th>Tokens/s (mean)</th><th>Tokens/s (aggregate)</th><th>Duration (s)</th>
    </tr>
    {{range .Results}}
    <tr{{if .Cancelled}} class="cancelled"{{end}}>
      <td>{{.Concurrency}}</td><td>{{.SuccessfulRequests}}/{{.TotalRequests}}</td><td>{{percent .}}</td><td>{{.RejectedClients}}</td>
      <td>{{num .TTFTP50Ms}}</td><td>{{num .TTFTP90Ms}}</td><td>{{num .TTFTP99Ms}}</td>
      <td>{{num .LatencyP50Ms}}</td><td>{{num .LatencyP90Ms}}</td><td>{{num .LatencyP99Ms}}</td>
      <td>{{num .TokensPerSecondMean}}</td><td>{{num .TotalThroughput}}</td><td>{{printf "%.2f" .TestDurationSec}}</td>
    </tr>
    {{end}}
  </table>
</div>
{{end}}
`))

type summaryData struct {
	Title   string
	Results []benchmarking.Result
}

func renderSummary(title string, results []benchmarking.Result) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, "summary", summaryData{Title: title, Results: results}); err != nil {
		return "", fmt.Errorf("failed to execute summary template: %w", err)
	}
	return buf.String(), nil
}
