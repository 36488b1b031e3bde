// Package graphing renders benchmark results as a standalone HTML report.
package graphing

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-echarts/go-echarts/v2/components"

	"InferenceGovernor/pkg/benchmarking"
	"InferenceGovernor/pkg/exporting"
)

// DefaultTitle is used when Render is given an empty title.
const DefaultTitle = "Inference Governor Benchmark"

// Render writes an HTML page with a summary table followed by latency,
// throughput and outcome charts for every level.
func Render(w io.Writer, title string, results []benchmarking.Result) error {
	if len(results) == 0 {
		return fmt.Errorf("no results to graph")
	}
	if title == "" {
		title = DefaultTitle
	}

	page := components.NewPage()
	page.PageTitle = title
	page.AddCharts(
		createTTFTChart(results),
		createLatencyChart(results),
		createThroughputChart(results),
		createOutcomeChart(results),
	)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return fmt.Errorf("failed to render charts: %w", err)
	}

	summary, err := renderSummary(title, results)
	if err != nil {
		return err
	}
	html := strings.Replace(buf.String(), "<body>", "<body>\n"+summary, 1)
	html = strings.Replace(html, "</head>", summaryCSS+"</head>", 1)

	_, err = io.WriteString(w, html)
	return err
}

// GenerateFromFile loads results from inputPath in any exporting format and
// writes the report to outputPath.
func GenerateFromFile(inputPath, outputPath, title string) error {
	results, err := exporting.LoadResults(inputPath)
	if err != nil {
		return fmt.Errorf("failed to load results: %w", err)
	}
	return WriteFile(outputPath, title, results)
}

// WriteFile renders results to path, creating parent directories.
func WriteFile(path, title string, results []benchmarking.Result) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	if err := Render(f, title, results); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReportPath derives the default report path next to a results file.
func ReportPath(resultsPath string) string {
	ext := filepath.Ext(resultsPath)
	return strings.TrimSuffix(resultsPath, ext) + ".html"
}
