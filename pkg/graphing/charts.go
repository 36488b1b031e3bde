package graphing

import (
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"InferenceGovernor/pkg/benchmarking"
)

const chartHeight = "400px"

func levelLabels(results []benchmarking.Result) []string {
	labels := make([]string, len(results))
	for i, r := range results {
		labels[i] = strconv.Itoa(r.Concurrency)
	}
	return labels
}

func lineData(results []benchmarking.Result, pick func(benchmarking.Result) float64) []opts.LineData {
	data := make([]opts.LineData, len(results))
	for i, r := range results {
		data[i] = opts.LineData{Value: pick(r)}
	}
	return data
}

func barData(results []benchmarking.Result, pick func(benchmarking.Result) float64) []opts.BarData {
	data := make([]opts.BarData, len(results))
	for i, r := range results {
		data[i] = opts.BarData{Value: pick(r)}
	}
	return data
}

// createPercentileChart plots p50/p90/p99 and the mean of one latency
// family against concurrency.
func createPercentileChart(title string, results []benchmarking.Result, p50, p90, p99, mean func(benchmarking.Result) float64) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: title}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "30"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", Name: "concurrency"}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: "ms"}),
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: chartHeight}),
	)

	line.SetXAxis(levelLabels(results)).
		AddSeries("p50", lineData(results, p50)).
		AddSeries("p90", lineData(results, p90)).
		AddSeries("p99", lineData(results, p99)).
		AddSeries("mean", lineData(results, mean))
	line.SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(true)}))
	return line
}

func createTTFTChart(results []benchmarking.Result) *charts.Line {
	return createPercentileChart("Time to First Token", results,
		func(r benchmarking.Result) float64 { return r.TTFTP50Ms },
		func(r benchmarking.Result) float64 { return r.TTFTP90Ms },
		func(r benchmarking.Result) float64 { return r.TTFTP99Ms },
		func(r benchmarking.Result) float64 { return r.TTFTMeanMs },
	)
}

func createLatencyChart(results []benchmarking.Result) *charts.Line {
	return createPercentileChart("Total Latency", results,
		func(r benchmarking.Result) float64 { return r.LatencyP50Ms },
		func(r benchmarking.Result) float64 { return r.LatencyP90Ms },
		func(r benchmarking.Result) float64 { return r.LatencyP99Ms },
		func(r benchmarking.Result) float64 { return r.LatencyMeanMs },
	)
}

// createThroughputChart compares mean per-request throughput with the
// aggregate throughput over each level's window.
func createThroughputChart(results []benchmarking.Result) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Throughput", Subtitle: "tokens per second"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "30"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", Name: "concurrency"}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value"}),
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: chartHeight}),
	)

	bar.SetXAxis(levelLabels(results)).
		AddSeries("per request (mean)", barData(results, func(r benchmarking.Result) float64 { return r.TokensPerSecondMean })).
		AddSeries("aggregate", barData(results, func(r benchmarking.Result) float64 { return r.TotalThroughput }))
	return bar
}

// createOutcomeChart stacks successful, failed and rejected work per level.
func createOutcomeChart(results []benchmarking.Result) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Request Outcomes"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "30"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", Name: "concurrency"}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value"}),
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: chartHeight}),
	)

	bar.SetXAxis(levelLabels(results)).
		AddSeries("successful", barData(results, func(r benchmarking.Result) float64 { return float64(r.SuccessfulRequests) })).
		AddSeries("failed", barData(results, func(r benchmarking.Result) float64 { return float64(r.FailedRequests) })).
		AddSeries("rejected clients", barData(results, func(r benchmarking.Result) float64 { return float64(r.RejectedClients) }))
	bar.SetSeriesOptions(charts.WithBarChartOpts(opts.BarChart{Stack: "outcome"}))
	return bar
}
