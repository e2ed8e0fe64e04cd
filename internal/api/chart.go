package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/stopline/internal/db"
	"github.com/banshee-data/stopline/internal/httputil"
)

// stopIndexChart builds a line chart of stop index and light index against
// tick. records must be in ascending tick order.
func stopIndexChart(runID string, records []db.SignalRecord) *charts.Line {
	ticks := make([]string, 0, len(records))
	stops := make([]opts.LineData, 0, len(records))
	lights := make([]opts.LineData, 0, len(records))
	for _, rec := range records {
		ticks = append(ticks, strconv.FormatUint(rec.Tick, 10))
		stops = append(stops, opts.LineData{Value: rec.StopIndex, Name: rec.ConfirmedColor.String()})
		lights = append(lights, opts.LineData{Value: rec.LightIndex, Name: rec.RawColor.String()})
	}

	subtitle := fmt.Sprintf("run %s, %d changes", runID, len(records))
	if runID == "" {
		subtitle = fmt.Sprintf("all runs, %d changes", len(records))
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Stop Index", Theme: "dark", Width: "100%", Height: "720px"}),
		charts.WithTitleOpts(opts.Title{Title: "Stop Index", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "tick"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "path index"}),
	)
	line.SetXAxis(ticks).
		AddSeries("stop index", stops).
		AddSeries("light index", lights)
	return line
}

func (s *Server) showChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.db == nil {
		httputil.ServiceUnavailable(w, "No database configured")
		return
	}
	limit, err := s.limitParam(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	runID := s.runParam(r)
	records, err := s.db.Signals(r.Context(), runID, limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve signals: %v", err))
		return
	}
	// Signals are newest first.
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}

	page := components.NewPage()
	page.AddCharts(stopIndexChart(runID, records))

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}

	httputil.WriteBody(w, "text/html; charset=utf-8", buf.Bytes())
}
