package api

import (
	"bytes"
	"fmt"
	"math/cmplx"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/visibility.report/internal/interferometer/l3correlate"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// handleSpectrumChart renders amplitude and phase spectra of one record as
// HTML. Query params:
//   - pairs: "auto", "cross" or "all" (default all)
func (s *Server) handleSpectrumChart(w http.ResponseWriter, r *http.Request) {
	index, rec, ok := s.recordFromPath(w, r)
	if !ok {
		return
	}
	filter := r.URL.Query().Get("pairs")
	switch filter {
	case "":
		filter = "all"
	case "all", "auto", "cross":
	default:
		writeJSONError(w, http.StatusBadRequest, "pairs must be auto, cross or all")
		return
	}

	bins := make([]string, rec.Products.Bins())
	for b := range bins {
		bins[b] = strconv.Itoa(b)
	}
	subtitle := fmt.Sprintf("run=%s record=%d start=%d depth=%d %s",
		r.PathValue("run"), index, rec.StartSequenceIndex, rec.Depth(), rec.StartTimestamp)

	amp := charts.NewLine()
	amp.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Visibility spectra", Width: "100%", Height: "480px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Amplitude", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "bin", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "|V|", Type: "log"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "inside"}),
	)
	amp.SetXAxis(bins)

	phase := charts.NewLine()
	phase.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Phase"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "bin", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "rad", Min: -3.1416, Max: 3.1416}),
	)
	phase.SetXAxis(bins)

	channels := channelsFor(rec.Products.Products())
	series := 0
	for k, pair := range l3correlate.Pairs(channels) {
		if (filter == "auto" && !pair.IsAuto()) || (filter == "cross" && pair.IsAuto()) {
			continue
		}
		row := rec.Products[k]
		ampData := make([]opts.LineData, len(row))
		for b, v := range amplitude(row) {
			ampData[b] = opts.LineData{Value: v}
		}
		amp.AddSeries(pair.String(), ampData, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
		series++

		if pair.IsAuto() {
			continue
		}
		phaseData := make([]opts.LineData, len(row))
		for b, v := range row {
			phaseData[b] = opts.LineData{Value: cmplx.Phase(v)}
		}
		phase.AddSeries(pair.String(), phaseData, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	}
	if series == 0 {
		writeJSONError(w, http.StatusNotFound, "no products match the pair filter")
		return
	}

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(amp)
	if filter != "auto" {
		page.AddCharts(phase)
	}

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
