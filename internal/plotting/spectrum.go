// Package plotting renders accumulated visibility records as PNG spectra.
package plotting

import (
	"fmt"
	"image/color"
	"math"
	"math/cmplx"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/visibility.report/internal/interferometer/l3correlate"
	"github.com/banshee-data/visibility.report/internal/interferometer/l4accumulate"
)

// minAmplitude floors |V| before conversion to decibels.
const minAmplitude = 1e-12

// SpectrumPlotter writes amplitude and phase spectra of records into a
// directory, one pair of PNGs per record.
type SpectrumPlotter struct {
	outputDir string
	width     vg.Length
	height    vg.Length
	crossOnly bool
}

// NewSpectrumPlotter creates a plotter writing into outputDir, creating it
// if needed. With crossOnly set, autocorrelations are left out of the
// amplitude plot.
func NewSpectrumPlotter(outputDir string, crossOnly bool) (*SpectrumPlotter, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &SpectrumPlotter{
		outputDir: outputDir,
		width:     14 * vg.Inch,
		height:    6 * vg.Inch,
		crossOnly: crossOnly,
	}, nil
}

// AmplitudeDB returns 20·log10|v| per bin.
func AmplitudeDB(values []complex128) []float64 {
	out := make([]float64, len(values))
	for b, v := range values {
		out[b] = 20 * math.Log10(math.Max(cmplx.Abs(v), minAmplitude))
	}
	return out
}

// Phase returns arg(v) in radians per bin.
func Phase(values []complex128) []float64 {
	out := make([]float64, len(values))
	for b, v := range values {
		out[b] = cmplx.Phase(v)
	}
	return out
}

// PlotRecord renders one record and returns the written file paths.
func (sp *SpectrumPlotter) PlotRecord(name string, rec *l4accumulate.Record) ([]string, error) {
	products := rec.Products.Products()
	channels := 1
	for l3correlate.NumProducts(channels) < products {
		channels++
	}
	if l3correlate.NumProducts(channels) != products {
		return nil, fmt.Errorf("record has %d products, not a triangle", products)
	}
	pairs := l3correlate.Pairs(channels)
	colors := generateColors(len(pairs))

	pAmp := plot.New()
	pAmp.Title.Text = fmt.Sprintf("%s - Amplitude (start %d, depth %d)", name, rec.StartSequenceIndex, rec.Depth())
	pAmp.X.Label.Text = "Bin"
	pAmp.Y.Label.Text = "|V| (dB)"

	pPhase := plot.New()
	pPhase.Title.Text = fmt.Sprintf("%s - Phase", name)
	pPhase.X.Label.Text = "Bin"
	pPhase.Y.Label.Text = "Phase (rad)"
	pPhase.Y.Min, pPhase.Y.Max = -math.Pi, math.Pi

	for k, pair := range pairs {
		if sp.crossOnly && pair.IsAuto() {
			continue
		}
		if err := addLine(pAmp, pair.String(), AmplitudeDB(rec.Products[k]), colors[k]); err != nil {
			return nil, err
		}
		if !pair.IsAuto() {
			if err := addLine(pPhase, pair.String(), Phase(rec.Products[k]), colors[k]); err != nil {
				return nil, err
			}
		}
	}

	for _, p := range []*plot.Plot{pAmp, pPhase} {
		p.Legend.Top = true
		p.Legend.Left = false
		p.Legend.XOffs = -10
		p.Legend.YOffs = -10
	}

	ampFile := filepath.Join(sp.outputDir, name+"_amplitude.png")
	if err := pAmp.Save(sp.width, sp.height, ampFile); err != nil {
		return nil, fmt.Errorf("save amplitude plot: %w", err)
	}
	written := []string{ampFile}
	if channels > 1 {
		phaseFile := filepath.Join(sp.outputDir, name+"_phase.png")
		if err := pPhase.Save(sp.width, sp.height, phaseFile); err != nil {
			return nil, fmt.Errorf("save phase plot: %w", err)
		}
		written = append(written, phaseFile)
	}
	return written, nil
}

func addLine(p *plot.Plot, label string, ys []float64, c color.Color) error {
	pts := make(plotter.XYs, len(ys))
	for b, y := range ys {
		pts[b] = plotter.XY{X: float64(b), Y: y}
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	line.Color = c
	line.Width = vg.Points(1)
	p.Add(line)
	p.Legend.Add(label, line)
	return nil
}

// generateColors spreads n hues evenly around the colour wheel.
func generateColors(n int) []color.Color {
	colors := make([]color.Color, n)
	for i := range colors {
		r, g, b := hslToRGB(float64(i)/float64(n), 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

func hslToRGB(h, s, l float64) (r, g, b uint8) {
	q := l + s - l*s
	if l < 0.5 {
		q = l * (1 + s)
	}
	p := 2*l - q
	conv := func(t float64) uint8 {
		if t < 0 {
			t++
		}
		if t > 1 {
			t--
		}
		var v float64
		switch {
		case t < 1.0/6:
			v = p + (q-p)*6*t
		case t < 0.5:
			v = q
		case t < 2.0/3:
			v = p + (q-p)*(2.0/3-t)*6
		default:
			v = p
		}
		return uint8(math.Round(v * 255))
	}
	return conv(h + 1.0/3), conv(h), conv(h - 1.0/3)
}
