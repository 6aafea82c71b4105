package web

import (
	"fmt"
	"strings"

	"github.com/sweeney/turbulence-sensor/internal/logic"
)

const (
	chartWidth  = 600
	chartHeight = 160
)

// chart is a server-rendered SVG polyline of a history buffer.
type chart struct {
	Width, Height int
	Points        string
	Baseline      string // y of 1 G
	Bands         []band
}

// band shades the region within ±d of 1 G. Bands are drawn widest first,
// so whatever lies outside every band is the SEVERE background.
type band struct {
	Class     string
	Top, Span string
}

// yScale maps G-force to SVG y within [lo, hi].
type yScale struct{ lo, hi float64 }

func (s yScale) y(g float64) float64 {
	return float64(chartHeight) * (s.hi - g) / (s.hi - s.lo)
}

func newChart(history []float64, th logic.Thresholds) chart {
	s := yScale{lo: 0.8, hi: 1.2}
	for _, g := range history {
		s.lo = min(s.lo, g)
		s.hi = max(s.hi, g)
	}

	c := chart{
		Width:    chartWidth,
		Height:   chartHeight,
		Baseline: fmt.Sprintf("%.1f", s.y(1)),
	}
	for _, b := range []struct {
		class string
		d     float64
	}{{"moderate", th.Moderate}, {"light", th.Light}, {"smooth", th.Smooth}} {
		top, bottom := s.y(1+b.d), s.y(1-b.d)
		c.Bands = append(c.Bands, band{
			Class: b.class,
			Top:   fmt.Sprintf("%.1f", top),
			Span:  fmt.Sprintf("%.1f", bottom-top),
		})
	}

	if len(history) < 2 {
		return c
	}
	var sb strings.Builder
	step := float64(chartWidth) / float64(len(history)-1)
	for i, g := range history {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%.1f,%.1f", float64(i)*step, s.y(g))
	}
	c.Points = sb.String()
	return c
}
