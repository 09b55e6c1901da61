package report

import (
	"bytes"
	"fmt"

	"github.com/fogleman/gg"

	"fairsim/internal/rank"
)

const (
	plotHeight  = 420
	plotTop     = 40
	plotBottom  = 70
	plotLeft    = 110
	plotRight   = 30
	slotWidth   = 70
	boxWidth    = 36
	groupGap    = 30
	tickCount   = 5
	domainLabel = 18
)

// palette cycles per domain.
var palette = [][3]float64{
	{0.20, 0.45, 0.70},
	{0.85, 0.45, 0.15},
	{0.25, 0.60, 0.30},
	{0.60, 0.30, 0.60},
	{0.70, 0.20, 0.20},
	{0.45, 0.45, 0.45},
}

// plotClusters draws one box per scenario, grouped by domain: the box spans
// the 25th to 75th percentile of annual loss, the line inside is the median
// and the whiskers reach the 5th and 95th percentiles.
func plotClusters(groups []rank.LossGroup) ([]byte, error) {
	var (
		slots int
		yMax  float64
		boxes = make([][]boxStats, len(groups))
	)
	for i, g := range groups {
		boxes[i] = make([]boxStats, len(g.Scenarios))
		for j, s := range g.Scenarios {
			q := quantiles(s.ALE)
			boxes[i][j] = q
			yMax = max(yMax, q.p95)
		}
		slots += len(g.Scenarios)
	}
	if yMax <= 0 {
		yMax = 1
	}
	yMax *= 1.05

	width := plotLeft + plotRight + slots*slotWidth + (len(groups)-1)*groupGap
	dc := gg.NewContext(width, plotHeight)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	plotH := float64(plotHeight - plotTop - plotBottom)
	y := func(v float64) float64 {
		return float64(plotTop) + plotH*(1-v/yMax)
	}

	// Axis and gridlines.
	dc.SetRGB(0.85, 0.85, 0.85)
	dc.SetLineWidth(1)
	for t := 0; t <= tickCount; t++ {
		v := yMax * float64(t) / tickCount
		dc.DrawLine(plotLeft, y(v), float64(width-plotRight), y(v))
		dc.Stroke()
	}
	dc.SetRGB(0, 0, 0)
	for t := 0; t <= tickCount; t++ {
		v := yMax * float64(t) / tickCount
		dc.DrawStringAnchored(Money(v), plotLeft-8, y(v), 1, 0.5)
	}
	dc.DrawLine(plotLeft, float64(plotTop), plotLeft, y(0))
	dc.Stroke()
	dc.DrawStringAnchored("Annual loss by scenario", float64(width)/2, float64(plotTop)/2, 0.5, 0.5)

	x := float64(plotLeft)
	for i, g := range groups {
		c := palette[i%len(palette)]
		start := x
		for j, s := range g.Scenarios {
			q := boxes[i][j]
			cx := x + slotWidth/2

			dc.SetRGB(c[0], c[1], c[2])
			dc.SetLineWidth(1.5)
			dc.DrawLine(cx, y(q.p5), cx, y(q.p25))
			dc.DrawLine(cx, y(q.p75), cx, y(q.p95))
			dc.DrawLine(cx-boxWidth/4, y(q.p5), cx+boxWidth/4, y(q.p5))
			dc.DrawLine(cx-boxWidth/4, y(q.p95), cx+boxWidth/4, y(q.p95))
			dc.Stroke()

			dc.SetRGBA(c[0], c[1], c[2], 0.35)
			dc.DrawRectangle(cx-boxWidth/2, y(q.p75), boxWidth, y(q.p25)-y(q.p75))
			dc.FillPreserve()
			dc.SetRGB(c[0], c[1], c[2])
			dc.Stroke()

			dc.SetLineWidth(2.5)
			dc.DrawLine(cx-boxWidth/2, y(q.p50), cx+boxWidth/2, y(q.p50))
			dc.Stroke()

			dc.SetRGB(0, 0, 0)
			dc.DrawStringAnchored(s.ScenarioID, cx, y(0)+14, 0.5, 0.5)
			x += slotWidth
		}
		dc.SetRGB(c[0], c[1], c[2])
		dc.DrawStringAnchored(g.DomainID, (start+x)/2, y(0)+14+domainLabel+8, 0.5, 0.5)
		x += groupGap
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
