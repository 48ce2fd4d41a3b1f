package charts

// Renders a compact line chart of a watcher's recent reconciled values,
// attached to the /watcher detail command.

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fogleman/gg"

	"watcher-hub/internal/watcher"
)

const (
	chartWidth  = 900
	chartHeight = 320

	plotLeft   = 70.0
	plotRight  = 870.0
	plotTop    = 60.0
	plotBottom = 280.0

	titleX = 70.0
	titleY = 36.0

	gridLinesCount = 4
	pointRadius    = 3.0
	lineWidth      = 2.5
)

var (
	backgroundColor = color.RGBA{R: 16, G: 20, B: 28, A: 255}
	gridColor       = color.RGBA{R: 52, G: 60, B: 72, A: 255}
	lineColor       = color.RGBA{R: 76, G: 200, B: 120, A: 255}
	textColor       = color.RGBA{R: 220, G: 224, B: 230, A: 255}
)

// RenderHistory draws the value history into dir and returns the PNG path.
// At least two points are required to draw a line.
func RenderHistory(dir, name string, points []watcher.HistoryPoint) (string, error) {
	if len(points) < 2 {
		return "", fmt.Errorf("not enough history points: %d", len(points))
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create charts directory: %w", err)
	}

	dc := gg.NewContext(chartWidth, chartHeight)
	dc.SetColor(backgroundColor)
	dc.Clear()

	minVal, maxVal := valueRange(points)
	span := maxVal - minVal
	if span == 0 {
		// Flat series: pad the range so the line sits mid-plot.
		span = 1
		minVal -= 0.5
	}

	// Grid and y-axis labels.
	dc.SetColor(gridColor)
	dc.SetLineWidth(1)
	for i := 0; i <= gridLinesCount; i++ {
		frac := float64(i) / float64(gridLinesCount)
		y := plotBottom - frac*(plotBottom-plotTop)
		dc.DrawLine(plotLeft, y, plotRight, y)
		dc.Stroke()

		dc.SetColor(textColor)
		label := fmt.Sprintf("%.4g", minVal+frac*span)
		dc.DrawStringAnchored(label, plotLeft-8, y, 1, 0.5)
		dc.SetColor(gridColor)
	}

	// Value line.
	dc.SetColor(lineColor)
	dc.SetLineWidth(lineWidth)
	step := (plotRight - plotLeft) / float64(len(points)-1)
	for i, p := range points {
		x := plotLeft + float64(i)*step
		y := plotBottom - (p.Value.InexactFloat64()-minVal)/span*(plotBottom-plotTop)
		if i == 0 {
			dc.MoveTo(x, y)
		} else {
			dc.LineTo(x, y)
		}
	}
	dc.Stroke()

	// Last point marker.
	last := points[len(points)-1]
	lastX := plotRight
	lastY := plotBottom - (last.Value.InexactFloat64()-minVal)/span*(plotBottom-plotTop)
	dc.DrawCircle(lastX, lastY, pointRadius)
	dc.Fill()

	// Title and time labels.
	dc.SetColor(textColor)
	dc.DrawString(name, titleX, titleY)
	dc.DrawStringAnchored(points[0].At.Format("02 Jan 15:04"), plotLeft, plotBottom+20, 0, 0.5)
	dc.DrawStringAnchored(last.At.Format("02 Jan 15:04"), plotRight, plotBottom+20, 1, 0.5)

	path := filepath.Join(dir, chartFileName(name))
	if err := dc.SavePNG(path); err != nil {
		return "", fmt.Errorf("failed to save chart: %w", err)
	}
	return path, nil
}

func valueRange(points []watcher.HistoryPoint) (minVal, maxVal float64) {
	minVal = points[0].Value.InexactFloat64()
	maxVal = minVal
	for _, p := range points[1:] {
		v := p.Value.InexactFloat64()
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
	}
	return minVal, maxVal
}

func chartFileName(name string) string {
	slug := strings.ToLower(name)
	slug = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, slug)
	return fmt.Sprintf("history_%s_%d.png", slug, time.Now().Unix())
}
