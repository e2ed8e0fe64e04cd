// Package pathplot renders a top-down picture of the loop state: the path,
// the configured stop lines, the associated lights colored by their last
// reported state, and the vehicle.
package pathplot

import (
	"fmt"
	"image/color"
	"io"

	"github.com/banshee-data/stopline/internal/stopline"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

var (
	pathColor     = color.RGBA{R: 90, G: 90, B: 90, A: 255}
	stopLineColor = color.RGBA{R: 20, G: 60, B: 200, A: 255}
	carColor      = color.RGBA{R: 0, G: 0, B: 0, A: 255}
)

// lightColor maps a light state to its plot color.
func lightColor(c stopline.LightColor) color.Color {
	switch c {
	case stopline.Red:
		return color.RGBA{R: 220, G: 30, B: 30, A: 255}
	case stopline.Yellow:
		return color.RGBA{R: 230, G: 180, B: 0, A: 255}
	case stopline.Green:
		return color.RGBA{R: 30, G: 170, B: 60, A: 255}
	default:
		return color.RGBA{R: 150, G: 150, B: 150, A: 255}
	}
}

// Size of the rendered image.
type Size struct {
	Width, Height vg.Length
}

var DefaultSize = Size{Width: 8 * vg.Inch, Height: 8 * vg.Inch}

// Build assembles the plot for s.
func Build(s stopline.Snapshot) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("tick %d, stop index %d", s.Signal.Tick, s.Signal.StopIndex)
	p.X.Label.Text = "x (m)"
	p.Y.Label.Text = "y (m)"
	p.Add(plotter.NewGrid())

	if len(s.Path) > 0 {
		// close the loop
		pts := make(plotter.XYs, 0, len(s.Path)+1)
		for _, v := range s.Path {
			pts = append(pts, plotter.XY{X: v.X, Y: v.Y})
		}
		pts = append(pts, pts[0])
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, fmt.Errorf("path line: %w", err)
		}
		line.Color = pathColor
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add("path", line)
	}

	if len(s.StopLines) > 0 {
		pts := make(plotter.XYs, len(s.StopLines))
		for i, v := range s.StopLines {
			pts[i] = plotter.XY{X: v.X, Y: v.Y}
		}
		sc, err := plotter.NewScatter(pts)
		if err != nil {
			return nil, fmt.Errorf("stop lines: %w", err)
		}
		sc.GlyphStyle.Color = stopLineColor
		sc.GlyphStyle.Shape = draw.BoxGlyph{}
		sc.GlyphStyle.Radius = vg.Points(4)
		p.Add(sc)
		p.Legend.Add("stop lines", sc)
	}

	if len(s.Associations) > 0 {
		pts := make(plotter.XYs, len(s.Associations))
		for i, a := range s.Associations {
			pts[i] = plotter.XY{X: a.Position.X, Y: a.Position.Y}
		}
		sc, err := plotter.NewScatter(pts)
		if err != nil {
			return nil, fmt.Errorf("lights: %w", err)
		}
		sc.GlyphStyle.Shape = draw.CircleGlyph{}
		sc.GlyphStyle.Radius = vg.Points(4)
		sc.GlyphStyleFunc = func(i int) draw.GlyphStyle {
			gs := sc.GlyphStyle
			gs.Color = lightColor(s.Associations[i].LastColor)
			if s.Associations[i].PathIndex == s.Signal.LightIndex {
				gs.Radius = vg.Points(7)
			}
			return gs
		}
		p.Add(sc)
		p.Legend.Add("lights", sc)
	}

	if s.Pose != nil {
		sc, err := plotter.NewScatter(plotter.XYs{{X: s.Pose.X, Y: s.Pose.Y}})
		if err != nil {
			return nil, fmt.Errorf("car: %w", err)
		}
		sc.GlyphStyle.Color = carColor
		sc.GlyphStyle.Shape = draw.TriangleGlyph{}
		sc.GlyphStyle.Radius = vg.Points(5)
		p.Add(sc)
		p.Legend.Add("car", sc)
	}

	return p, nil
}

// WritePNG renders s as a PNG to w.
func WritePNG(w io.Writer, s stopline.Snapshot, size Size) error {
	p, err := Build(s)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(size.Width, size.Height, "png")
	if err != nil {
		return fmt.Errorf("failed to create png writer: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write png: %w", err)
	}
	return nil
}

// SaveFile renders s to path; the format follows the file extension.
func SaveFile(path string, s stopline.Snapshot, size Size) error {
	p, err := Build(s)
	if err != nil {
		return err
	}
	if err := p.Save(size.Width, size.Height, path); err != nil {
		return fmt.Errorf("failed to save plot %s: %w", path, err)
	}
	return nil
}
