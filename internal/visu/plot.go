package visu

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

const dpi = 100

func pngPath(name string) string {
	if strings.HasSuffix(name, ".png") {
		return name
	}
	return name + ".png"
}

// saveTiles renders a grid of plots into one PNG; tile size is in inches.
func saveTiles(plots [][]*plot.Plot, tileW, tileH float64, filename string) (string, error) {
	path := pngPath(filename)
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("cannot create directory: %w", err)
		}
	}
	rows := len(plots)
	cols := len(plots[0])

	w := vg.Length(tileW*float64(cols)) * vg.Inch
	h := vg.Length(tileH*float64(rows)) * vg.Inch
	c := vgimg.NewWith(vgimg.UseWH(w, h), vgimg.UseDPI(dpi))
	dc := draw.New(c)

	tiles := draw.Tiles{
		Rows: rows, Cols: cols,
		PadX: vg.Millimeter, PadY: vg.Millimeter,
		PadTop: vg.Points(2), PadBottom: vg.Points(2),
		PadLeft: vg.Points(2), PadRight: vg.Points(2),
	}
	canvases := plot.Align(plots, tiles, dc)
	for j := range plots {
		for i := range plots[j] {
			if plots[j][i] != nil {
				plots[j][i].Draw(canvases[j][i])
			}
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("cannot create png: %w", err)
	}
	bw := bufio.NewWriter(f)
	png := vgimg.PngCanvas{Canvas: c}
	if _, err := png.WriteTo(bw); err != nil {
		f.Close()
		return "", fmt.Errorf("cannot write png: %w", err)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return "", err
	}
	return path, f.Close()
}

func stylePlot(p *plot.Plot) {
	p.Title.TextStyle.Font.Size = vg.Points(9)
	p.X.Label.TextStyle.Font.Size = vg.Points(7)
	p.Y.Label.TextStyle.Font.Size = vg.Points(7)
	p.X.Tick.Label.Font.Size = vg.Points(5)
	p.Y.Tick.Label.Font.Size = vg.Points(5)
	p.Legend.TextStyle.Font.Size = vg.Points(6)
	p.Legend.Top = true
}

// scatter1D plots each value series against coord, one row per key and one
// column per timestamp segment.
func scatter1D(filename string, coord []float64, values [][]float64, keys []string, timestamps int) (string, error) {
	n := len(coord) / timestamps
	plots := make([][]*plot.Plot, len(keys))
	for i, key := range keys {
		plots[i] = make([]*plot.Plot, timestamps)
		for t := 0; t < timestamps; t++ {
			lo, hi := t*n, (t+1)*n
			pts := make(plotter.XYs, hi-lo)
			for k := range pts {
				pts[k].X = coord[lo+k]
				pts[k].Y = values[i][lo+k]
			}
			s, err := plotter.NewScatter(pts)
			if err != nil {
				return "", fmt.Errorf("%s: %w", key, err)
			}
			s.GlyphStyle.Color = plotutil.Color(i)
			s.GlyphStyle.Radius = vg.Points(1)

			p := plot.New()
			stylePlot(p)
			if timestamps > 1 {
				p.Title.Text = fmt.Sprintf("%s(t=%d)", key, t)
			} else {
				p.Title.Text = key
			}
			p.Add(plotter.NewGrid(), s)
			p.Legend.Add(key, s)
			plots[i][t] = p
		}
	}
	return saveTiles(plots, 3, 2, filename)
}

var projections = [3][2]int{{0, 1}, {0, 2}, {1, 2}}
var axisNames = [3]string{"x", "y", "z"}

// trajectory3D draws each (n, 3) series as lines on the xy, xz and yz planes,
// one row of projections per timestamp segment.
func trajectory3D(filename string, series [][][3]float64, keys []string, timestamps int) (string, error) {
	n := len(series[0]) / timestamps
	plots := make([][]*plot.Plot, timestamps)
	for t := 0; t < timestamps; t++ {
		plots[t] = make([]*plot.Plot, len(projections))
		for j, pr := range projections {
			p := plot.New()
			stylePlot(p)
			p.X.Label.Text = axisNames[pr[0]]
			p.Y.Label.Text = axisNames[pr[1]]
			if timestamps > 1 {
				p.Title.Text = fmt.Sprintf("%s%s (t=%d)", axisNames[pr[0]], axisNames[pr[1]], t)
			}
			for i, s := range series {
				seg := s[t*n : (t+1)*n]
				pts := make(plotter.XYs, len(seg))
				for k, v := range seg {
					pts[k].X, pts[k].Y = v[pr[0]], v[pr[1]]
				}
				l, err := plotter.NewLine(pts)
				if err != nil {
					return "", fmt.Errorf("%s: %w", keys[i], err)
				}
				l.LineStyle.Color = plotutil.Color(i)
				l.LineStyle.Width = vg.Points(1)
				p.Add(l)
				if j == 0 {
					p.Legend.Add(keys[i], l)
				}
			}
			plots[t][j] = p
		}
	}
	return saveTiles(plots, 3, 3, filename)
}

type frameGrid struct {
	data       []float64
	rows, cols int
	x0, x1     float64
	y0, y1     float64
}

func (g frameGrid) Dims() (c, r int)   { return g.cols, g.rows }
func (g frameGrid) Z(c, r int) float64 { return g.data[r*g.cols+c] }
func (g frameGrid) X(c int) float64    { return lerp(g.x0, g.x1, c, g.cols) }
func (g frameGrid) Y(r int) float64    { return lerp(g.y0, g.y1, r, g.rows) }

func lerp(a, b float64, i, n int) float64 {
	if n < 2 {
		return a
	}
	return a + (b-a)*float64(i)/float64(n-1)
}

func extent(ticks []float64, n int) (float64, float64) {
	if len(ticks) == 0 {
		return 0, float64(n - 1)
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, t := range ticks {
		lo, hi = math.Min(lo, t), math.Max(hi, t)
	}
	return lo, hi
}

func constantTicks(ticks []float64) plot.ConstantTicks {
	out := make(plot.ConstantTicks, len(ticks))
	for i, v := range ticks {
		out[i] = plot.Tick{Value: v, Label: fmt.Sprintf("%g", v)}
	}
	return out
}

// frameSeries is one (T, H, W) output: T frames of H rows by W columns.
type frameSeries struct {
	key                string
	frames, rows, cols int
	data               []float64
}

func (s frameSeries) frame(t int) []float64 {
	n := s.rows * s.cols
	return s.data[t*n : (t+1)*n]
}

func dataRange(v []float64) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, x := range v {
		lo, hi = math.Min(lo, x), math.Max(hi, x)
	}
	return lo, hi
}

// grid2D renders every stride-th frame of each series as a heat map, one row
// per series. When a key names a target, its colour range is shared by the
// series that follow it.
func grid2D(filename string, series []frameSeries, stride int, xticks, yticks []float64) (string, int, error) {
	frames := (series[0].frames + stride - 1) / stride
	targets := false
	for _, s := range series {
		if strings.Contains(s.key, "target") {
			targets = true
		}
	}

	pal := moreland.BlackBody().Palette(255)
	x0, x1 := extent(xticks, series[0].cols)
	y0, y1 := extent(yticks, series[0].rows)

	plots := make([][]*plot.Plot, len(series))
	var cMin, cMax float64
	haveRange := false
	for i, s := range series {
		if !targets || strings.Contains(s.key, "target") || !haveRange {
			cMin, cMax = dataRange(s.data)
			haveRange = true
		}
		lo, hi := cMin, cMax
		if hi <= lo {
			hi = lo + 1
		}
		plots[i] = make([]*plot.Plot, frames)
		for k := 0; k < frames; k++ {
			t := k * stride
			g := frameGrid{data: s.frame(t), rows: s.rows, cols: s.cols, x0: x0, x1: x1, y0: y0, y1: y1}
			hm := plotter.NewHeatMap(g, pal)
			hm.Min, hm.Max = lo, hi

			p := plot.New()
			stylePlot(p)
			p.Title.Text = fmt.Sprintf("t=%d", t)
			if k == 0 {
				p.Y.Label.Text = s.key
			}
			if len(xticks) > 0 {
				p.X.Tick.Marker = constantTicks(xticks)
			}
			if len(yticks) > 0 {
				p.Y.Tick.Marker = constantTicks(yticks)
			}
			p.Add(hm)
			plots[i][k] = p
		}
	}
	path, err := saveTiles(plots, 1.5, 1.5, filename)
	return path, frames, err
}
