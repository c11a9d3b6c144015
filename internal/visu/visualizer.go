// Package visu turns named arrays into plot images and mesh files.
package visu

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/san-kum/pinnflow/internal/tensor"
)

// ErrUnsupportedRank reports an output array whose rank the visualizer kind
// cannot lay out.
var ErrUnsupportedRank = errors.New("unsupported array rank")

type Kind int

const (
	Scatter1D Kind = iota
	Scatter3D
	Vtu
	Vtu3D
	Plot2D
	Plot2DRendered
)

var kindNames = map[Kind]string{
	Scatter1D:      "scatter1d",
	Scatter3D:      "scatter3d",
	Vtu:            "vtu",
	Vtu3D:          "vtu3d",
	Plot2D:         "plot2d",
	Plot2DRendered: "plot2d-rendered",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown visualizer kind: %s", s)
}

// DefaultPrefix is the file name prefix used when none is configured.
func (k Kind) DefaultPrefix() string {
	switch k {
	case Scatter1D:
		return "plot"
	case Scatter3D:
		return "plot3d_scatter"
	case Vtu:
		return "vtu"
	case Vtu3D:
		return "plot3d"
	default:
		return "plot2d"
	}
}

// Fields is an insertion-ordered set of named arrays.
type Fields struct {
	keys   []string
	vals   map[string]tensor.Array
	offset int
}

func NewFields() *Fields {
	return &Fields{vals: map[string]tensor.Array{}}
}

func (f *Fields) Set(key string, a tensor.Array) *Fields {
	if _, ok := f.vals[key]; !ok {
		f.keys = append(f.keys, key)
	}
	f.vals[key] = a
	return f
}

func (f *Fields) Get(key string) (tensor.Array, bool) {
	a, ok := f.vals[key]
	return a, ok
}

// Offset is the row of the full input where these fields start. Batches
// handed to an Expr carry their start row; whole inputs report 0.
func (f *Fields) Offset() int { return f.offset }

func (f *Fields) Keys() []string { return append([]string(nil), f.keys...) }
func (f *Fields) Len() int       { return len(f.keys) }

func (f *Fields) rows(lo, hi int) *Fields {
	out := NewFields()
	for _, k := range f.keys {
		out.Set(k, f.vals[k].Rows(lo, hi))
	}
	out.offset = f.offset + lo
	return out
}

// Expr derives one output array from the input fields.
type Expr struct {
	Name string
	Fn   func(in *Fields) (tensor.Array, error)
}

// Field is an Expr returning the input array key unchanged.
func Field(key string) Expr {
	return Expr{Name: key, Fn: func(in *Fields) (tensor.Array, error) {
		a, ok := in.Get(key)
		if !ok {
			return tensor.Array{}, fmt.Errorf("no input field %q", key)
		}
		return a, nil
	}}
}

type Options struct {
	BatchSize     int
	NumTimestamps int
	Prefix        string

	// Scatter1D only.
	CoordKeys []string

	// Plot2DRendered only.
	Stride         int
	XTicks, YTicks []float64
}

func DefaultOptions() Options {
	return Options{BatchSize: 64, NumTimestamps: 1, Stride: 1}
}

type Visualizer struct {
	kind       Kind
	input      *Fields
	exprs      []Expr
	opts       Options
	outputKeys []string
}

// Artifact is one written file and the number of frames it holds.
type Artifact struct {
	Path   string
	Frames int
}

func New(kind Kind, input *Fields, exprs []Expr, opts Options) (*Visualizer, error) {
	if _, ok := kindNames[kind]; !ok {
		return nil, fmt.Errorf("unknown visualizer kind %d", int(kind))
	}
	if len(exprs) == 0 {
		return nil, fmt.Errorf("%s: no output expressions", kind)
	}
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("%s: batch size must be positive, got %d", kind, opts.BatchSize)
	}
	if opts.NumTimestamps <= 0 {
		return nil, fmt.Errorf("%s: number of timestamps must be positive, got %d", kind, opts.NumTimestamps)
	}
	if opts.Prefix == "" {
		opts.Prefix = kind.DefaultPrefix()
	}
	if kind != Plot2DRendered {
		opts.Stride, opts.XTicks, opts.YTicks = 1, nil, nil
	}
	if opts.Stride <= 0 {
		return nil, fmt.Errorf("%s: stride must be positive, got %d", kind, opts.Stride)
	}
	if kind == Scatter1D && len(opts.CoordKeys) == 0 {
		return nil, fmt.Errorf("%s: coordinate keys required", kind)
	}
	if input == nil {
		input = NewFields()
	}

	v := &Visualizer{kind: kind, input: input, exprs: append([]Expr(nil), exprs...), opts: opts}
	seen := map[string]bool{}
	for _, e := range exprs {
		if seen[e.Name] {
			return nil, fmt.Errorf("%s: duplicate output %q", kind, e.Name)
		}
		seen[e.Name] = true
		v.outputKeys = append(v.outputKeys, e.Name)
	}
	return v, nil
}

func (v *Visualizer) Kind() Kind           { return v.kind }
func (v *Visualizer) Prefix() string       { return v.opts.Prefix }
func (v *Visualizer) InputKeys() []string  { return v.input.Keys() }
func (v *Visualizer) OutputKeys() []string { return append([]string(nil), v.outputKeys...) }
func (v *Visualizer) Input() *Fields       { return v.input }
func (v *Visualizer) Options() Options     { return v.opts }

// Evaluate applies the output expressions BatchSize rows at a time and
// returns the inputs followed by the concatenated outputs.
func (v *Visualizer) Evaluate() (*Fields, error) {
	n := -1
	for _, k := range v.input.keys {
		a := v.input.vals[k]
		if a.Rank() == 0 {
			return nil, fmt.Errorf("input %q is a scalar", k)
		}
		if n >= 0 && a.Len() != n {
			return nil, fmt.Errorf("input %q has %d rows, want %d", k, a.Len(), n)
		}
		n = a.Len()
	}

	out := NewFields()
	for _, k := range v.input.keys {
		out.Set(k, v.input.vals[k])
	}

	if n < 0 {
		// no inputs: expressions are evaluated once
		for _, e := range v.exprs {
			a, err := e.Fn(v.input)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", e.Name, err)
			}
			out.Set(e.Name, a)
		}
		return out, nil
	}

	parts := make([][]tensor.Array, len(v.exprs))
	for lo := 0; lo < n; lo += v.opts.BatchSize {
		hi := min(lo+v.opts.BatchSize, n)
		batch := v.input.rows(lo, hi)
		for i, e := range v.exprs {
			a, err := e.Fn(batch)
			if err != nil {
				return nil, fmt.Errorf("%s: rows [%d,%d): %w", e.Name, lo, hi, err)
			}
			parts[i] = append(parts[i], a)
		}
	}
	for i, e := range v.exprs {
		if len(parts[i]) == 0 {
			out.Set(e.Name, tensor.New(0))
			continue
		}
		a, err := tensor.VStack(parts[i]...)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name, err)
		}
		out.Set(e.Name, a)
	}
	return out, nil
}

// Save writes data under filename and returns the files produced.
func (v *Visualizer) Save(filename string, data *Fields) ([]Artifact, error) {
	first, ok := data.Get(v.outputKeys[0])
	if !ok {
		return nil, fmt.Errorf("%s: output %q missing", v.kind, v.outputKeys[0])
	}

	switch v.kind {
	case Scatter1D:
		a, err := v.saveScatter1D(filename, data)
		if err != nil {
			return nil, err
		}
		return []Artifact{a}, nil

	case Scatter3D:
		switch first.Rank() {
		case 3:
			var out []Artifact
			for i := 0; i < first.Len(); i++ {
				a, err := v.saveScatter3D(filename+strconv.Itoa(i), v.selectBatch(data, i))
				if err != nil {
					return out, err
				}
				out = append(out, a)
			}
			return out, nil
		case 2:
			a, err := v.saveScatter3D(filename, data)
			if err != nil {
				return nil, err
			}
			return []Artifact{a}, nil
		}

	case Vtu, Vtu3D:
		return v.saveVTU(filename, data)

	case Plot2D, Plot2DRendered:
		switch first.Rank() {
		case 4:
			var out []Artifact
			for i := 0; i < first.Len(); i++ {
				a, err := v.save2D(filename+strconv.Itoa(i), v.selectBatch(data, i))
				if err != nil {
					return out, err
				}
				out = append(out, a)
			}
			return out, nil
		case 3:
			a, err := v.save2D(filename, data)
			if err != nil {
				return nil, err
			}
			return []Artifact{a}, nil
		}
	}
	return nil, fmt.Errorf("%s: %w: output %q has shape %v", v.kind, ErrUnsupportedRank, v.outputKeys[0], first.Shape)
}

// selectBatch takes element i of every output array.
func (v *Visualizer) selectBatch(data *Fields, i int) *Fields {
	out := NewFields()
	for _, k := range v.outputKeys {
		if a, ok := data.Get(k); ok && a.Rank() > 0 && i < a.Len() {
			out.Set(k, a.Index(i))
		}
	}
	return out
}

func (v *Visualizer) outputs(data *Fields) ([]tensor.Array, error) {
	out := make([]tensor.Array, len(v.outputKeys))
	for i, k := range v.outputKeys {
		a, ok := data.Get(k)
		if !ok {
			return nil, fmt.Errorf("%s: output %q missing", v.kind, k)
		}
		out[i] = a
	}
	return out, nil
}

// column flattens a (n,) or (n, 1) array.
func column(key string, a tensor.Array) ([]float64, error) {
	switch {
	case a.Rank() == 1, a.Rank() == 2 && a.Cols() == 1:
		return a.Data, nil
	}
	return nil, fmt.Errorf("%w: %q has shape %v, want a single column", ErrUnsupportedRank, key, a.Shape)
}

func (v *Visualizer) segments(n int) (int, error) {
	ts := v.opts.NumTimestamps
	if n%ts != 0 {
		return 0, fmt.Errorf("%s: %d rows do not split into %d timestamps", v.kind, n, ts)
	}
	return ts, nil
}

func (v *Visualizer) saveScatter1D(filename string, data *Fields) (Artifact, error) {
	var coordKey string
	spatial := 0
	for _, k := range v.opts.CoordKeys {
		if k != "t" {
			if coordKey == "" {
				coordKey = k
			}
			spatial++
		}
	}
	if spatial < 1 || spatial > 3 {
		return Artifact{}, fmt.Errorf("%s: %d spatial coordinate keys, want 1 to 3", v.kind, spatial)
	}
	ca, ok := data.Get(coordKey)
	if !ok {
		return Artifact{}, fmt.Errorf("%s: coordinate %q missing", v.kind, coordKey)
	}
	coord, err := column(coordKey, ca)
	if err != nil {
		return Artifact{}, err
	}
	outs, err := v.outputs(data)
	if err != nil {
		return Artifact{}, err
	}
	values := make([][]float64, len(outs))
	for i, a := range outs {
		if values[i], err = column(v.outputKeys[i], a); err != nil {
			return Artifact{}, err
		}
		if len(values[i]) != len(coord) {
			return Artifact{}, fmt.Errorf("%s: %q has %d values for %d coordinates", v.kind, v.outputKeys[i], len(values[i]), len(coord))
		}
	}
	ts, err := v.segments(len(coord))
	if err != nil {
		return Artifact{}, err
	}
	path, err := scatter1D(filename, coord, values, v.outputKeys, ts)
	return Artifact{Path: path, Frames: ts}, err
}

func (v *Visualizer) saveScatter3D(filename string, data *Fields) (Artifact, error) {
	outs, err := v.outputs(data)
	if err != nil {
		return Artifact{}, err
	}
	series := make([][][3]float64, len(outs))
	for i, a := range outs {
		if a.Rank() != 2 || a.Cols() != 3 {
			return Artifact{}, fmt.Errorf("%s: %w: %q has shape %v, want (T, 3)", v.kind, ErrUnsupportedRank, v.outputKeys[i], a.Shape)
		}
		if a.Len() != outs[0].Len() {
			return Artifact{}, fmt.Errorf("%s: %q has %d rows, want %d", v.kind, v.outputKeys[i], a.Len(), outs[0].Len())
		}
		s := make([][3]float64, a.Len())
		for r := range s {
			s[r] = [3]float64{a.At(r, 0), a.At(r, 1), a.At(r, 2)}
		}
		series[i] = s
	}
	if outs[0].Len() == 0 {
		return Artifact{}, fmt.Errorf("%s: empty output %q", v.kind, v.outputKeys[0])
	}
	ts, err := v.segments(outs[0].Len())
	if err != nil {
		return Artifact{}, err
	}
	path, err := trajectory3D(filename, series, v.outputKeys, ts)
	return Artifact{Path: path, Frames: ts}, err
}

func (v *Visualizer) save2D(filename string, data *Fields) (Artifact, error) {
	outs, err := v.outputs(data)
	if err != nil {
		return Artifact{}, err
	}
	series := make([]frameSeries, len(outs))
	for i, a := range outs {
		if a.Rank() != 3 {
			return Artifact{}, fmt.Errorf("%s: %w: %q has shape %v, want (T, H, W)", v.kind, ErrUnsupportedRank, v.outputKeys[i], a.Shape)
		}
		if !a.SameShape(outs[0]) {
			return Artifact{}, fmt.Errorf("%s: %q has shape %v, want %v", v.kind, v.outputKeys[i], a.Shape, outs[0].Shape)
		}
		series[i] = frameSeries{key: v.outputKeys[i], frames: a.Shape[0], rows: a.Shape[1], cols: a.Shape[2], data: a.Data}
	}
	if series[0].frames == 0 || series[0].rows == 0 || series[0].cols == 0 {
		return Artifact{}, fmt.Errorf("%s: empty frames in %q", v.kind, v.outputKeys[0])
	}
	path, frames, err := grid2D(filename, series, v.opts.Stride, v.opts.XTicks, v.opts.YTicks)
	return Artifact{Path: path, Frames: frames}, err
}

// saveVTU writes one point cloud per timestamp. Inputs other than t and sdf
// are the coordinates; two coordinates get a zero z.
func (v *Visualizer) saveVTU(filename string, data *Fields) ([]Artifact, error) {
	var coords [][]float64
	var names []string
	for _, k := range v.input.keys {
		if k == "t" || k == "sdf" {
			continue
		}
		a, ok := data.Get(k)
		if !ok {
			return nil, fmt.Errorf("%s: coordinate %q missing", v.kind, k)
		}
		c, err := column(k, a)
		if err != nil {
			return nil, err
		}
		coords = append(coords, c)
		names = append(names, k)
	}
	if len(coords) < 2 || len(coords) > 3 {
		return nil, fmt.Errorf("%s: %d coordinate keys %v, want 2 or 3", v.kind, len(coords), names)
	}
	n := len(coords[0])
	for i, c := range coords {
		if len(c) != n {
			return nil, fmt.Errorf("%s: coordinate %q has %d values, want %d", v.kind, names[i], len(c), n)
		}
	}

	outs, err := v.outputs(data)
	if err != nil {
		return nil, err
	}
	values := make([][]float64, len(outs))
	for i, a := range outs {
		if values[i], err = column(v.outputKeys[i], a); err != nil {
			return nil, fmt.Errorf("%s: %w", v.kind, err)
		}
		if len(values[i]) != n {
			return nil, fmt.Errorf("%s: %q has %d values for %d points", v.kind, v.outputKeys[i], len(values[i]), n)
		}
	}

	ts, err := v.segments(n)
	if err != nil {
		return nil, err
	}
	per := n / ts
	var out []Artifact
	for t := 0; t < ts; t++ {
		lo, hi := t*per, (t+1)*per
		pts := tensor.New(per, 3)
		for r := 0; r < per; r++ {
			for c := range coords {
				pts.Set(r, c, coords[c][lo+r])
			}
		}
		pc := PointCloud{Points: pts, Names: v.OutputKeys()}
		for i := range values {
			pc.Values = append(pc.Values, values[i][lo:hi])
		}
		name := filename
		if ts > 1 {
			name = fmt.Sprintf("%s_t-%d", filename, t)
		}
		path, err := SaveVTU(name, pc)
		if err != nil {
			return out, err
		}
		out = append(out, Artifact{Path: path, Frames: 1})
	}
	return out, nil
}
