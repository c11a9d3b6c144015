// Package solver assembles the training objective and runs it as a compiled
// program: fixed placeholders fed by name, one optimizer step per run.
package solver

import (
	"errors"
	"fmt"

	"github.com/san-kum/pinnflow/internal/geometry"
	"github.com/san-kum/pinnflow/internal/nn"
	"github.com/san-kum/pinnflow/internal/pde"
	"github.com/san-kum/pinnflow/internal/tensor"
)

// ErrShapeMismatch reports a fed array whose shape disagrees with its placeholder.
var ErrShapeMismatch = errors.New("shape mismatch")

// FeedDict maps placeholder names to arrays.
type FeedDict map[string]tensor.Array

func InputName(i int) string { return fmt.Sprintf("input%d", i) }
func LabelName(i int) string { return fmt.Sprintf("label%d", i) }

type Options struct {
	// DataWeight multiplies the reference-data term inside the square root.
	DataWeight float64
	// FDStep is the central-difference step for spatial derivatives.
	FDStep float64
	Rank   int
	NRanks int
}

func DefaultOptions() Options {
	return Options{DataWeight: 100, FDStep: 1e-3, Rank: 0, NRanks: 1}
}

type bcTerm struct {
	subset int
	field  int
	rhs    float64
	weight float64
}

// Program is the frozen computation: network, equations, placeholders and
// this rank's shard of every input subset.
type Program struct {
	pde    *pde.Discretized
	net    *nn.FCNet
	opt    *nn.Adam
	layout Layout
	opts   Options

	subsets      []geometry.Subset
	shards       []geometry.Subset
	ranges       [][2]int
	placeholders map[string][]int
	bcs          []bcTerm

	interior, user int
	slotInterior   int
	slotUserCur    int
	slotUserNext   int
}

func Compile(d *pde.Discretized, net *nn.FCNet, opt *nn.Adam, layout Layout, opts Options) (*Program, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	if err := checkRank(opts.Rank, opts.NRanks); err != nil {
		return nil, err
	}
	if opts.FDStep <= 0 {
		return nil, fmt.Errorf("finite-difference step must be positive, got %g", opts.FDStep)
	}
	if opts.DataWeight < 0 {
		return nil, fmt.Errorf("data weight must be non-negative, got %g", opts.DataWeight)
	}
	cfg := net.Config()
	if cfg.NumIns != 3 || cfg.NumOuts != len(pde.Fields) {
		return nil, fmt.Errorf("network maps %d->%d, want 3->%d", cfg.NumIns, cfg.NumOuts, len(pde.Fields))
	}
	geo := d.Geometry
	if geo.User().Len() == 0 {
		return nil, fmt.Errorf("geometry has no reference (user) points")
	}

	p := &Program{
		pde:          d,
		net:          net,
		opt:          opt,
		layout:       layout,
		opts:         opts,
		subsets:      geo.Subsets(),
		placeholders: map[string][]int{},
		interior:     -1,
		user:         -1,
		slotInterior: layout.Index(geometry.InteriorName, Current),
		slotUserCur:  layout.Index(geometry.UserName, Current),
		slotUserNext: layout.Index(geometry.UserName, Next),
	}

	index := map[string]int{}
	for i, s := range p.subsets {
		index[s.Name] = i
		lo, hi := ShardRange(s.Size(), opts.Rank, opts.NRanks)
		p.ranges = append(p.ranges, [2]int{lo, hi})
		p.shards = append(p.shards, geometry.Subset{Name: s.Name, Points: s.Points.Rows(lo, hi).Clone()})
		p.placeholders[InputName(i)] = []int{hi - lo, 3}
	}
	p.interior = index[geometry.InteriorName]
	p.user = index[geometry.UserName]

	for j, s := range layout.Slots {
		si := index[s.Subset]
		r := p.ranges[si]
		p.placeholders[LabelName(j)] = []int{r[1] - r[0], len(s.Fields)}
	}

	for _, bc := range d.PDE.BCs() {
		si, ok := index[bc.Boundary]
		if !ok {
			return nil, fmt.Errorf("boundary condition on unknown subset %q", bc.Boundary)
		}
		for _, c := range bc.Constraints {
			f, err := pde.FieldIndex(c.Field)
			if err != nil {
				return nil, err
			}
			p.bcs = append(p.bcs, bcTerm{subset: si, field: f, rhs: c.RHS, weight: c.Weight})
		}
	}
	return p, nil
}

func (p *Program) Network() *nn.FCNet              { return p.net }
func (p *Program) Geometry() *geometry.Discretized { return p.pde.Geometry }
func (p *Program) Layout() Layout                  { return p.layout }
func (p *Program) Options() Options                { return p.opts }
func (p *Program) NumInputs() int                  { return len(p.subsets) }

// Subsets returns this rank's shard of every subset, in input order.
func (p *Program) Subsets() []geometry.Subset { return p.shards }

// ShardRange is this rank's row range of the named subset.
func (p *Program) ShardRange(subset string) (lo, hi int, ok bool) {
	for i, s := range p.subsets {
		if s.Name == subset {
			return p.ranges[i][0], p.ranges[i][1], true
		}
	}
	return 0, 0, false
}

func (p *Program) Placeholder(name string) ([]int, bool) {
	s, ok := p.placeholders[name]
	return s, ok
}

func (p *Program) NewLabels() (*Labels, error) {
	return NewLabels(p.layout, p.pde.Geometry)
}

// InputFeeds returns a feed dictionary holding this rank's input points.
func (p *Program) InputFeeds() FeedDict {
	feeds := FeedDict{}
	for i, s := range p.shards {
		feeds[InputName(i)] = s.Points.Clone()
	}
	return feeds
}

// FeedLabels partitions labels for this rank and stores the shards under the
// label placeholder names.
func (p *Program) FeedLabels(feeds FeedDict, labels *Labels) error {
	shards, err := DataParallelPartition(labels.Arrays(), p.opts.Rank, p.opts.NRanks)
	if err != nil {
		return err
	}
	for j, s := range shards {
		feeds[LabelName(j)] = s
	}
	return nil
}

func (p *Program) checkFeeds(feeds FeedDict) error {
	for i := 0; i < len(p.subsets); i++ {
		if err := p.checkFeed(feeds, InputName(i)); err != nil {
			return err
		}
	}
	for j := range p.layout.Slots {
		if err := p.checkFeed(feeds, LabelName(j)); err != nil {
			return err
		}
	}
	return nil
}

func (p *Program) checkFeed(feeds FeedDict, name string) error {
	a, ok := feeds[name]
	if !ok {
		return fmt.Errorf("feed %q missing", name)
	}
	want := p.placeholders[name]
	if !a.SameShape(tensor.Array{Shape: want}) {
		return fmt.Errorf("%w: feed %q expects %v, got %v", ErrShapeMismatch, name, want, a.Shape)
	}
	return nil
}
