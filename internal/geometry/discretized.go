package geometry

import (
	"fmt"

	"github.com/san-kum/pinnflow/internal/tensor"
)

const (
	InteriorName = "interior"
	UserName     = "user"
)

// Subset is a named group of points, one (x, y, z) row per point.
type Subset struct {
	Name   string
	Points tensor.Array
}

func (s Subset) Size() int { return s.Points.Len() }

// Discretized is an immutable point cloud partitioned into interior, named
// boundaries (in declaration order) and optional user reference points.
type Discretized struct {
	interior   tensor.Array
	boundaries []Subset
	user       tensor.Array
}

func NewDiscretized(interior tensor.Array, boundaries []Subset) (*Discretized, error) {
	if err := checkPoints(InteriorName, interior); err != nil {
		return nil, err
	}
	seen := map[string]bool{InteriorName: true, UserName: true}
	bs := make([]Subset, len(boundaries))
	for i, b := range boundaries {
		if seen[b.Name] {
			return nil, fmt.Errorf("duplicate subset name %q", b.Name)
		}
		seen[b.Name] = true
		if err := checkPoints(b.Name, b.Points); err != nil {
			return nil, err
		}
		bs[i] = Subset{Name: b.Name, Points: b.Points.Clone()}
	}
	return &Discretized{interior: interior.Clone(), boundaries: bs, user: tensor.New(0, 3)}, nil
}

func checkPoints(name string, p tensor.Array) error {
	if p.Rank() != 2 || p.Cols() != 3 {
		return fmt.Errorf("subset %q: expected (n, 3) points, got %v", name, p.Shape)
	}
	return nil
}

func (d *Discretized) Interior() tensor.Array { return d.interior }
func (d *Discretized) User() tensor.Array     { return d.user }

func (d *Discretized) Boundary(name string) (tensor.Array, bool) {
	for _, b := range d.boundaries {
		if b.Name == name {
			return b.Points, true
		}
	}
	return tensor.Array{}, false
}

func (d *Discretized) BoundaryNames() []string {
	names := make([]string, len(d.boundaries))
	for i, b := range d.boundaries {
		names[i] = b.Name
	}
	return names
}

// WithUser returns a copy of d whose user subset is points.
func (d *Discretized) WithUser(points tensor.Array) (*Discretized, error) {
	if err := checkPoints(UserName, points); err != nil {
		return nil, err
	}
	c := *d
	c.user = points.Clone()
	return &c, nil
}

// Subsets lists interior, boundaries and, when present, user points in canonical order.
func (d *Discretized) Subsets() []Subset {
	out := make([]Subset, 0, len(d.boundaries)+2)
	out = append(out, Subset{Name: InteriorName, Points: d.interior})
	out = append(out, d.boundaries...)
	if d.user.Len() > 0 {
		out = append(out, Subset{Name: UserName, Points: d.user})
	}
	return out
}

func (d *Discretized) NumPoints() int {
	n := 0
	for _, s := range d.Subsets() {
		n += s.Size()
	}
	return n
}
