// Package geometry builds point clouds over simulation domains.
package geometry

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/san-kum/pinnflow/internal/tensor"
)

type Sampler string

const (
	Uniform  Sampler = "uniform"
	Sampling Sampler = "sampling"
)

func ParseSampler(s string) (Sampler, error) {
	switch Sampler(s) {
	case Uniform, Sampling:
		return Sampler(s), nil
	}
	return "", fmt.Errorf("unknown sampler method: %s", s)
}

// Criteria reports whether a point lies on a boundary.
type Criteria func(x, y, z float64) bool

type boundary struct {
	name     string
	criteria Criteria
}

// CylinderInCube is an axis-aligned box with a z-aligned cylinder removed.
type CylinderInCube struct {
	Origin       [3]float64
	Extent       [3]float64
	CircleCenter [2]float64
	CircleRadius float64

	boundaries []boundary
}

func NewCylinderInCube(origin, extent [3]float64, center [2]float64, radius float64) *CylinderInCube {
	return &CylinderInCube{Origin: origin, Extent: extent, CircleCenter: center, CircleRadius: radius}
}

func (c *CylinderInCube) AddBoundary(name string, criteria Criteria) {
	c.boundaries = append(c.boundaries, boundary{name: name, criteria: criteria})
}

func (c *CylinderInCube) inside(x, y float64) bool {
	dx, dy := x-c.CircleCenter[0], y-c.CircleCenter[1]
	return dx*dx+dy*dy < c.CircleRadius*c.CircleRadius
}

func (c *CylinderInCube) validate(npoints [3]int) error {
	for i := 0; i < 3; i++ {
		if c.Extent[i] <= c.Origin[i] {
			return fmt.Errorf("extent[%d]=%g must exceed origin[%d]=%g", i, c.Extent[i], i, c.Origin[i])
		}
		if npoints[i] < 2 {
			return fmt.Errorf("npoints[%d] must be at least 2, got %d", i, npoints[i])
		}
	}
	if c.CircleRadius <= 0 {
		return fmt.Errorf("circle radius must be positive, got %g", c.CircleRadius)
	}
	return nil
}

// Discretize samples the domain. Uniform uses a regular grid; Sampling draws the
// same number of interior points from a source seeded with seed. Both add points on
// the cylinder surface (npoints[0] around, npoints[2] along z). Each point goes to
// the first boundary whose criteria it meets, otherwise to the interior.
func (c *CylinderInCube) Discretize(npoints [3]int, method Sampler, seed int64) (*Discretized, error) {
	if err := c.validate(npoints); err != nil {
		return nil, err
	}

	var pts [][3]float64
	switch method {
	case Uniform:
		pts = c.grid(npoints)
	case Sampling:
		pts = c.sample(npoints, rand.New(rand.NewSource(seed)))
	default:
		return nil, fmt.Errorf("unknown sampler method: %s", method)
	}
	pts = append(pts, c.surface(npoints[0], npoints[2])...)

	interior := make([][]float64, 0, len(pts))
	groups := make([][][]float64, len(c.boundaries))
	for _, p := range pts {
		assigned := false
		for i, b := range c.boundaries {
			if b.criteria(p[0], p[1], p[2]) {
				groups[i] = append(groups[i], []float64{p[0], p[1], p[2]})
				assigned = true
				break
			}
		}
		if !assigned {
			interior = append(interior, []float64{p[0], p[1], p[2]})
		}
	}

	subsets := make([]Subset, len(c.boundaries))
	for i, b := range c.boundaries {
		subsets[i] = Subset{Name: b.name, Points: toArray(groups[i])}
	}
	return NewDiscretized(toArray(interior), subsets)
}

func toArray(rows [][]float64) tensor.Array {
	if len(rows) == 0 {
		return tensor.New(0, 3)
	}
	return tensor.FromRows(rows)
}

func linspace(lo, hi float64, n int) []float64 {
	out := make([]float64, n)
	step := (hi - lo) / float64(n-1)
	for i := range out {
		out[i] = lo + float64(i)*step
	}
	out[n-1] = hi
	return out
}

func (c *CylinderInCube) grid(npoints [3]int) [][3]float64 {
	xs := linspace(c.Origin[0], c.Extent[0], npoints[0])
	ys := linspace(c.Origin[1], c.Extent[1], npoints[1])
	zs := linspace(c.Origin[2], c.Extent[2], npoints[2])

	pts := make([][3]float64, 0, len(xs)*len(ys)*len(zs))
	for _, z := range zs {
		for _, y := range ys {
			for _, x := range xs {
				if c.inside(x, y) {
					continue
				}
				pts = append(pts, [3]float64{x, y, z})
			}
		}
	}
	return pts
}

// sample keeps the box faces on the regular grid so boundaries stay populated,
// and replaces strictly interior grid points with random draws.
func (c *CylinderInCube) sample(npoints [3]int, rng *rand.Rand) [][3]float64 {
	grid := c.grid(npoints)
	pts := make([][3]float64, 0, len(grid))
	for _, p := range grid {
		if c.onFace(p) {
			pts = append(pts, p)
		}
	}
	for len(pts) < len(grid) {
		var p [3]float64
		for i := 0; i < 3; i++ {
			p[i] = c.Origin[i] + rng.Float64()*(c.Extent[i]-c.Origin[i])
		}
		if c.inside(p[0], p[1]) {
			continue
		}
		pts = append(pts, p)
	}
	return pts
}

func (c *CylinderInCube) onFace(p [3]float64) bool {
	const eps = 1e-9
	for i := 0; i < 3; i++ {
		if math.Abs(p[i]-c.Origin[i]) < eps || math.Abs(p[i]-c.Extent[i]) < eps {
			return true
		}
	}
	return false
}

func (c *CylinderInCube) surface(nTheta, nz int) [][3]float64 {
	zs := linspace(c.Origin[2], c.Extent[2], nz)
	pts := make([][3]float64, 0, nTheta*nz)
	for _, z := range zs {
		for k := 0; k < nTheta; k++ {
			theta := 2 * math.Pi * float64(k) / float64(nTheta)
			pts = append(pts, [3]float64{
				c.CircleCenter[0] + c.CircleRadius*math.Cos(theta),
				c.CircleCenter[1] + c.CircleRadius*math.Sin(theta),
				z,
			})
		}
	}
	return pts
}
