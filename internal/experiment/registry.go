package experiment

import (
	"fmt"
	"math"
	"sort"

	"github.com/san-kum/pinnflow/internal/config"
	"github.com/san-kum/pinnflow/internal/geometry"
	"github.com/san-kum/pinnflow/internal/pde"
	"github.com/san-kum/pinnflow/internal/realdata"
)

// Builder discretizes a problem's geometry and equations. The reference
// points come from the data source at the configured start time.
type Builder func(cfg *config.Config, data realdata.Accessor) (*pde.Discretized, error)

type Problem struct {
	Description string
	Build       Builder
}

type Registry struct {
	problems map[string]Problem
}

func NewRegistry() *Registry {
	r := &Registry{problems: make(map[string]Problem)}
	r.problems["cylinder3d"] = Problem{
		Description: "unsteady flow past a cylinder, Re=100",
		Build:       cylinder3D,
	}
	return r
}

func (r *Registry) Register(name string, p Problem) {
	r.problems[name] = p
}

func (r *Registry) GetProblem(name string) (Problem, error) {
	p, ok := r.problems[name]
	if !ok {
		return Problem{}, fmt.Errorf("unknown problem: %s", name)
	}
	return p, nil
}

func (r *Registry) ListProblems() []string {
	names := make([]string, 0, len(r.problems))
	for name := range r.problems {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const faceTol = 1e-4

func cylinder3D(cfg *config.Config, data realdata.Accessor) (*pde.Discretized, error) {
	g := cfg.Geometry
	cc, cr := g.CircleCenter, g.CircleRadius
	xlo, xhi := g.Origin[0], g.Extent[0]

	cyl := geometry.NewCylinderInCube(g.Origin, g.Extent, cc, cr)
	cyl.AddBoundary("left", func(x, y, z float64) bool { return math.Abs(x-xlo) < faceTol })
	cyl.AddBoundary("right", func(x, y, z float64) bool { return math.Abs(x-xhi) < faceTol })
	cyl.AddBoundary("circle", func(x, y, z float64) bool {
		return (x-cc[0])*(x-cc[0])+(y-cc[1])*(y-cc[1])-cr*cr < faceTol
	})

	sampler, err := geometry.ParseSampler(g.SamplerMethod)
	if err != nil {
		return nil, err
	}
	geo, err := cyl.Discretize(g.NPoints, sampler, g.Seed)
	if err != nil {
		return nil, fmt.Errorf("geometry: %w", err)
	}

	cord, err := data.Get(cfg.Time.StartTime, realdata.InfoCord)
	if err != nil {
		return nil, fmt.Errorf("reference points at t=%g: %w", cfg.Time.StartTime, err)
	}
	geo, err = geo.WithUser(cord)
	if err != nil {
		return nil, err
	}

	ns := pde.NewNavierStokes(cfg.PDE.Nu, cfg.PDE.Rho, 3, true, cfg.PDE.Weight)
	// a zero-step run still declares one step of interval
	end := max(cfg.EndTime(), cfg.Time.StartTime+cfg.Time.TimeStep)
	if err := ns.SetTimeInterval(cfg.Time.StartTime, end); err != nil {
		return nil, err
	}
	ns.AddBC("left",
		pde.Dirichlet{Field: "u", RHS: 1, Weight: 1},
		pde.Dirichlet{Field: "v", RHS: 0, Weight: 1},
		pde.Dirichlet{Field: "w", RHS: 0, Weight: 1})
	ns.AddBC("right", pde.Dirichlet{Field: "p", RHS: 0, Weight: 1})
	ns.AddBC("circle",
		pde.Dirichlet{Field: "u", RHS: 0, Weight: 1},
		pde.Dirichlet{Field: "v", RHS: 0, Weight: 1},
		pde.Dirichlet{Field: "w", RHS: 0, Weight: 1})

	return ns.Discretize(pde.Implicit, cfg.Time.TimeStep, geo)
}
