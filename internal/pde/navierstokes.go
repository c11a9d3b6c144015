// Package pde declares governing equations and boundary constraints over the
// named fields u, v, w (velocity) and p (pressure).
package pde

import (
	"fmt"

	"github.com/san-kum/pinnflow/internal/geometry"
)

// Fields lists the network outputs in column order.
var Fields = []string{"u", "v", "w", "p"}

// Velocity lists the carried velocity fields.
var Velocity = []string{"u", "v", "w"}

func FieldIndex(name string) (int, error) {
	for i, f := range Fields {
		if f == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("unknown field %q", name)
}

// Dirichlet pins Field to RHS on a boundary.
type Dirichlet struct {
	Field  string
	RHS    float64
	Weight float64
}

type BoundaryCondition struct {
	Boundary    string
	Constraints []Dirichlet
}

type NavierStokes struct {
	Nu            float64
	Rho           float64
	Dim           int
	TimeDependent bool
	// Weight scales continuity and the three momentum residuals.
	Weight [4]float64

	interval [2]float64
	bcs      []BoundaryCondition
}

func NewNavierStokes(nu, rho float64, dim int, timeDependent bool, weight [4]float64) *NavierStokes {
	return &NavierStokes{Nu: nu, Rho: rho, Dim: dim, TimeDependent: timeDependent, Weight: weight}
}

func (ns *NavierStokes) SetTimeInterval(start, end float64) error {
	if end <= start {
		return fmt.Errorf("time interval end %g must exceed start %g", end, start)
	}
	ns.interval = [2]float64{start, end}
	return nil
}

func (ns *NavierStokes) TimeInterval() (start, end float64) {
	return ns.interval[0], ns.interval[1]
}

func (ns *NavierStokes) AddBC(boundary string, cs ...Dirichlet) {
	ns.bcs = append(ns.bcs, BoundaryCondition{Boundary: boundary, Constraints: cs})
}

func (ns *NavierStokes) BCs() []BoundaryCondition {
	return ns.bcs
}

type TimeMethod string

const Implicit TimeMethod = "implicit"

// Discretized binds the equations to a point cloud and a time step.
type Discretized struct {
	PDE      *NavierStokes
	Geometry *geometry.Discretized
	Method   TimeMethod
	TimeStep float64
}

func (ns *NavierStokes) Discretize(method TimeMethod, timeStep float64, geo *geometry.Discretized) (*Discretized, error) {
	if method != Implicit {
		return nil, fmt.Errorf("unsupported time method: %s", method)
	}
	if ns.Dim != 3 {
		return nil, fmt.Errorf("only 3D Navier-Stokes is supported, got dim=%d", ns.Dim)
	}
	if !ns.TimeDependent {
		return nil, fmt.Errorf("time marching needs a time-dependent equation")
	}
	if timeStep <= 0 {
		return nil, fmt.Errorf("time step must be positive, got %g", timeStep)
	}
	if ns.Rho <= 0 {
		return nil, fmt.Errorf("rho must be positive, got %g", ns.Rho)
	}
	for _, bc := range ns.bcs {
		if _, ok := geo.Boundary(bc.Boundary); !ok {
			return nil, fmt.Errorf("boundary condition on undeclared boundary %q", bc.Boundary)
		}
		for _, c := range bc.Constraints {
			if _, err := FieldIndex(c.Field); err != nil {
				return nil, fmt.Errorf("boundary %q: %w", bc.Boundary, err)
			}
		}
	}
	return &Discretized{PDE: ns, Geometry: geo, Method: method, TimeStep: timeStep}, nil
}
