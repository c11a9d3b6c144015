package pde

import "github.com/san-kum/pinnflow/internal/autograd"

// Point carries the network state at one collocation point: field values, their
// gradients D1[field][axis] and the diagonal second derivatives of the velocity
// fields D2[field][axis].
type Point struct {
	Val [4]*autograd.Value
	D1  [4][3]*autograd.Value
	D2  [3][3]*autograd.Value
}

// Residuals returns continuity followed by the x, y, z momentum residuals of the
// implicit-Euler step from the previous velocity prev.
func (d *Discretized) Residuals(p Point, prev [3]float64) [4]*autograd.Value {
	ns := d.PDE
	invDt := 1 / d.TimeStep

	var out [4]*autograd.Value
	out[0] = autograd.Sum(p.D1[0][0], p.D1[1][1], p.D1[2][2])

	for k := 0; k < 3; k++ {
		unsteady := autograd.Scale(autograd.Shift(p.Val[k], -prev[k]), invDt)
		convect := autograd.Sum(
			autograd.Mul(p.Val[0], p.D1[k][0]),
			autograd.Mul(p.Val[1], p.D1[k][1]),
			autograd.Mul(p.Val[2], p.D1[k][2]),
		)
		pressure := autograd.Scale(p.D1[3][k], 1/ns.Rho)
		diffusion := autograd.Scale(autograd.Sum(p.D2[k][0], p.D2[k][1], p.D2[k][2]), -ns.Nu)
		out[k+1] = autograd.Sum(unsteady, convect, pressure, diffusion)
	}
	return out
}

// Loss is the weighted sum of squared residuals at one point.
func (d *Discretized) Loss(p Point, prev [3]float64) *autograd.Value {
	res := d.Residuals(p, prev)
	terms := make([]*autograd.Value, len(res))
	for i, r := range res {
		terms[i] = autograd.Scale(autograd.Square(r), d.PDE.Weight[i])
	}
	return autograd.Sum(terms...)
}
