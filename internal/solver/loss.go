package solver

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/pinnflow/internal/autograd"
	"github.com/san-kum/pinnflow/internal/nn"
	"github.com/san-kum/pinnflow/internal/parallel"
	"github.com/san-kum/pinnflow/internal/pde"
	"github.com/san-kum/pinnflow/internal/tensor"
)

// LossTerms are the pieces of the objective before weighting.
type LossTerms struct {
	BC         float64
	EqInterior float64
	EqUser     float64
	Data       float64
}

// Total is sqrt(bc + eq_interior + eq_user + dataWeight*data).
func (t LossTerms) Total(dataWeight float64) float64 {
	return math.Sqrt(t.BC + t.EqInterior + t.EqUser + dataWeight*t.Data)
}

// Fetch is what one executor run returns.
type Fetch struct {
	Loss    float64
	Terms   LossTerms
	Outputs []tensor.Array
}

// rowsPerChunk is the smallest share of equation rows given to one goroutine.
const rowsPerChunk = 64

// pass is a forward evaluation waiting for its output gradient.
type pass struct {
	tape *nn.Tape
	dy   *mat.Dense
}

func (p *Program) forward(x tensor.Array) (*mat.Dense, *nn.Tape) {
	return p.net.Forward(x.Dense())
}

// evaluate computes the loss and the parameter gradient of the total objective.
func (p *Program) evaluate(feeds FeedDict) (*Fetch, *nn.Grads) {
	nout := len(pde.Fields)
	fetch := &Fetch{Outputs: make([]tensor.Array, len(p.subsets))}
	ys := make([]*mat.Dense, len(p.subsets))
	var passes []pass
	centre := make([]*mat.Dense, len(p.subsets))

	for i := range p.subsets {
		x := feeds[InputName(i)]
		if x.Len() == 0 {
			fetch.Outputs[i] = tensor.New(0, nout)
			continue
		}
		y, tape := p.forward(x)
		ys[i] = y
		fetch.Outputs[i] = tensor.FromDense(y)
		centre[i] = mat.NewDense(x.Len(), nout, nil)
		passes = append(passes, pass{tape: tape, dy: centre[i]})
	}

	var terms LossTerms

	for _, bc := range p.bcs {
		y := ys[bc.subset]
		if y == nil {
			continue
		}
		dy := centre[bc.subset]
		r, _ := y.Dims()
		for i := 0; i < r; i++ {
			diff := y.At(i, bc.field) - bc.rhs
			terms.BC += bc.weight * diff * diff
			dy.Set(i, bc.field, dy.At(i, bc.field)+2*bc.weight*diff)
		}
	}

	if yu := ys[p.user]; yu != nil {
		next := feeds[LabelName(p.slotUserNext)]
		dy := centre[p.user]
		r, _ := yu.Dims()
		for i := 0; i < r; i++ {
			for f := 0; f < nout; f++ {
				diff := yu.At(i, f) - next.At(i, f)
				terms.Data += diff * diff
				dy.Set(i, f, dy.At(i, f)+2*p.opts.DataWeight*diff)
			}
		}
	}

	var stencil []pass
	if ys[p.interior] != nil {
		var s []pass
		terms.EqInterior, s = p.equationLoss(feeds[InputName(p.interior)], ys[p.interior], centre[p.interior], feeds[LabelName(p.slotInterior)])
		stencil = append(stencil, s...)
	}
	if ys[p.user] != nil {
		var s []pass
		terms.EqUser, s = p.equationLoss(feeds[InputName(p.user)], ys[p.user], centre[p.user], feeds[LabelName(p.slotUserCur)])
		stencil = append(stencil, s...)
	}
	passes = append(passes, stencil...)

	fetch.Terms = terms
	fetch.Loss = terms.Total(p.opts.DataWeight)

	grads := p.net.NewGrads()
	if fetch.Loss == 0 || math.IsNaN(fetch.Loss) || math.IsInf(fetch.Loss, 0) {
		return fetch, grads
	}
	scale := 0.5 / fetch.Loss
	for _, ps := range passes {
		ps.dy.Scale(scale, ps.dy)
		p.net.Backward(ps.tape, ps.dy, grads)
	}
	return fetch, grads
}

// equationLoss sums the weighted squared residuals over the rows of x, using
// central differences of step h for the spatial derivatives. Gradients w.r.t.
// the centre outputs are added into dCentre; the six shifted evaluations are
// returned for back-propagation.
func (p *Program) equationLoss(x tensor.Array, yc, dCentre *mat.Dense, prev tensor.Array) (float64, []pass) {
	h := p.opts.FDStep
	n := x.Len()
	nout := len(pde.Fields)

	var ys [2][3]*mat.Dense
	var out []pass
	var dys [2][3]*mat.Dense
	for side, sign := range []float64{1, -1} {
		for axis := 0; axis < 3; axis++ {
			shifted := x.Clone()
			for r := 0; r < n; r++ {
				shifted.Set(r, axis, shifted.At(r, axis)+sign*h)
			}
			y, tape := p.forward(shifted)
			ys[side][axis] = y
			dys[side][axis] = mat.NewDense(n, nout, nil)
			out = append(out, pass{tape: tape, dy: dys[side][axis]})
		}
	}

	inv2h := 1 / (2 * h)
	invH2 := 1 / (h * h)
	chunks := parallel.Chunks(n, rowsPerChunk)
	partial := make([]float64, len(chunks))
	parallel.For(chunks, func(i, lo, hi int) {
		for r := lo; r < hi; r++ {
			var c [4]*autograd.Value
			var plus, minus [3][4]*autograd.Value
			for f := 0; f < nout; f++ {
				c[f] = autograd.V(yc.At(r, f))
				for a := 0; a < 3; a++ {
					plus[a][f] = autograd.V(ys[0][a].At(r, f))
					minus[a][f] = autograd.V(ys[1][a].At(r, f))
				}
			}

			var pt pde.Point
			for f := 0; f < nout; f++ {
				pt.Val[f] = c[f]
				for a := 0; a < 3; a++ {
					pt.D1[f][a] = autograd.Scale(autograd.Sub(plus[a][f], minus[a][f]), inv2h)
					if f < 3 {
						pt.D2[f][a] = autograd.Scale(autograd.Sum(plus[a][f], autograd.Scale(c[f], -2), minus[a][f]), invH2)
					}
				}
			}

			prevRow := [3]float64{prev.At(r, 0), prev.At(r, 1), prev.At(r, 2)}
			l := p.pde.Loss(pt, prevRow)
			autograd.Backward(l)
			partial[i] += l.Data

			// each row writes only its own row of the gradient matrices
			for f := 0; f < nout; f++ {
				dCentre.Set(r, f, dCentre.At(r, f)+c[f].Grad)
				for a := 0; a < 3; a++ {
					dys[0][a].Set(r, f, dys[0][a].At(r, f)+plus[a][f].Grad)
					dys[1][a].Set(r, f, dys[1][a].At(r, f)+minus[a][f].Grad)
				}
			}
		}
	})

	total := 0.0
	for _, v := range partial {
		total += v
	}
	return total, out
}
