package nn

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

type Adam struct {
	LR    float64
	Beta1 float64
	Beta2 float64
	Eps   float64

	t  int
	mW []*mat.Dense
	vW []*mat.Dense
	mB [][]float64
	vB [][]float64
}

func NewAdam(lr float64) *Adam {
	return &Adam{LR: lr, Beta1: 0.9, Beta2: 0.999, Eps: 1e-8}
}

func (a *Adam) Steps() int { return a.t }

func (a *Adam) ensureState(n *FCNet) {
	if a.mW != nil {
		return
	}
	for l, w := range n.Weights {
		r, c := w.Dims()
		a.mW = append(a.mW, mat.NewDense(r, c, nil))
		a.vW = append(a.vW, mat.NewDense(r, c, nil))
		a.mB = append(a.mB, make([]float64, len(n.Biases[l])))
		a.vB = append(a.vB, make([]float64, len(n.Biases[l])))
	}
}

// Step applies one bias-corrected Adam update to n.
func (a *Adam) Step(n *FCNet, g *Grads) {
	a.ensureState(n)
	a.t++
	c1 := 1 - math.Pow(a.Beta1, float64(a.t))
	c2 := 1 - math.Pow(a.Beta2, float64(a.t))

	update := func(p, m, v *float64, grad float64) {
		*m = a.Beta1**m + (1-a.Beta1)*grad
		*v = a.Beta2**v + (1-a.Beta2)*grad*grad
		*p -= a.LR * (*m / c1) / (math.Sqrt(*v/c2) + a.Eps)
	}

	for l, w := range n.Weights {
		r, c := w.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				p := w.At(i, j)
				m := a.mW[l].At(i, j)
				v := a.vW[l].At(i, j)
				update(&p, &m, &v, g.Weights[l].At(i, j))
				w.Set(i, j, p)
				a.mW[l].Set(i, j, m)
				a.vW[l].Set(i, j, v)
			}
		}
		for j := range n.Biases[l] {
			update(&n.Biases[l][j], &a.mB[l][j], &a.vB[l][j], g.Biases[l][j])
		}
	}
}
