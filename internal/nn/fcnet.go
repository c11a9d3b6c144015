// Package nn is a fully connected network on gonum matrices with manual
// back-propagation, Adam, and JSON parameter checkpoints.
package nn

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

type Activation string

const (
	Tanh    Activation = "tanh"
	Sigmoid Activation = "sigmoid"
)

func ParseActivation(s string) (Activation, error) {
	switch Activation(s) {
	case Tanh, Sigmoid:
		return Activation(s), nil
	}
	return "", fmt.Errorf("unknown activation: %s", s)
}

func (a Activation) apply(v float64) float64 {
	if a == Sigmoid {
		return 1 / (1 + math.Exp(-v))
	}
	return math.Tanh(v)
}

// derivFromOutput is f'(z) written in terms of y = f(z).
func (a Activation) derivFromOutput(y float64) float64 {
	if a == Sigmoid {
		return y * (1 - y)
	}
	return 1 - y*y
}

type Config struct {
	NumIns     int
	NumOuts    int
	NumLayers  int
	HiddenSize int
	Activation Activation
}

// FCNet has NumLayers linear layers: in->hidden, (NumLayers-2) x hidden->hidden,
// hidden->out. Every layer but the last is followed by the activation.
type FCNet struct {
	cfg     Config
	Weights []*mat.Dense
	Biases  [][]float64
}

func New(cfg Config, seed int64) (*FCNet, error) {
	if cfg.NumIns <= 0 || cfg.NumOuts <= 0 {
		return nil, fmt.Errorf("network needs positive inputs/outputs, got %d/%d", cfg.NumIns, cfg.NumOuts)
	}
	if cfg.NumLayers < 2 {
		return nil, fmt.Errorf("network needs at least 2 layers, got %d", cfg.NumLayers)
	}
	if cfg.HiddenSize <= 0 {
		return nil, fmt.Errorf("hidden size must be positive, got %d", cfg.HiddenSize)
	}
	if _, err := ParseActivation(string(cfg.Activation)); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(seed))
	sizes := cfg.layerSizes()
	n := &FCNet{cfg: cfg}
	for l := 0; l < len(sizes)-1; l++ {
		in, out := sizes[l], sizes[l+1]
		limit := math.Sqrt(6.0 / float64(in+out))
		data := make([]float64, in*out)
		for i := range data {
			data[i] = (2*rng.Float64() - 1) * limit
		}
		n.Weights = append(n.Weights, mat.NewDense(in, out, data))
		n.Biases = append(n.Biases, make([]float64, out))
	}
	return n, nil
}

func (c Config) layerSizes() []int {
	sizes := []int{c.NumIns}
	for i := 0; i < c.NumLayers-1; i++ {
		sizes = append(sizes, c.HiddenSize)
	}
	return append(sizes, c.NumOuts)
}

func (n *FCNet) Config() Config { return n.cfg }

func (n *FCNet) NumParams() int {
	total := 0
	for l, w := range n.Weights {
		r, c := w.Dims()
		total += r*c + len(n.Biases[l])
	}
	return total
}

// Tape keeps the layer inputs of one forward pass for Backward.
type Tape struct {
	acts []*mat.Dense
}

// Forward evaluates the network on a batch, one row per sample.
func (n *FCNet) Forward(x *mat.Dense) (*mat.Dense, *Tape) {
	if _, c := x.Dims(); c != n.cfg.NumIns {
		panic(fmt.Sprintf("nn: input has %d columns, network expects %d", c, n.cfg.NumIns))
	}
	tape := &Tape{acts: []*mat.Dense{x}}
	a := x
	last := len(n.Weights) - 1
	for l, w := range n.Weights {
		r, _ := a.Dims()
		_, out := w.Dims()
		z := mat.NewDense(r, out, nil)
		z.Mul(a, w)
		b := n.Biases[l]
		act := n.cfg.Activation
		z.Apply(func(i, j int, v float64) float64 {
			v += b[j]
			if l == last {
				return v
			}
			return act.apply(v)
		}, z)
		if l != last {
			tape.acts = append(tape.acts, z)
		}
		a = z
	}
	return a, tape
}

// Predict is Forward without the tape.
func (n *FCNet) Predict(x *mat.Dense) *mat.Dense {
	y, _ := n.Forward(x)
	return y
}

// Grads mirrors the parameter layout of an FCNet.
type Grads struct {
	Weights []*mat.Dense
	Biases  [][]float64
}

func (n *FCNet) NewGrads() *Grads {
	g := &Grads{}
	for l, w := range n.Weights {
		r, c := w.Dims()
		g.Weights = append(g.Weights, mat.NewDense(r, c, nil))
		g.Biases = append(g.Biases, make([]float64, len(n.Biases[l])))
	}
	return g
}

func (g *Grads) Scale(f float64) {
	for l := range g.Weights {
		g.Weights[l].Scale(f, g.Weights[l])
		for j := range g.Biases[l] {
			g.Biases[l][j] *= f
		}
	}
}

// Backward accumulates into g the parameter gradient of sum(dy ⊙ y) for the
// forward pass recorded in tape.
func (n *FCNet) Backward(tape *Tape, dy *mat.Dense, g *Grads) {
	delta := mat.DenseCopyOf(dy)
	for l := len(n.Weights) - 1; l >= 0; l-- {
		in := tape.acts[l]

		var dw mat.Dense
		dw.Mul(in.T(), delta)
		g.Weights[l].Add(g.Weights[l], &dw)

		r, c := delta.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				g.Biases[l][j] += delta.At(i, j)
			}
		}

		if l == 0 {
			break
		}
		var prev mat.Dense
		prev.Mul(delta, n.Weights[l].T())
		act := n.cfg.Activation
		prev.Apply(func(i, j int, v float64) float64 {
			return v * act.derivFromOutput(in.At(i, j))
		}, &prev)
		delta = &prev
	}
}
