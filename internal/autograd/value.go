// Package autograd is a small scalar reverse-mode graph. It is used for the
// per-point loss heads, where the network outputs enter as leaves and the
// gradients flowing back into them are handed to the network's own backprop.
package autograd

import "math"

type Value struct {
	Data       float64
	Grad       float64
	Children   []*Value
	LocalGrads []float64
}

func V(x float64) *Value {
	return &Value{Data: x}
}

func Add(a, b *Value) *Value {
	return &Value{Data: a.Data + b.Data, Children: []*Value{a, b}, LocalGrads: []float64{1, 1}}
}

func Sub(a, b *Value) *Value {
	return &Value{Data: a.Data - b.Data, Children: []*Value{a, b}, LocalGrads: []float64{1, -1}}
}

func Mul(a, b *Value) *Value {
	return &Value{Data: a.Data * b.Data, Children: []*Value{a, b}, LocalGrads: []float64{b.Data, a.Data}}
}

// Scale multiplies by a constant without creating a leaf for it.
func Scale(a *Value, c float64) *Value {
	return &Value{Data: a.Data * c, Children: []*Value{a}, LocalGrads: []float64{c}}
}

// Shift adds a constant.
func Shift(a *Value, c float64) *Value {
	return &Value{Data: a.Data + c, Children: []*Value{a}, LocalGrads: []float64{1}}
}

func Pow(a *Value, p float64) *Value {
	return &Value{Data: math.Pow(a.Data, p), Children: []*Value{a}, LocalGrads: []float64{p * math.Pow(a.Data, p-1)}}
}

func Square(a *Value) *Value {
	return &Value{Data: a.Data * a.Data, Children: []*Value{a}, LocalGrads: []float64{2 * a.Data}}
}

func Sqrt(a *Value) *Value {
	s := math.Sqrt(a.Data)
	g := 0.0
	if s > 0 {
		g = 0.5 / s
	}
	return &Value{Data: s, Children: []*Value{a}, LocalGrads: []float64{g}}
}

func Div(a, b *Value) *Value {
	return Mul(a, Pow(b, -1))
}

func Neg(a *Value) *Value {
	return Scale(a, -1)
}

func Sum(vs ...*Value) *Value {
	out := &Value{Children: vs, LocalGrads: make([]float64, len(vs))}
	for i, v := range vs {
		out.Data += v.Data
		out.LocalGrads[i] = 1
	}
	return out
}

// Backward accumulates d(out)/d(v) into v.Grad for every v reachable from out.
func Backward(out *Value) {
	var topo []*Value
	visited := map[*Value]bool{}
	var build func(v *Value)
	build = func(v *Value) {
		if visited[v] {
			return
		}
		visited[v] = true
		for _, ch := range v.Children {
			build(ch)
		}
		topo = append(topo, v)
	}
	build(out)
	out.Grad = 1
	for i := len(topo) - 1; i >= 0; i-- {
		v := topo[i]
		for j, ch := range v.Children {
			ch.Grad += v.LocalGrads[j] * v.Grad
		}
	}
}
