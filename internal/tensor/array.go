package tensor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Array is a dense row-major float64 array of arbitrary rank.
type Array struct {
	Shape []int
	Data  []float64
}

func New(shape ...int) Array {
	return Array{Shape: append([]int(nil), shape...), Data: make([]float64, sizeOf(shape))}
}

// FromData wraps data without copying. It panics if the sizes disagree.
func FromData(data []float64, shape ...int) Array {
	if len(data) != sizeOf(shape) {
		panic(fmt.Sprintf("tensor: %d values do not fit shape %v", len(data), shape))
	}
	return Array{Shape: append([]int(nil), shape...), Data: data}
}

func FromRows(rows [][]float64) Array {
	if len(rows) == 0 {
		return New(0, 0)
	}
	cols := len(rows[0])
	a := New(len(rows), cols)
	for i, r := range rows {
		if len(r) != cols {
			panic(fmt.Sprintf("tensor: ragged row %d (%d != %d)", i, len(r), cols))
		}
		copy(a.Data[i*cols:], r)
	}
	return a
}

func FromDense(m mat.Matrix) Array {
	r, c := m.Dims()
	a := New(r, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			a.Data[i*c+j] = m.At(i, j)
		}
	}
	return a
}

func sizeOf(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func (a Array) Rank() int { return len(a.Shape) }
func (a Array) Size() int { return len(a.Data) }

// Len is the extent of the first axis.
func (a Array) Len() int {
	if len(a.Shape) == 0 {
		return 0
	}
	return a.Shape[0]
}

// Cols is the extent of the second axis of a rank-2 array.
func (a Array) Cols() int {
	if len(a.Shape) < 2 {
		return 1
	}
	return a.Shape[1]
}

func (a Array) stride() int {
	if len(a.Shape) == 0 || a.Shape[0] == 0 {
		return 0
	}
	return len(a.Data) / a.Shape[0]
}

func (a Array) Clone() Array {
	c := Array{Shape: append([]int(nil), a.Shape...), Data: make([]float64, len(a.Data))}
	copy(c.Data, a.Data)
	return c
}

// Index returns the i-th sub-array along the first axis. The result shares storage with a.
func (a Array) Index(i int) Array {
	s := a.stride()
	return Array{Shape: append([]int(nil), a.Shape[1:]...), Data: a.Data[i*s : (i+1)*s]}
}

// Rows returns rows [lo, hi) along the first axis, sharing storage with a.
func (a Array) Rows(lo, hi int) Array {
	s := a.stride()
	shape := append([]int(nil), a.Shape...)
	shape[0] = hi - lo
	return Array{Shape: shape, Data: a.Data[lo*s : hi*s]}
}

func (a Array) At(i, j int) float64 {
	return a.Data[i*a.Shape[1]+j]
}

func (a Array) Set(i, j int, v float64) {
	a.Data[i*a.Shape[1]+j] = v
}

func (a Array) Row(i int) []float64 {
	c := a.Cols()
	return a.Data[i*c : (i+1)*c]
}

// Col copies column j of a rank-2 array.
func (a Array) Col(j int) []float64 {
	out := make([]float64, a.Len())
	for i := range out {
		out[i] = a.At(i, j)
	}
	return out
}

// ColSlice copies columns [lo, hi) of a rank-2 array.
func (a Array) ColSlice(lo, hi int) Array {
	if a.Rank() != 2 {
		panic(fmt.Sprintf("tensor: column slice of rank-%d array", a.Rank()))
	}
	if lo < 0 || hi > a.Shape[1] || lo > hi {
		panic(fmt.Sprintf("tensor: columns [%d,%d) out of range for shape %v", lo, hi, a.Shape))
	}
	n, w := a.Shape[0], hi-lo
	out := New(n, w)
	for i := 0; i < n; i++ {
		copy(out.Data[i*w:(i+1)*w], a.Data[i*a.Shape[1]+lo:i*a.Shape[1]+hi])
	}
	return out
}

func (a Array) Dense() *mat.Dense {
	if a.Rank() != 2 {
		panic(fmt.Sprintf("tensor: dense view of rank-%d array", a.Rank()))
	}
	if a.Shape[0] == 0 || a.Shape[1] == 0 {
		panic("tensor: dense view of empty array")
	}
	return mat.NewDense(a.Shape[0], a.Shape[1], a.Data)
}

func (a Array) SameShape(b Array) bool {
	if len(a.Shape) != len(b.Shape) {
		return false
	}
	for i := range a.Shape {
		if a.Shape[i] != b.Shape[i] {
			return false
		}
	}
	return true
}

func (a Array) Equal(b Array) bool {
	if !a.SameShape(b) {
		return false
	}
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			return false
		}
	}
	return true
}

func (a Array) IsValid() bool {
	for _, v := range a.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (a Array) String() string {
	return fmt.Sprintf("Array%v", a.Shape)
}
