package tensor

import "fmt"

// HStack joins rank-2 arrays column-wise. All inputs must have the same row count.
func HStack(arrs ...Array) (Array, error) {
	if len(arrs) == 0 {
		return Array{}, fmt.Errorf("hstack: no arrays")
	}
	n := arrs[0].Len()
	width := 0
	for i, a := range arrs {
		if a.Rank() != 2 {
			return Array{}, fmt.Errorf("hstack: array %d has rank %d", i, a.Rank())
		}
		if a.Len() != n {
			return Array{}, fmt.Errorf("hstack: array %d has %d rows, want %d", i, a.Len(), n)
		}
		width += a.Cols()
	}
	out := New(n, width)
	for r := 0; r < n; r++ {
		off := 0
		for _, a := range arrs {
			copy(out.Data[r*width+off:], a.Row(r))
			off += a.Cols()
		}
	}
	return out, nil
}

// VStack joins arrays along the first axis. Trailing shapes must agree.
func VStack(arrs ...Array) (Array, error) {
	if len(arrs) == 0 {
		return Array{}, fmt.Errorf("vstack: no arrays")
	}
	tail := arrs[0].Shape[1:]
	rows := 0
	size := 0
	for i, a := range arrs {
		if a.Rank() != len(tail)+1 {
			return Array{}, fmt.Errorf("vstack: array %d has rank %d", i, a.Rank())
		}
		for k, d := range a.Shape[1:] {
			if d != tail[k] {
				return Array{}, fmt.Errorf("vstack: array %d shape %v incompatible with %v", i, a.Shape, arrs[0].Shape)
			}
		}
		rows += a.Len()
		size += a.Size()
	}
	shape := append([]int{rows}, tail...)
	out := Array{Shape: shape, Data: make([]float64, 0, size)}
	for _, a := range arrs {
		out.Data = append(out.Data, a.Data...)
	}
	return out, nil
}
