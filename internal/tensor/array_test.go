package tensor

import (
	"math"
	"testing"
)

func TestArray_ColSlice(t *testing.T) {
	a := FromRows([][]float64{
		{1, 2, 3, 4, 5, 6, 7},
		{8, 9, 10, 11, 12, 13, 14},
	})

	cord := a.ColSlice(0, 3)
	if cord.Shape[0] != 2 || cord.Shape[1] != 3 {
		t.Fatalf("unexpected shape %v", cord.Shape)
	}
	if cord.At(1, 2) != 10 {
		t.Errorf("At(1,2) = %v, want 10", cord.At(1, 2))
	}

	cord.Set(0, 0, 99)
	if a.At(0, 0) == 99 {
		t.Error("ColSlice shares storage with source")
	}
}

func TestHStack_RoundTrip(t *testing.T) {
	a := FromRows([][]float64{
		{1, 2, 3, 4, 5, 6, 7},
		{8, 9, 10, 11, 12, 13, 14},
		{15, 16, 17, 18, 19, 20, 21},
	})

	joined, err := HStack(a.ColSlice(0, 3), a.ColSlice(3, 7))
	if err != nil {
		t.Fatalf("hstack failed: %v", err)
	}
	if !joined.Equal(a) {
		t.Errorf("hstack(cord, physic) = %v, want original", joined.Data)
	}
}

func TestHStack_RowMismatch(t *testing.T) {
	if _, err := HStack(New(2, 1), New(3, 1)); err == nil {
		t.Error("expected error for mismatched rows")
	}
}

func TestVStack(t *testing.T) {
	a := FromRows([][]float64{{1, 2}, {3, 4}})
	b := FromRows([][]float64{{5, 6}})

	out, err := VStack(a, b)
	if err != nil {
		t.Fatalf("vstack failed: %v", err)
	}
	if out.Len() != 3 || out.At(2, 1) != 6 {
		t.Errorf("unexpected result %v %v", out.Shape, out.Data)
	}

	if _, err := VStack(a, New(1, 3)); err == nil {
		t.Error("expected error for mismatched columns")
	}
}

func TestArray_IndexAndRows(t *testing.T) {
	a := New(2, 5, 3)
	for i := range a.Data {
		a.Data[i] = float64(i)
	}

	b1 := a.Index(1)
	if b1.Rank() != 2 || b1.Shape[0] != 5 || b1.Data[0] != 15 {
		t.Errorf("Index(1) = %v first=%v", b1.Shape, b1.Data[0])
	}

	r := a.Rows(1, 2)
	if r.Len() != 1 || r.Size() != 15 {
		t.Errorf("Rows(1,2) shape %v", r.Shape)
	}
}

func TestArray_IsValid(t *testing.T) {
	tests := []struct {
		name  string
		data  []float64
		valid bool
	}{
		{"normal", []float64{1, 2}, true},
		{"with NaN", []float64{1, math.NaN()}, false},
		{"with Inf", []float64{math.Inf(-1), 0}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := FromData(tt.data, len(tt.data))
			if got := a.IsValid(); got != tt.valid {
				t.Errorf("IsValid() = %v, want %v", got, tt.valid)
			}
		})
	}
}
