package visu

import (
	"fmt"

	"github.com/san-kum/pinnflow/internal/geometry"
	"github.com/san-kum/pinnflow/internal/npy"
	"github.com/san-kum/pinnflow/internal/pde"
	"github.com/san-kum/pinnflow/internal/tensor"
)

// Stack joins every subset's points with its network output into one
// (n, 3+fields) record array, subsets in order.
func Stack(subsets []geometry.Subset, fields []tensor.Array) (tensor.Array, error) {
	if len(subsets) != len(fields) {
		return tensor.Array{}, fmt.Errorf("%d subsets for %d field arrays", len(subsets), len(fields))
	}
	var parts []tensor.Array
	width := -1
	for i, s := range subsets {
		if s.Size() == 0 {
			continue
		}
		if fields[i].Len() != s.Size() {
			return tensor.Array{}, fmt.Errorf("subset %q: %d points, %d field rows", s.Name, s.Size(), fields[i].Len())
		}
		rec, err := tensor.HStack(s.Points, fields[i])
		if err != nil {
			return tensor.Array{}, fmt.Errorf("subset %q: %w", s.Name, err)
		}
		if width >= 0 && rec.Cols() != width {
			return tensor.Array{}, fmt.Errorf("subset %q: %d columns, want %d", s.Name, rec.Cols(), width)
		}
		width = rec.Cols()
		parts = append(parts, rec)
	}
	if len(parts) == 0 {
		return tensor.New(0, 3+len(pde.Fields)), nil
	}
	return tensor.VStack(parts...)
}

// MeshWriter saves subsets and their u, v, w, p predictions as a VTU point cloud.
type MeshWriter struct{}

func (MeshWriter) Save(name string, subsets []geometry.Subset, fields []tensor.Array) error {
	rec, err := Stack(subsets, fields)
	if err != nil {
		return err
	}
	_, err = SaveVTU(name, RecordCloud(rec, subsets))
	return err
}

// RecordCloud turns (x, y, z, u, v, w, p) records into a point cloud. When
// subsets is given, their sizes also yield a per-point subset index field.
func RecordCloud(rec tensor.Array, subsets []geometry.Subset) PointCloud {
	pc := PointCloud{Points: rec.ColSlice(0, 3)}
	for k, f := range pde.Fields {
		if 3+k >= rec.Cols() {
			break
		}
		pc.Names = append(pc.Names, f)
		pc.Values = append(pc.Values, rec.Col(3+k))
	}
	if subsets != nil {
		idx := make([]float64, 0, rec.Len())
		for i, s := range subsets {
			for j := 0; j < s.Size(); j++ {
				idx = append(idx, float64(i))
			}
		}
		if len(idx) == rec.Len() {
			pc.Names = append(pc.Names, "subset")
			pc.Values = append(pc.Values, idx)
		}
	}
	return pc
}

// ArrayWriter saves the stacked (x, y, z, u, v, w, p) records as .npy.
type ArrayWriter struct{}

func (ArrayWriter) Save(name string, subsets []geometry.Subset, fields []tensor.Array) error {
	rec, err := Stack(subsets, fields)
	if err != nil {
		return err
	}
	return npy.Save(name+".npy", rec)
}
