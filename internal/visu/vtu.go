package visu

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/san-kum/pinnflow/internal/tensor"
)

// PointCloud is a set of 3D points carrying named scalar fields.
type PointCloud struct {
	Points tensor.Array
	Names  []string
	Values [][]float64
}

func (pc PointCloud) validate() error {
	if pc.Points.Rank() != 2 || pc.Points.Cols() != 3 {
		return fmt.Errorf("points must have shape (n, 3), got %v", pc.Points.Shape)
	}
	if len(pc.Names) != len(pc.Values) {
		return fmt.Errorf("%d field names for %d fields", len(pc.Names), len(pc.Values))
	}
	n := pc.Points.Len()
	for i, v := range pc.Values {
		if len(v) != n {
			return fmt.Errorf("field %q has %d values for %d points", pc.Names[i], len(v), n)
		}
	}
	return nil
}

// WriteVTU writes pc as an ascii UnstructuredGrid of vertex cells.
func WriteVTU(w io.Writer, pc PointCloud) error {
	if err := pc.validate(); err != nil {
		return err
	}
	n := pc.Points.Len()
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "<?xml version=\"1.0\"?>\n<VTKFile type=\"UnstructuredGrid\" version=\"0.1\" byte_order=\"LittleEndian\">\n<UnstructuredGrid>\n")
	fmt.Fprintf(bw, "<Piece NumberOfPoints=\"%d\" NumberOfCells=\"%d\">\n", n, n)

	fmt.Fprintf(bw, "<Points>\n<DataArray type=\"Float64\" NumberOfComponents=\"3\" format=\"ascii\">\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(bw, "%23.15e %23.15e %23.15e ", pc.Points.At(i, 0), pc.Points.At(i, 1), pc.Points.At(i, 2))
	}
	fmt.Fprintf(bw, "\n</DataArray>\n</Points>\n")

	fmt.Fprintf(bw, "<Cells>\n<DataArray type=\"Int32\" Name=\"connectivity\" format=\"ascii\">\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(bw, "%d ", i)
	}
	fmt.Fprintf(bw, "\n</DataArray>\n<DataArray type=\"Int32\" Name=\"offsets\" format=\"ascii\">\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(bw, "%d ", i+1)
	}
	// VTK_VERTEX
	fmt.Fprintf(bw, "\n</DataArray>\n<DataArray type=\"UInt8\" Name=\"types\" format=\"ascii\">\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(bw, "1 ")
	}
	fmt.Fprintf(bw, "\n</DataArray>\n</Cells>\n")

	if len(pc.Names) > 0 {
		fmt.Fprintf(bw, "<PointData Scalars=\"%s\">\n", pc.Names[0])
		for k, name := range pc.Names {
			fmt.Fprintf(bw, "<DataArray type=\"Float64\" Name=\"%s\" NumberOfComponents=\"1\" format=\"ascii\">\n", name)
			for _, v := range pc.Values[k] {
				fmt.Fprintf(bw, "%23.15e ", v)
			}
			fmt.Fprintf(bw, "\n</DataArray>\n")
		}
		fmt.Fprintf(bw, "</PointData>\n")
	}

	fmt.Fprintf(bw, "</Piece>\n</UnstructuredGrid>\n</VTKFile>\n")
	return bw.Flush()
}

// SaveVTU writes pc to path, adding the .vtu extension when missing.
func SaveVTU(path string, pc PointCloud) (string, error) {
	if !strings.HasSuffix(path, ".vtu") {
		path += ".vtu"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("cannot create directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := WriteVTU(f, pc); err != nil {
		f.Close()
		return "", fmt.Errorf("%s: %w", path, err)
	}
	return path, f.Close()
}
