// Package npy reads and writes NumPy .npy files as tensor arrays.
package npy

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sbinet/npyio"

	"github.com/san-kum/pinnflow/internal/tensor"
)

// Read decodes a C-ordered float32 or float64 array.
func Read(r io.Reader) (tensor.Array, error) {
	nr, err := npyio.NewReader(r)
	if err != nil {
		return tensor.Array{}, err
	}
	descr := nr.Header.Descr
	if descr.Fortran {
		return tensor.Array{}, fmt.Errorf("npy: fortran-ordered arrays are not supported")
	}
	shape := append([]int(nil), descr.Shape...)
	if len(shape) == 0 {
		shape = []int{1}
	}

	var data []float64
	switch descr.Type {
	case "<f4", "|f4", "f4":
		var raw []float32
		if err := nr.Read(&raw); err != nil {
			return tensor.Array{}, err
		}
		data = make([]float64, len(raw))
		for i, v := range raw {
			data[i] = float64(v)
		}
	case "<f8", "|f8", "f8":
		if err := nr.Read(&data); err != nil {
			return tensor.Array{}, err
		}
	default:
		return tensor.Array{}, fmt.Errorf("npy: unsupported dtype %q", descr.Type)
	}

	n := 1
	for _, d := range shape {
		n *= d
	}
	if n != len(data) {
		return tensor.Array{}, fmt.Errorf("npy: header shape %v holds %d values, read %d", shape, n, len(data))
	}
	return tensor.FromData(data, shape...), nil
}

func Load(path string) (tensor.Array, error) {
	f, err := os.Open(path)
	if err != nil {
		return tensor.Array{}, err
	}
	defer f.Close()

	a, err := Read(bufio.NewReader(f))
	if err != nil {
		return tensor.Array{}, fmt.Errorf("%s: %w", path, err)
	}
	return a, nil
}

// Write encodes a as float64. Rank-2 arrays keep their shape; other ranks are flattened.
func Write(w io.Writer, a tensor.Array) error {
	if a.Rank() == 2 && a.Size() > 0 {
		return npyio.Write(w, a.Dense())
	}
	return npyio.Write(w, a.Data)
}

// Save writes a to path, creating parent directories. An existing file is overwritten.
func Save(path string, a tensor.Array) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(f)
	if err := Write(bw, a); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
