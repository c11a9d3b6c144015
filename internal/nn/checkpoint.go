package nn

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"
)

type checkpoint struct {
	NumIns     int           `json:"num_ins"`
	NumOuts    int           `json:"num_outs"`
	NumLayers  int           `json:"num_layers"`
	HiddenSize int           `json:"hidden_size"`
	Activation string        `json:"activation"`
	Weights    [][][]float64 `json:"weights"`
	Biases     [][]float64   `json:"biases"`
}

func (n *FCNet) SaveParams(path string) error {
	ckpt := checkpoint{
		NumIns:     n.cfg.NumIns,
		NumOuts:    n.cfg.NumOuts,
		NumLayers:  n.cfg.NumLayers,
		HiddenSize: n.cfg.HiddenSize,
		Activation: string(n.cfg.Activation),
		Biases:     n.Biases,
	}
	for _, w := range n.Weights {
		r, c := w.Dims()
		rows := make([][]float64, r)
		for i := range rows {
			rows[i] = make([]float64, c)
			mat.Row(rows[i], i, w)
		}
		ckpt.Weights = append(ckpt.Weights, rows)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := json.Marshal(ckpt)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadParams restores a network saved with SaveParams.
func LoadParams(path string) (*FCNet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ckpt checkpoint
	if err := json.Unmarshal(data, &ckpt); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	n, err := New(Config{
		NumIns:     ckpt.NumIns,
		NumOuts:    ckpt.NumOuts,
		NumLayers:  ckpt.NumLayers,
		HiddenSize: ckpt.HiddenSize,
		Activation: Activation(ckpt.Activation),
	}, 0)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(ckpt.Weights) != len(n.Weights) || len(ckpt.Biases) != len(n.Biases) {
		return nil, fmt.Errorf("%s: layer count mismatch", path)
	}
	for l, w := range n.Weights {
		r, c := w.Dims()
		if len(ckpt.Weights[l]) != r || len(ckpt.Biases[l]) != c {
			return nil, fmt.Errorf("%s: layer %d shape mismatch", path, l)
		}
		for i := 0; i < r; i++ {
			if len(ckpt.Weights[l][i]) != c {
				return nil, fmt.Errorf("%s: layer %d row %d has %d columns, want %d", path, l, i, len(ckpt.Weights[l][i]), c)
			}
			w.SetRow(i, ckpt.Weights[l][i])
		}
		copy(n.Biases[l], ckpt.Biases[l])
	}
	return n, nil
}
