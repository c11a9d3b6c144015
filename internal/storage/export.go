package storage

import (
	"encoding/json"
	"io"
	"os"
)

type ExportData struct {
	Run    RunMetadata `json:"run"`
	Steps  []int       `json:"steps"`
	Epochs []int       `json:"epochs"`
	Times  []float64   `json:"times"`
	Losses []float64   `json:"losses"`
}

func newExport(meta RunMetadata, losses []LossRecord) ExportData {
	data := ExportData{
		Run:    meta,
		Steps:  make([]int, len(losses)),
		Epochs: make([]int, len(losses)),
		Times:  make([]float64, len(losses)),
		Losses: make([]float64, len(losses)),
	}
	for i, l := range losses {
		data.Steps[i] = l.Step
		data.Epochs[i] = l.Epoch
		data.Times[i] = l.Time
		data.Losses[i] = l.Loss
	}
	return data
}

func WriteJSON(w io.Writer, meta RunMetadata, losses []LossRecord) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(newExport(meta, losses))
}

func ExportJSON(path string, meta RunMetadata, losses []LossRecord) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteJSON(file, meta, losses); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
