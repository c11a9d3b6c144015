package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/san-kum/pinnflow/internal/config"
	"github.com/san-kum/pinnflow/internal/npy"
	"github.com/san-kum/pinnflow/internal/tensor"
	"github.com/san-kum/pinnflow/internal/visu"
	"github.com/spf13/cobra"
)

func newTrainFlags() *cobra.Command {
	cmd := &cobra.Command{Use: "train"}
	cmd.Flags().IntVar(&epochs, "epochs", config.DefaultEpochs, "")
	cmd.Flags().IntVar(&numTimeSteps, "steps", config.DefaultNumTimeSteps, "")
	cmd.Flags().Float64Var(&startTime, "start", config.DefaultStartTime, "")
	cmd.Flags().Float64Var(&timeStep, "dt", config.DefaultTimeStep, "")
	cmd.Flags().Float64Var(&learningRate, "lr", config.DefaultLR, "")
	cmd.Flags().IntVar(&numLayers, "layers", config.DefaultNumLayers, "")
	cmd.Flags().IntVar(&hiddenSize, "hidden", config.DefaultHiddenSize, "")
	cmd.Flags().Int64Var(&seed, "seed", 1, "")
	cmd.Flags().IntVar(&rank, "rank", 0, "")
	cmd.Flags().IntVar(&nranks, "nranks", 1, "")
	cmd.Flags().StringVar(&dataDir, "data", "", "")
	return cmd
}

func TestLoadConfig_Layering(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	fileCfg := config.GetPreset("cylinder3d", "quick")
	fileCfg.Global.Epochs = 42
	fileCfg.Model.HiddenSize = 12
	if err := config.Save(path, fileCfg); err != nil {
		t.Fatal(err)
	}

	preset, configFile = "smoke", path
	defer func() { preset, configFile = "default", "" }()

	cmd := newTrainFlags()
	if err := cmd.Flags().Parse([]string{"--epochs", "7", "--nranks", "2", "--rank", "1"}); err != nil {
		t.Fatal(err)
	}
	cfg, err := loadConfig(cmd, "cylinder3d")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Global.Epochs != 7 {
		t.Errorf("epochs = %d, want flag value 7", cfg.Global.Epochs)
	}
	if cfg.Model.HiddenSize != 12 {
		t.Errorf("hidden = %d, want file value 12", cfg.Model.HiddenSize)
	}
	if cfg.Global.Rank != 1 || cfg.Global.NRanks != 2 {
		t.Errorf("rank %d/%d, want 1/2", cfg.Global.Rank, cfg.Global.NRanks)
	}
	if cfg.Time.StartTime != config.DefaultStartTime {
		t.Errorf("unchanged flag overrode start time: %g", cfg.Time.StartTime)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	preset = "huge"
	defer func() { preset = "default" }()
	if _, err := loadConfig(newTrainFlags(), "cylinder3d"); err == nil {
		t.Error("expected unknown preset error")
	}

	preset = "smoke"
	cmd := newTrainFlags()
	if err := cmd.Flags().Parse([]string{"--rank", "3"}); err != nil {
		t.Fatal(err)
	}
	if _, err := loadConfig(cmd, "cylinder3d"); err == nil {
		t.Error("expected rank validation error")
	}
}

func TestRecordFields(t *testing.T) {
	rec := tensor.FromRows([][]float64{
		{0, 0, 0, 3, 4, 0, 1},
		{1, 0, 0, 0, 0, 2, 2},
		{2, 1, 0, 1, 0, 0, 3},
	})
	input, exprs := recordFields(rec)
	opts := visu.DefaultOptions()
	opts.BatchSize = 2
	v, err := visu.New(visu.Vtu, input, exprs, opts)
	if err != nil {
		t.Fatal(err)
	}
	data, err := v.Evaluate()
	if err != nil {
		t.Fatal(err)
	}
	again, err := v.Evaluate()
	if err != nil {
		t.Fatalf("second evaluate: %v", err)
	}
	p, _ := data.Get("p")
	speed, _ := data.Get("speed")
	p2, _ := again.Get("p")
	for i := range p.Data {
		if p2.Data[i] != p.Data[i] {
			t.Errorf("second evaluate p[%d] = %g, want %g", i, p2.Data[i], p.Data[i])
		}
	}
	for i, want := range []float64{1, 2, 3} {
		if p.Data[i] != want {
			t.Errorf("p[%d] = %g, want %g", i, p.Data[i], want)
		}
	}
	for i, want := range []float64{5, 2, 1} {
		if speed.Data[i] != want {
			t.Errorf("speed[%d] = %g, want %g", i, speed.Data[i], want)
		}
	}
}

func TestRunVisualize(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "solution_101.npy")
	rec := tensor.FromRows([][]float64{
		{0, 0, 0, 1, 0, 0, 0},
		{1, 0, 0, 1, 0.1, 0, 0.5},
		{0, 1, 1, 0.5, 0, 0, 0.2},
	})
	if err := npy.Save(src, rec); err != nil {
		t.Fatal(err)
	}

	vizKind, vizOut, vizBatch = "vtu", "", 2
	defer func() { vizKind, vizBatch = "vtu", 4096 }()
	if err := runVisualize(nil, []string{src}); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "vtu_solution_101.vtu"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `Name="speed"`) {
		t.Error("vtu missing speed field")
	}

	vizKind = "plot2d"
	if err := runVisualize(nil, []string{src}); err == nil {
		t.Error("expected error for plot2d on point records")
	}
}
