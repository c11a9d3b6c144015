package sweep

import (
	"context"
	"errors"
	"testing"

	"github.com/san-kum/pinnflow/internal/config"
)

func TestParseParam(t *testing.T) {
	p, err := ParseParam("lr=1e-3, 1e-2")
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "lr" || len(p.Values) != 2 || p.Values[1] != 1e-2 {
		t.Errorf("got %+v", p)
	}
	for _, bad := range []string{"lr", "=1", "momentum=0.9", "lr=fast"} {
		if _, err := ParseParam(bad); err == nil {
			t.Errorf("ParseParam(%q) should fail", bad)
		}
	}
}

func TestApply_Copies(t *testing.T) {
	base := config.DefaultConfig()
	cfg, err := Apply(base, map[string]float64{"hidden": 16, "lr": 0.01})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Model.HiddenSize != 16 || cfg.Optimizer.LR.LearningRate != 0.01 {
		t.Errorf("params not applied: %+v", cfg.Model)
	}
	if base.Model.HiddenSize != config.DefaultHiddenSize {
		t.Error("base config modified")
	}
}

func TestGridSearch_Points(t *testing.T) {
	g := NewGridSearch([]Param{
		{Name: "lr", Values: []float64{1, 2}},
		{Name: "hidden", Values: []float64{10, 20, 30}},
	}, 2)
	pts := g.Points()
	if len(pts) != 6 {
		t.Fatalf("got %d points, want 6", len(pts))
	}
	if pts[1]["lr"] != 1 || pts[1]["hidden"] != 20 {
		t.Errorf("pts[1] = %v", pts[1])
	}
	if got := g.Label(pts[5]); got != "lr=2 hidden=30" {
		t.Errorf("label = %q", got)
	}
}

func TestGridSearch_Best(t *testing.T) {
	g := NewGridSearch([]Param{{Name: "lr", Values: []float64{0.1, 0.01, 0.001}}}, 3)
	trials, best, err := g.Search(context.Background(), func(_ context.Context, p map[string]float64) (float64, error) {
		if p["lr"] == 0.001 {
			return 0, errors.New("diverged")
		}
		return p["lr"] * 10, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if best != 1 {
		t.Errorf("best = %d, want 1", best)
	}
	if trials[2].Err == nil {
		t.Error("failed trial lost its error")
	}
}

func TestGridSearch_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	g := NewGridSearch([]Param{{Name: "seed", Values: []float64{1, 2}}}, 1)
	_, _, err := g.Search(ctx, func(context.Context, map[string]float64) (float64, error) { return 1, nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
