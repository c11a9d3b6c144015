// Package sweep searches a grid of training hyperparameters.
package sweep

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/san-kum/pinnflow/internal/config"
	"github.com/san-kum/pinnflow/internal/parallel"
)

// Param is one swept hyperparameter and the values it takes.
type Param struct {
	Name   string
	Values []float64
}

// ParseParam reads "name=v1,v2,...".
func ParseParam(s string) (Param, error) {
	name, list, ok := strings.Cut(s, "=")
	if !ok || name == "" || list == "" {
		return Param{}, fmt.Errorf("parameter %q: want name=v1,v2,...", s)
	}
	if _, ok := setters[name]; !ok {
		return Param{}, fmt.Errorf("unknown parameter %q (known: %v)", name, Names())
	}
	p := Param{Name: name}
	for _, f := range strings.Split(list, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return Param{}, fmt.Errorf("parameter %s: %w", name, err)
		}
		p.Values = append(p.Values, v)
	}
	return p, nil
}

var setters = map[string]func(*config.Config, float64){
	"lr":          func(c *config.Config, v float64) { c.Optimizer.LR.LearningRate = v },
	"hidden":      func(c *config.Config, v float64) { c.Model.HiddenSize = int(v) },
	"layers":      func(c *config.Config, v float64) { c.Model.NumLayers = int(v) },
	"epochs":      func(c *config.Config, v float64) { c.Global.Epochs = int(v) },
	"seed":        func(c *config.Config, v float64) { c.Geometry.Seed = int64(v) },
	"data_weight": func(c *config.Config, v float64) { c.PDE.DataWeight = v },
	"fd_step":     func(c *config.Config, v float64) { c.PDE.FDStep = v },
}

func Names() []string {
	names := make([]string, 0, len(setters))
	for n := range setters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Apply returns a copy of base with params set.
func Apply(base *config.Config, params map[string]float64) (*config.Config, error) {
	cfg := *base
	for name, v := range params {
		set, ok := setters[name]
		if !ok {
			return nil, fmt.Errorf("unknown parameter %q", name)
		}
		set(&cfg, v)
	}
	return &cfg, nil
}

type Trial struct {
	Params map[string]float64
	Loss   float64
	Err    error
}

type GridSearch struct {
	params  []Param
	workers int
}

func NewGridSearch(params []Param, workers int) *GridSearch {
	return &GridSearch{params: params, workers: workers}
}

// Points lists the grid in row-major order, the last parameter varying fastest.
func (g *GridSearch) Points() []map[string]float64 {
	points := []map[string]float64{{}}
	for _, p := range g.params {
		var next []map[string]float64
		for _, base := range points {
			for _, v := range p.Values {
				pt := make(map[string]float64, len(base)+1)
				for k, bv := range base {
					pt[k] = bv
				}
				pt[p.Name] = v
				next = append(next, pt)
			}
		}
		points = next
	}
	return points
}

// Search runs every grid point and returns all trials plus the index of the
// one with the lowest loss (-1 when every trial failed). A canceled context
// stops the search with ctx.Err().
func (g *GridSearch) Search(ctx context.Context, run func(ctx context.Context, params map[string]float64) (float64, error)) ([]Trial, int, error) {
	points := g.Points()
	losses, errs := parallel.Map(len(points), g.workers, func(i int) (float64, error) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		return run(ctx, points[i])
	})
	if err := ctx.Err(); err != nil {
		return nil, -1, err
	}

	trials := make([]Trial, len(points))
	best := -1
	bestLoss := math.Inf(1)
	for i := range points {
		trials[i] = Trial{Params: points[i], Loss: losses[i], Err: errs[i]}
		if errs[i] == nil && losses[i] < bestLoss {
			best, bestLoss = i, losses[i]
		}
	}
	return trials, best, nil
}

// Label formats params in the grid's parameter order.
func (g *GridSearch) Label(params map[string]float64) string {
	parts := make([]string, 0, len(g.params))
	for _, p := range g.params {
		parts = append(parts, fmt.Sprintf("%s=%g", p.Name, params[p.Name]))
	}
	return strings.Join(parts, " ")
}
