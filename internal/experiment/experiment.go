// Package experiment wires a configured problem into a ready-to-run march.
package experiment

import (
	"context"
	"fmt"

	"github.com/san-kum/pinnflow/internal/config"
	"github.com/san-kum/pinnflow/internal/march"
	"github.com/san-kum/pinnflow/internal/nn"
	"github.com/san-kum/pinnflow/internal/pde"
	"github.com/san-kum/pinnflow/internal/realdata"
	"github.com/san-kum/pinnflow/internal/solver"
	"github.com/san-kum/pinnflow/internal/visu"
)

type Experiment struct {
	problem string
	cfg     *config.Config
	data    realdata.Accessor

	disc   *pde.Discretized
	net    *nn.FCNet
	prog   *solver.Program
	driver *march.Driver
}

func New(problem string, cfg *config.Config, data realdata.Accessor) *Experiment {
	return &Experiment{problem: problem, cfg: cfg, data: data}
}

// Setup discretizes the problem, builds the network and optimizer, compiles
// the program and prepares the driver with mesh and array sinks.
func (e *Experiment) Setup(reg *Registry) error {
	if err := e.cfg.Validate(); err != nil {
		return err
	}
	p, err := reg.GetProblem(e.problem)
	if err != nil {
		return err
	}
	disc, err := p.Build(e.cfg, e.data)
	if err != nil {
		return fmt.Errorf("%s: %w", e.problem, err)
	}

	act, err := nn.ParseActivation(e.cfg.Model.Activation)
	if err != nil {
		return err
	}
	net, err := nn.New(nn.Config{
		NumIns:     3,
		NumOuts:    len(pde.Fields),
		NumLayers:  e.cfg.Model.NumLayers,
		HiddenSize: e.cfg.Model.HiddenSize,
		Activation: act,
	}, e.cfg.Geometry.Seed)
	if err != nil {
		return err
	}

	opts := solver.Options{
		DataWeight: e.cfg.PDE.DataWeight,
		FDStep:     e.cfg.PDE.FDStep,
		Rank:       e.cfg.Global.Rank,
		NRanks:     e.cfg.Global.NRanks,
	}
	prog, err := solver.Compile(disc, net, nn.NewAdam(e.cfg.Optimizer.LR.LearningRate), solver.MarchingLayout(), opts)
	if err != nil {
		return fmt.Errorf("compile: %w", err)
	}

	pp := e.cfg.PostProcessing
	d := march.New(march.Config{
		StartTime:        e.cfg.Time.StartTime,
		TimeStep:         e.cfg.Time.TimeStep,
		NumTimeSteps:     e.cfg.Time.NumTimeSteps,
		TrainEpochs:      e.cfg.Global.Epochs,
		Rank:             e.cfg.Global.Rank,
		NRanks:           e.cfg.Global.NRanks,
		VTKPrefix:        pp.VTKFilename,
		SolutionPrefix:   pp.SolutionFilename,
		CheckpointPrefix: pp.CheckpointPath,
	}, prog, e.data)
	d.SetSinks(visu.MeshWriter{}, visu.ArrayWriter{})

	e.disc, e.net, e.prog, e.driver = disc, net, prog, d
	return nil
}

func (e *Experiment) Run(ctx context.Context) (*march.Result, error) {
	if e.driver == nil {
		return nil, fmt.Errorf("experiment not setup")
	}
	return e.driver.Run(ctx)
}

// Driver returns the underlying driver for adding observers.
func (e *Experiment) Driver() *march.Driver         { return e.driver }
func (e *Experiment) Program() *solver.Program      { return e.prog }
func (e *Experiment) Network() *nn.FCNet            { return e.net }
func (e *Experiment) Discretized() *pde.Discretized { return e.disc }
func (e *Experiment) Config() *config.Config        { return e.cfg }
