package march

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/san-kum/pinnflow/internal/geometry"
	"github.com/san-kum/pinnflow/internal/realdata"
	"github.com/san-kum/pinnflow/internal/solver"
)

type Driver struct {
	cfg   Config
	prog  *solver.Program
	data  realdata.Accessor
	train Trainer

	vtk       FieldSink
	solution  FieldSink
	ckpt      Checkpointer
	observers []Observer
	out       io.Writer
}

func New(cfg Config, prog *solver.Program, data realdata.Accessor) *Driver {
	return &Driver{
		cfg:   cfg,
		prog:  prog,
		data:  data,
		train: solver.NewExecutor(prog),
		ckpt:  prog.Network(),
		out:   os.Stdout,
	}
}

func (d *Driver) SetSinks(vtk, solution FieldSink) { d.vtk, d.solution = vtk, solution }
func (d *Driver) SetTrainer(t Trainer)             { d.train = t }
func (d *Driver) SetCheckpointer(c Checkpointer)   { d.ckpt = c }
func (d *Driver) SetOutput(w io.Writer)            { d.out = w }
func (d *Driver) AddObserver(o Observer)           { d.observers = append(d.observers, o) }
func (d *Driver) Config() Config                   { return d.cfg }

func (d *Driver) validateConfig() error {
	c := d.cfg
	if c.TimeStep <= 0 {
		return fmt.Errorf("time step must be positive, got %g", c.TimeStep)
	}
	if c.NumTimeSteps < 0 {
		return fmt.Errorf("number of time steps must be non-negative, got %d", c.NumTimeSteps)
	}
	if c.TrainEpochs < 1 {
		return fmt.Errorf("train epochs must be at least 1, got %d", c.TrainEpochs)
	}
	if c.NRanks < 1 || c.Rank < 0 || c.Rank >= c.NRanks {
		return fmt.Errorf("rank %d out of range for %d ranks", c.Rank, c.NRanks)
	}
	opts := d.prog.Options()
	if opts.Rank != c.Rank || opts.NRanks != c.NRanks {
		return fmt.Errorf("program compiled for rank %d/%d, driver configured for %d/%d", opts.Rank, opts.NRanks, c.Rank, c.NRanks)
	}
	return nil
}

// NextTime is the time the network is trained toward at step i.
func (c Config) NextTime(i int) float64 {
	return c.StartTime + float64(i+1)*c.TimeStep
}

// FileName is prefix followed by the time, plus a rank suffix when training is
// split across ranks.
func (c Config) FileName(prefix string, t float64) string {
	name := prefix + strconv.FormatFloat(t, 'f', -1, 64)
	if c.NRanks > 1 {
		name += fmt.Sprintf("_rank%d", c.Rank)
	}
	return name
}

func (d *Driver) Run(ctx context.Context) (*Result, error) {
	if err := d.validateConfig(); err != nil {
		return nil, err
	}
	geo := d.prog.Geometry()

	start, err := d.data.Get(d.cfg.StartTime, realdata.InfoPhysic)
	if err != nil {
		return nil, fmt.Errorf("initial fields at t=%g: %w", d.cfg.StartTime, err)
	}
	carry, err := InitialCarry(geo.Interior().Len(), start)
	if err != nil {
		return nil, err
	}

	labels, err := d.prog.NewLabels()
	if err != nil {
		return nil, err
	}
	feeds := d.prog.InputFeeds()

	iLo, _, _ := d.prog.ShardRange(geometry.InteriorName)
	uLo, _, _ := d.prog.ShardRange(geometry.UserName)
	interiorOut, userOut := 0, d.prog.NumInputs()-1

	result := &Result{Carry: carry}
	built := false

	for i := 0; i < d.cfg.NumTimeSteps; i++ {
		next := d.cfg.NextTime(i)
		fmt.Fprintf(d.out, "############# train next time=%f train task ############\n", next)

		fail := func(err error) (*Result, error) {
			return result, StepError{Step: i, Time: next, Err: err}
		}

		physic, err := d.data.Get(next, realdata.InfoPhysic)
		if err != nil {
			return fail(err)
		}
		if err := labels.SetInteriorCurrent(carry.Interior); err != nil {
			return fail(err)
		}
		if err := labels.SetUserCurrent(carry.User); err != nil {
			return fail(err)
		}
		if err := labels.SetUserNext(physic); err != nil {
			return fail(err)
		}
		if err := d.prog.FeedLabels(feeds, labels); err != nil {
			return fail(err)
		}

		var fetch *solver.Fetch
		stepStart := time.Now()
		for k := 0; k < d.cfg.TrainEpochs; k++ {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			default:
			}

			fetch, err = d.train.Run(feeds)
			if err != nil {
				return fail(err)
			}
			result.Epochs++
			fmt.Fprintf(d.out, "autograd epoch: %d    loss: %g\n", k+1, fetch.Loss)
			if !built {
				built = true
				result.BuildCost = time.Since(stepStart)
				fmt.Fprintf(d.out, "Build cost %.3fs\n", result.BuildCost.Seconds())
				stepStart = time.Now()
			}
			for _, o := range d.observers {
				o.OnEpoch(i, k, next, fetch.Loss)
			}
		}

		elapsed := time.Since(stepStart)
		fmt.Fprintf(d.out, "Step %d loop run %.3fs\n", i, elapsed.Seconds())

		subsets := d.prog.Subsets()
		if d.vtk != nil && d.cfg.VTKPrefix != "" {
			name := d.cfg.FileName(d.cfg.VTKPrefix, next)
			if err := d.vtk.Save(name, subsets, fetch.Outputs); err != nil {
				return fail(fmt.Errorf("mesh output: %w", err))
			}
			result.Files = append(result.Files, name)
		}
		if d.solution != nil && d.cfg.SolutionPrefix != "" {
			name := d.cfg.FileName(d.cfg.SolutionPrefix, next)
			if err := d.solution.Save(name, subsets, fetch.Outputs); err != nil {
				return fail(fmt.Errorf("array output: %w", err))
			}
			result.Files = append(result.Files, name)
		}
		if d.ckpt != nil && d.cfg.CheckpointPrefix != "" && d.cfg.Rank == 0 {
			path := d.cfg.FileName(d.cfg.CheckpointPrefix, next) + ".json"
			if err := d.ckpt.SaveParams(path); err != nil {
				return fail(fmt.Errorf("checkpoint: %w", err))
			}
		}

		if err := carry.Advance(fetch.Outputs[interiorOut], iLo, fetch.Outputs[userOut], uLo); err != nil {
			return fail(err)
		}

		result.Steps++
		result.FinalTime = next
		result.Losses = append(result.Losses, fetch.Loss)
		for _, o := range d.observers {
			o.OnStep(i, next, elapsed, fetch.Loss)
		}
	}

	return result, nil
}
