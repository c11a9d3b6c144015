package march_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/pinnflow/internal/geometry"
	"github.com/san-kum/pinnflow/internal/march"
	"github.com/san-kum/pinnflow/internal/nn"
	"github.com/san-kum/pinnflow/internal/pde"
	"github.com/san-kum/pinnflow/internal/realdata"
	"github.com/san-kum/pinnflow/internal/solver"
	"github.com/san-kum/pinnflow/internal/tensor"
)

type tableData struct {
	rows  int
	calls []float64
	bad   map[float64]bool
}

func (d *tableData) Get(t float64, info realdata.Info) (tensor.Array, error) {
	d.calls = append(d.calls, t)
	if d.bad[t] {
		return tensor.Array{}, fmt.Errorf("%w: no file for t=%g", realdata.ErrDataUnavailable, t)
	}
	a := tensor.New(d.rows, 4)
	for i := 0; i < d.rows; i++ {
		for j := 0; j < 4; j++ {
			a.Set(i, j, t*0.01+float64(j)*0.1)
		}
	}
	return a, nil
}

type recordingSink struct {
	names []string
	sizes [][]int
}

func (s *recordingSink) Save(name string, subsets []geometry.Subset, fields []tensor.Array) error {
	s.names = append(s.names, name)
	var sz []int
	for i, sub := range subsets {
		Expect(fields[i].Len()).To(Equal(sub.Size()))
		sz = append(sz, sub.Size())
	}
	s.sizes = append(s.sizes, sz)
	return nil
}

type countingTrainer struct {
	inner       march.Trainer
	runs        int
	interiorLbl [][]int
}

func (c *countingTrainer) Run(feeds solver.FeedDict) (*solver.Fetch, error) {
	c.runs++
	c.interiorLbl = append(c.interiorLbl, feeds[solver.LabelName(0)].Shape)
	return c.inner.Run(feeds)
}

type ckptRecorder struct{ paths []string }

func (c *ckptRecorder) SaveParams(path string) error {
	c.paths = append(c.paths, path)
	return nil
}

type stepLog struct {
	epochs int
	steps  []float64
}

func (l *stepLog) OnEpoch(step, epoch int, t, loss float64) { l.epochs++ }
func (l *stepLog) OnStep(step int, t float64, elapsed time.Duration, loss float64) {
	l.steps = append(l.steps, t)
}

func compileProgram(rank, nranks int) *solver.Program {
	interior := tensor.FromRows([][]float64{
		{0.1, 0.2, 0.0}, {0.3, -0.1, 0.1}, {-0.2, 0.4, 0.2}, {0.5, 0.5, -0.1},
	})
	left := tensor.FromRows([][]float64{{-1, 0, 0}, {-1, 0.5, 0.1}})
	geo, err := geometry.NewDiscretized(interior, []geometry.Subset{{Name: "left", Points: left}})
	Expect(err).NotTo(HaveOccurred())
	geo, err = geo.WithUser(tensor.FromRows([][]float64{{0.2, 0.1, 0}, {0.4, 0.3, 0.1}}))
	Expect(err).NotTo(HaveOccurred())

	ns := pde.NewNavierStokes(0.01, 1, 3, true, [4]float64{0.01, 0.01, 0.01, 0.01})
	ns.AddBC("left", pde.Dirichlet{Field: "u", RHS: 1, Weight: 1})
	d, err := ns.Discretize(pde.Implicit, 1, geo)
	Expect(err).NotTo(HaveOccurred())

	net, err := nn.New(nn.Config{NumIns: 3, NumOuts: 4, NumLayers: 2, HiddenSize: 5, Activation: nn.Tanh}, 1)
	Expect(err).NotTo(HaveOccurred())

	opts := solver.DefaultOptions()
	opts.Rank, opts.NRanks = rank, nranks
	prog, err := solver.Compile(d, net, nn.NewAdam(1e-3), solver.MarchingLayout(), opts)
	Expect(err).NotTo(HaveOccurred())
	return prog
}

var _ = Describe("Driver", func() {
	var (
		prog     *solver.Program
		data     *tableData
		vtk      *recordingSink
		solution *recordingSink
		ckpt     *ckptRecorder
		trainer  *countingTrainer
		out      *bytes.Buffer
		cfg      march.Config
	)

	newDriver := func() *march.Driver {
		d := march.New(cfg, prog, data)
		d.SetSinks(vtk, solution)
		d.SetCheckpointer(ckpt)
		d.SetTrainer(trainer)
		d.SetOutput(out)
		return d
	}

	BeforeEach(func() {
		prog = compileProgram(0, 1)
		data = &tableData{rows: 2, bad: map[float64]bool{}}
		vtk = &recordingSink{}
		solution = &recordingSink{}
		ckpt = &ckptRecorder{}
		trainer = &countingTrainer{inner: solver.NewExecutor(prog)}
		out = &bytes.Buffer{}
		cfg = march.Config{
			StartTime:        100,
			TimeStep:         1,
			NumTimeSteps:     3,
			TrainEpochs:      2,
			NRanks:           1,
			VTKPrefix:        "vtk/rslt_",
			SolutionPrefix:   "sol/out_",
			CheckpointPrefix: "ckpt/model_",
		}
	})

	It("trains every step for exactly the configured epochs", func() {
		res, err := newDriver().Run(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Steps).To(Equal(3))
		Expect(res.Epochs).To(Equal(6))
		Expect(trainer.runs).To(Equal(6))
		Expect(res.Losses).To(HaveLen(3))
		Expect(res.FinalTime).To(BeNumerically("~", 103, 1e-12))
	})

	It("writes both outputs keyed by the next time", func() {
		_, err := newDriver().Run(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(vtk.names).To(Equal([]string{"vtk/rslt_101", "vtk/rslt_102", "vtk/rslt_103"}))
		Expect(solution.names).To(Equal([]string{"sol/out_101", "sol/out_102", "sol/out_103"}))
		Expect(ckpt.paths).To(Equal([]string{"ckpt/model_101.json", "ckpt/model_102.json", "ckpt/model_103.json"}))
		Expect(vtk.sizes[0]).To(Equal([]int{4, 2, 2}))
	})

	It("fetches the start fields and each next time", func() {
		_, err := newDriver().Run(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(data.calls).To(Equal([]float64{100, 101, 102, 103}))
	})

	It("always feeds an interior label of three columns", func() {
		_, err := newDriver().Run(context.Background())
		Expect(err).NotTo(HaveOccurred())
		for _, shape := range trainer.interiorLbl {
			Expect(shape).To(Equal([]int{4, 3}))
		}
	})

	It("carries the last predicted velocity forward", func() {
		cfg.NumTimeSteps = 1
		cfg.TrainEpochs = 1
		var last *solver.Fetch
		trainer.inner = trainerFunc(func(feeds solver.FeedDict) (*solver.Fetch, error) {
			f, err := solver.NewExecutor(prog).Run(feeds)
			last = f
			return f, err
		})
		res, err := newDriver().Run(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Carry.Interior.Equal(march.Velocity(last.Outputs[0]))).To(BeTrue())
		Expect(res.Carry.User.Equal(march.Velocity(last.Outputs[len(last.Outputs)-1]))).To(BeTrue())
	})

	It("reports build cost once", func() {
		_, err := newDriver().Run(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(strings.Count(out.String(), "Build cost")).To(Equal(1))
		Expect(strings.Count(out.String(), "autograd epoch:")).To(Equal(6))
		Expect(out.String()).To(ContainSubstring("train next time=101.000000"))
	})

	It("notifies observers", func() {
		log := &stepLog{}
		d := newDriver()
		d.AddObserver(log)
		_, err := d.Run(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(log.epochs).To(Equal(6))
		Expect(log.steps).To(Equal([]float64{101, 102, 103}))
	})

	Context("with zero time steps", func() {
		It("neither trains nor writes", func() {
			cfg.NumTimeSteps = 0
			res, err := newDriver().Run(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Steps).To(BeZero())
			Expect(trainer.runs).To(BeZero())
			Expect(vtk.names).To(BeEmpty())
			Expect(solution.names).To(BeEmpty())
			Expect(ckpt.paths).To(BeEmpty())
		})
	})

	Context("when reference data is missing", func() {
		It("fails the step with the data error", func() {
			data.bad[102] = true
			res, err := newDriver().Run(context.Background())
			Expect(errors.Is(err, realdata.ErrDataUnavailable)).To(BeTrue())
			var se march.StepError
			Expect(errors.As(err, &se)).To(BeTrue())
			Expect(se.Step).To(Equal(1))
			Expect(res.Steps).To(Equal(1))
		})
	})

	Context("when reference data has the wrong size", func() {
		It("surfaces a shape mismatch", func() {
			data.rows = 3
			_, err := newDriver().Run(context.Background())
			Expect(err).To(HaveOccurred())
		})

		It("rejects a bad next-time array", func() {
			bad := &resizingData{tableData: data, at: 101, rows: 5}
			d := march.New(cfg, prog, bad)
			d.SetTrainer(trainer)
			d.SetOutput(out)
			_, err := d.Run(context.Background())
			Expect(errors.Is(err, solver.ErrShapeMismatch)).To(BeTrue())
			Expect(trainer.runs).To(BeZero())
		})
	})

	It("stops when the context is cancelled", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := newDriver().Run(ctx)
		Expect(err).To(MatchError(context.Canceled))
		Expect(trainer.runs).To(BeZero())
	})

	It("rejects invalid configuration", func() {
		cfg.TrainEpochs = 0
		_, err := newDriver().Run(context.Background())
		Expect(err).To(HaveOccurred())

		cfg.TrainEpochs = 1
		cfg.NRanks = 2
		_, err = newDriver().Run(context.Background())
		Expect(err).To(HaveOccurred())
	})

	Context("on rank 1 of 2", func() {
		BeforeEach(func() {
			prog = compileProgram(1, 2)
			trainer = &countingTrainer{inner: solver.NewExecutor(prog)}
			cfg.Rank, cfg.NRanks = 1, 2
			cfg.NumTimeSteps = 1
			cfg.TrainEpochs = 1
		})

		It("writes rank-suffixed shard files and no checkpoint", func() {
			res, err := newDriver().Run(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(vtk.names).To(Equal([]string{"vtk/rslt_101_rank1"}))
			Expect(vtk.sizes[0]).To(Equal([]int{2, 1, 1}))
			Expect(ckpt.paths).To(BeEmpty())
			Expect(res.Carry.Interior.Len()).To(Equal(4))
		})
	})
})

type trainerFunc func(solver.FeedDict) (*solver.Fetch, error)

func (f trainerFunc) Run(feeds solver.FeedDict) (*solver.Fetch, error) { return f(feeds) }

type resizingData struct {
	*tableData
	at   float64
	rows int
}

func (r *resizingData) Get(t float64, info realdata.Info) (tensor.Array, error) {
	if t == r.at {
		return tensor.New(r.rows, 4), nil
	}
	return r.tableData.Get(t, info)
}
