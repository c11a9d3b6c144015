package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"
	"github.com/san-kum/pinnflow/internal/config"
	"github.com/san-kum/pinnflow/internal/experiment"
	"github.com/san-kum/pinnflow/internal/march"
	"github.com/san-kum/pinnflow/internal/npy"
	"github.com/san-kum/pinnflow/internal/realdata"
	"github.com/san-kum/pinnflow/internal/storage"
	"github.com/san-kum/pinnflow/internal/sweep"
	"github.com/san-kum/pinnflow/internal/tensor"
	"github.com/san-kum/pinnflow/internal/tui"
	"github.com/san-kum/pinnflow/internal/visu"
	"github.com/spf13/cobra"
)

var (
	cyan   = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	dim    = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	green  = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	yellow = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
)

var (
	runsDir    string
	configFile string
	preset     string
	live       bool

	epochs       int
	numTimeSteps int
	startTime    float64
	timeStep     float64
	learningRate float64
	numLayers    int
	hiddenSize   int
	seed         int64
	rank         int
	nranks       int
	dataDir      string

	sweepParams  []string
	sweepWorkers int

	perStep  bool
	vizKind  string
	vizOut   string
	vizBatch int
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "pinnflow",
		Short:         "time-marching physics-informed network training",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&runsDir, "runs", ".pinnflow", "run store directory")

	trainCmd := &cobra.Command{
		Use:   "train [problem]",
		Short: "train a network by marching in time",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runTrain,
	}
	trainCmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	trainCmd.Flags().StringVar(&preset, "preset", "default", "preset configuration")
	trainCmd.Flags().BoolVar(&live, "live", false, "show the live training monitor")
	trainCmd.Flags().IntVar(&epochs, "epochs", config.DefaultEpochs, "optimizer steps per time step")
	trainCmd.Flags().IntVar(&numTimeSteps, "steps", config.DefaultNumTimeSteps, "number of time steps")
	trainCmd.Flags().Float64Var(&startTime, "start", config.DefaultStartTime, "start time")
	trainCmd.Flags().Float64Var(&timeStep, "dt", config.DefaultTimeStep, "time step")
	trainCmd.Flags().Float64Var(&learningRate, "lr", config.DefaultLR, "learning rate")
	trainCmd.Flags().IntVar(&numLayers, "layers", config.DefaultNumLayers, "network layers")
	trainCmd.Flags().IntVar(&hiddenSize, "hidden", config.DefaultHiddenSize, "hidden layer width")
	trainCmd.Flags().Int64Var(&seed, "seed", 1, "sampling and initialization seed")
	trainCmd.Flags().IntVar(&rank, "rank", 0, "data-parallel rank")
	trainCmd.Flags().IntVar(&nranks, "nranks", 1, "data-parallel rank count")
	trainCmd.Flags().StringVar(&dataDir, "data", realdata.DefaultDir, "reference data directory")

	sweepCmd := &cobra.Command{
		Use:   "sweep [problem]",
		Short: "train a grid of hyperparameters and rank them by final loss",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSweep,
	}
	sweepCmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	sweepCmd.Flags().StringVar(&preset, "preset", "quick", "preset configuration")
	sweepCmd.Flags().StringArrayVar(&sweepParams, "param", nil, "swept parameter, name=v1,v2 (repeatable)")
	sweepCmd.Flags().IntVar(&sweepWorkers, "workers", 2, "concurrent trainings")
	sweepCmd.Flags().StringVar(&dataDir, "data", realdata.DefaultDir, "reference data directory")

	fetchCmd := &cobra.Command{
		Use:   "fetch",
		Short: "download and extract the reference dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			src := realdata.NewSource(dataDir)
			if err := src.Ensure(); err != nil {
				return err
			}
			fmt.Printf("%s reference data in %s\n", green.Render("✓"), src.Dir)
			return nil
		},
	}
	fetchCmd.Flags().StringVar(&dataDir, "data", realdata.DefaultDir, "reference data directory")

	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "list stored runs",
		RunE:  listRuns,
	}

	lossCmd := &cobra.Command{
		Use:   "loss [run_id]",
		Short: "plot a run's loss history",
		Args:  cobra.ExactArgs(1),
		RunE:  plotLoss,
	}
	lossCmd.Flags().BoolVar(&perStep, "per-step", false, "plot only the last loss of every time step")

	exportCmd := &cobra.Command{
		Use:   "export [run_id]",
		Short: "export run metadata and losses as json",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st := storage.New(runsDir)
			meta, err := st.Load(args[0])
			if err != nil {
				return err
			}
			losses, err := st.LoadLosses(args[0])
			if err != nil {
				return err
			}
			return storage.WriteJSON(os.Stdout, *meta, losses)
		},
	}

	visualizeCmd := &cobra.Command{
		Use:   "visualize [solution.npy]",
		Short: "render a saved solution as vtu or scatter plots",
		Args:  cobra.ExactArgs(1),
		RunE:  runVisualize,
	}
	visualizeCmd.Flags().StringVar(&vizKind, "kind", "vtu", "visualizer: vtu, vtu3d, scatter1d")
	visualizeCmd.Flags().StringVar(&vizOut, "out", "", "output file name (without extension)")
	visualizeCmd.Flags().IntVar(&vizBatch, "batch", 4096, "rows evaluated per batch")

	presetsCmd := &cobra.Command{
		Use:   "presets [problem]",
		Short: "list available presets for a problem",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			problems := config.ListProblems()
			if len(args) == 1 {
				problems = args
			}
			for _, problem := range problems {
				presets := config.ListPresets(problem)
				if len(presets) == 0 {
					fmt.Printf("no presets for problem: %s\n", problem)
					continue
				}
				fmt.Printf("presets for %s:\n", cyan.Render(problem))
				for _, p := range presets {
					fmt.Printf("  %s\n", p)
				}
			}
			return nil
		},
	}

	configCmd := &cobra.Command{
		Use:   "config [path]",
		Short: "write a configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.GetPreset("cylinder3d", preset)
			if cfg == nil {
				return fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets("cylinder3d"))
			}
			if err := config.Save(args[0], cfg); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", args[0])
			return nil
		},
	}
	configCmd.Flags().StringVar(&preset, "preset", "default", "preset to write")

	rootCmd.AddCommand(trainCmd, sweepCmd, fetchCmd, runsCmd, lossCmd, exportCmd, visualizeCmd, presetsCmd, configCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig layers the preset, the config file and explicitly set flags.
func loadConfig(cmd *cobra.Command, problem string) (*config.Config, error) {
	cfg := config.GetPreset(problem, preset)
	if cfg == nil {
		return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets(problem))
	}
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("epochs") {
		cfg.Global.Epochs = epochs
	}
	if flags.Changed("steps") {
		cfg.Time.NumTimeSteps = numTimeSteps
	}
	if flags.Changed("start") {
		cfg.Time.StartTime = startTime
	}
	if flags.Changed("dt") {
		cfg.Time.TimeStep = timeStep
	}
	if flags.Changed("lr") {
		cfg.Optimizer.LR.LearningRate = learningRate
	}
	if flags.Changed("layers") {
		cfg.Model.NumLayers = numLayers
	}
	if flags.Changed("hidden") {
		cfg.Model.HiddenSize = hiddenSize
	}
	if flags.Changed("seed") {
		cfg.Geometry.Seed = seed
	}
	if flags.Changed("rank") {
		cfg.Global.Rank = rank
	}
	if flags.Changed("nranks") {
		cfg.Global.NRanks = nranks
	}
	if flags.Changed("data") {
		cfg.Data.Dir = dataDir
	}
	return cfg, cfg.Validate()
}

func runTrain(cmd *cobra.Command, args []string) error {
	problem := "cylinder3d"
	if len(args) == 1 {
		problem = args[0]
	}
	cfg, err := loadConfig(cmd, problem)
	if err != nil {
		return err
	}

	device, err := config.DeviceFromEnv()
	if err != nil {
		return err
	}
	fmt.Printf("%s %s  %s\n", cyan.Render(problem), dim.Render(preset), dim.Render(fmt.Sprintf("device %d  rank %d/%d", device, cfg.Global.Rank, cfg.Global.NRanks)))

	src := realdata.NewSource(cfg.Data.Dir)
	if cfg.Data.URL != "" {
		src.URL = cfg.Data.URL
	}

	exp := experiment.New(problem, cfg, src)
	if err := exp.Setup(experiment.NewRegistry()); err != nil {
		return err
	}
	rec := storage.NewRecorder()
	d := exp.Driver()
	d.AddObserver(rec)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var res *march.Result
	if live {
		info := tui.Info{
			Title:     problem,
			Steps:     cfg.Time.NumTimeSteps,
			Epochs:    cfg.Global.Epochs,
			StartTime: cfg.Time.StartTime,
			TimeStep:  cfg.Time.TimeStep,
		}
		err = tui.Run(ctx, info, func(ctx context.Context, mon *tui.Monitor) error {
			d.AddObserver(mon)
			d.SetOutput(io.Discard)
			var runErr error
			res, runErr = exp.Run(ctx)
			return runErr
		})
	} else {
		res, err = exp.Run(ctx)
	}

	if res != nil && res.Epochs > 0 {
		id, saveErr := saveRun(problem, cfg, device, res, rec)
		if saveErr != nil {
			fmt.Fprintf(os.Stderr, "%s run not saved: %v\n", yellow.Render("!"), saveErr)
		} else {
			fmt.Printf("%s run saved: %s\n", green.Render("✓"), id)
		}
	}
	if err != nil {
		var se march.StepError
		if errors.As(err, &se) {
			return fmt.Errorf("time step %d (next time %g): %w", se.Step, se.Time, se.Err)
		}
		return err
	}
	fmt.Printf("%s %d steps, %d epochs, t=%g, build cost %s\n",
		green.Render("done"), res.Steps, res.Epochs, res.FinalTime, res.BuildCost.Round(time.Millisecond))
	return nil
}

func runSweep(cmd *cobra.Command, args []string) error {
	problem := "cylinder3d"
	if len(args) == 1 {
		problem = args[0]
	}
	if len(sweepParams) == 0 {
		return fmt.Errorf("no --param given (known: %v)", sweep.Names())
	}
	base, err := loadConfig(cmd, problem)
	if err != nil {
		return err
	}
	base.PostProcessing = config.PostProcessingConfig{}

	var params []sweep.Param
	for _, s := range sweepParams {
		p, err := sweep.ParseParam(s)
		if err != nil {
			return err
		}
		params = append(params, p)
	}

	src := realdata.NewSource(base.Data.Dir)
	if base.Data.URL != "" {
		src.URL = base.Data.URL
	}
	if err := src.Ensure(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	g := sweep.NewGridSearch(params, sweepWorkers)
	reg := experiment.NewRegistry()
	fmt.Printf("%s %d trials, %d workers\n", cyan.Render("sweep"), len(g.Points()), sweepWorkers)
	trials, best, err := g.Search(ctx, func(ctx context.Context, p map[string]float64) (float64, error) {
		cfg, err := sweep.Apply(base, p)
		if err != nil {
			return 0, err
		}
		exp := experiment.New(problem, cfg, src)
		if err := exp.Setup(reg); err != nil {
			return 0, err
		}
		exp.Driver().SetOutput(io.Discard)
		res, err := exp.Run(ctx)
		if err != nil {
			return 0, err
		}
		if len(res.Losses) == 0 {
			return 0, fmt.Errorf("no time steps trained")
		}
		fmt.Printf("  %s %s\n", dim.Render(g.Label(p)), fmt.Sprintf("%.4g", res.Losses[len(res.Losses)-1]))
		return res.Losses[len(res.Losses)-1], nil
	})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\nPARAMS\tFINAL LOSS")
	for i, t := range trials {
		loss := fmt.Sprintf("%.4g", t.Loss)
		if t.Err != nil {
			loss = "error: " + t.Err.Error()
		}
		mark := ""
		if i == best {
			mark = "  *"
		}
		fmt.Fprintf(w, "%s\t%s%s\n", g.Label(t.Params), loss, mark)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if best < 0 {
		return fmt.Errorf("every trial failed")
	}
	fmt.Printf("%s best: %s\n", green.Render("✓"), g.Label(trials[best].Params))
	return nil
}

func saveRun(problem string, cfg *config.Config, device int, res *march.Result, rec *storage.Recorder) (string, error) {
	st := storage.New(runsDir)
	if err := st.Init(); err != nil {
		return "", err
	}
	meta := storage.RunMetadata{
		Problem:      problem,
		Preset:       preset,
		Seed:         cfg.Geometry.Seed,
		NPoints:      cfg.Geometry.NPoints,
		Sampler:      cfg.Geometry.SamplerMethod,
		Epochs:       cfg.Global.Epochs,
		NumLayers:    cfg.Model.NumLayers,
		HiddenSize:   cfg.Model.HiddenSize,
		Activation:   cfg.Model.Activation,
		LearningRate: cfg.Optimizer.LR.LearningRate,
		StartTime:    cfg.Time.StartTime,
		TimeStep:     cfg.Time.TimeStep,
		NumTimeSteps: cfg.Time.NumTimeSteps,
		Rank:         cfg.Global.Rank,
		NRanks:       cfg.Global.NRanks,
		Device:       device,
		Files:        res.Files,
		Metrics:      rec.Metrics(),
	}
	meta.Metrics["build_seconds"] = res.BuildCost.Seconds()
	return st.Save(meta, rec.Losses())
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(runsDir)
	runs, err := st.List()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPROBLEM\tTIME\tSTEPS\tEPOCHS\tNET\tFINAL LOSS")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%dx%d\t%.4g\n",
			run.ID,
			run.Problem,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.NumTimeSteps,
			run.Epochs,
			run.NumLayers,
			run.HiddenSize,
			run.Metrics["final_loss"],
		)
	}
	return w.Flush()
}

func plotLoss(cmd *cobra.Command, args []string) error {
	st := storage.New(runsDir)
	meta, err := st.Load(args[0])
	if err != nil {
		return err
	}
	losses, err := st.LoadLosses(args[0])
	if err != nil {
		return err
	}
	if len(losses) == 0 {
		return fmt.Errorf("run %s has no losses", args[0])
	}

	data := make([]float64, len(losses))
	caption := "loss per optimizer step (log10)"
	for i, l := range losses {
		data[i] = l.Loss
	}
	if perStep {
		data = storage.StepLosses(losses)
		caption = "loss per time step (log10)"
	}
	for i, v := range data {
		data[i] = math.Log10(math.Max(v, 1e-300))
	}

	fmt.Printf("problem: %s\n", meta.Problem)
	fmt.Printf("samples: %d\n\n", len(data))
	graph := asciigraph.Plot(data,
		asciigraph.Height(15),
		asciigraph.Width(80),
		asciigraph.Caption(caption),
	)
	fmt.Println(graph)
	return nil
}

func runVisualize(cmd *cobra.Command, args []string) error {
	rec, err := npy.Load(args[0])
	if err != nil {
		return err
	}
	if rec.Rank() != 2 || rec.Cols() < realdata.RecordWidth {
		return fmt.Errorf("%s: expected (n, %d) records, got %v", args[0], realdata.RecordWidth, rec.Shape)
	}

	kind, err := visu.ParseKind(vizKind)
	if err != nil {
		return err
	}
	switch kind {
	case visu.Vtu, visu.Vtu3D, visu.Scatter1D:
	default:
		return fmt.Errorf("visualizer %s does not take point records (want vtu, vtu3d or scatter1d)", kind)
	}
	input, exprs := recordFields(rec)
	opts := visu.DefaultOptions()
	opts.BatchSize = vizBatch
	if kind == visu.Scatter1D {
		opts.CoordKeys = []string{"x"}
	}
	v, err := visu.New(kind, input, exprs, opts)
	if err != nil {
		return err
	}
	data, err := v.Evaluate()
	if err != nil {
		return err
	}

	out := vizOut
	if out == "" {
		out = filepath.Join(filepath.Dir(args[0]), v.Prefix()+"_"+strings.TrimSuffix(filepath.Base(args[0]), ".npy"))
	}
	artifacts, err := v.Save(out, data)
	if err != nil {
		return err
	}
	for _, a := range artifacts {
		fmt.Printf("%s %s %s\n", green.Render("✓"), a.Path, dim.Render(fmt.Sprintf("%d frame(s)", a.Frames)))
	}
	return nil
}

// recordFields splits (x, y, z, u, v, w, p) records into coordinate inputs
// and field outputs, plus the velocity magnitude.
func recordFields(rec tensor.Array) (*visu.Fields, []visu.Expr) {
	input := visu.NewFields().
		Set("x", rec.ColSlice(0, 1)).
		Set("y", rec.ColSlice(1, 2)).
		Set("z", rec.ColSlice(2, 3))

	speed := tensor.New(rec.Len(), 1)
	for r := 0; r < rec.Len(); r++ {
		u, v, w := rec.At(r, 3), rec.At(r, 4), rec.At(r, 5)
		speed.Data[r] = math.Sqrt(u*u + v*v + w*w)
	}
	return input, []visu.Expr{
		recordColumn("u", rec.ColSlice(3, 4)),
		recordColumn("v", rec.ColSlice(4, 5)),
		recordColumn("w", rec.ColSlice(5, 6)),
		recordColumn("p", rec.ColSlice(6, 7)),
		recordColumn("speed", speed),
	}
}

// recordColumn serves the rows of col that line up with each batch.
func recordColumn(name string, col tensor.Array) visu.Expr {
	return visu.Expr{Name: name, Fn: func(in *visu.Fields) (tensor.Array, error) {
		x, ok := in.Get("x")
		if !ok {
			return tensor.Array{}, fmt.Errorf("no input field %q", "x")
		}
		lo, hi := in.Offset(), in.Offset()+x.Len()
		if hi > col.Len() {
			return tensor.Array{}, fmt.Errorf("rows [%d,%d) past the %d records", lo, hi, col.Len())
		}
		return col.Rows(lo, hi), nil
	}}
}
