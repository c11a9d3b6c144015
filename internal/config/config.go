package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

const (
	DefaultEpochs       = 2000
	DefaultNumLayers    = 10
	DefaultHiddenSize   = 50
	DefaultLR           = 0.001
	DefaultStartTime    = 100.0
	DefaultTimeStep     = 1.0
	DefaultNumTimeSteps = 10
	DefaultNu           = 0.01
	DefaultRho          = 1.0
	DefaultDataWeight   = 100.0
	DefaultFDStep       = 1e-3

	DeviceEnv = "FLAGS_selected_gpus"
)

type Config struct {
	Geometry       GeometryConfig       `yaml:"Geometry"`
	Global         GlobalConfig         `yaml:"Global"`
	Model          ModelConfig          `yaml:"Model"`
	Optimizer      OptimizerConfig      `yaml:"Optimizer"`
	PostProcessing PostProcessingConfig `yaml:"Post-processing"`
	Time           TimeConfig           `yaml:"Time"`
	PDE            PDEConfig            `yaml:"PDE"`
	Data           DataConfig           `yaml:"Data"`
}

type GeometryConfig struct {
	NPoints       [3]int     `yaml:"npoints"`
	Seed          int64      `yaml:"seed"`
	SamplerMethod string     `yaml:"sampler_method"`
	Origin        [3]float64 `yaml:"origin"`
	Extent        [3]float64 `yaml:"extent"`
	CircleCenter  [2]float64 `yaml:"circle_center"`
	CircleRadius  float64    `yaml:"circle_radius"`
}

type GlobalConfig struct {
	Epochs int `yaml:"epochs"`
	Rank   int `yaml:"rank"`
	NRanks int `yaml:"nranks"`
}

type ModelConfig struct {
	NumLayers  int    `yaml:"num_layers"`
	HiddenSize int    `yaml:"hidden_size"`
	Activation string `yaml:"activation"`
}

type OptimizerConfig struct {
	LR LRConfig `yaml:"lr"`
}

type LRConfig struct {
	LearningRate float64 `yaml:"learning_rate"`
}

type PostProcessingConfig struct {
	SolutionFilename string `yaml:"solution_filename"`
	VTKFilename      string `yaml:"vtk_filename"`
	CheckpointPath   string `yaml:"checkpoint_path"`
}

type TimeConfig struct {
	StartTime    float64 `yaml:"start_time"`
	TimeStep     float64 `yaml:"time_step"`
	NumTimeSteps int     `yaml:"num_time_step"`
}

type PDEConfig struct {
	Nu         float64    `yaml:"nu"`
	Rho        float64    `yaml:"rho"`
	Weight     [4]float64 `yaml:"weight"`
	DataWeight float64    `yaml:"data_weight"`
	FDStep     float64    `yaml:"fd_step"`
}

type DataConfig struct {
	Dir string `yaml:"dir"`
	URL string `yaml:"url"`
}

func DefaultConfig() *Config {
	return &Config{
		Geometry: GeometryConfig{
			NPoints:       [3]int{200, 50, 4},
			Seed:          1,
			SamplerMethod: "uniform",
			Origin:        [3]float64{-8, -8, -2},
			Extent:        [3]float64{25, 8, 2},
			CircleCenter:  [2]float64{0, 0},
			CircleRadius:  0.5,
		},
		Global: GlobalConfig{Epochs: DefaultEpochs, NRanks: 1},
		Model: ModelConfig{
			NumLayers:  DefaultNumLayers,
			HiddenSize: DefaultHiddenSize,
			Activation: "tanh",
		},
		Optimizer: OptimizerConfig{LR: LRConfig{LearningRate: DefaultLR}},
		PostProcessing: PostProcessingConfig{
			SolutionFilename: "output_cylinder3d_unsteady",
			VTKFilename:      "train_cylinder_unsteady_re100/cylinder3d_train_rslt_",
			CheckpointPath:   "checkpoint/cylinder3d_model_",
		},
		Time: TimeConfig{
			StartTime:    DefaultStartTime,
			TimeStep:     DefaultTimeStep,
			NumTimeSteps: DefaultNumTimeSteps,
		},
		PDE: PDEConfig{
			Nu:         DefaultNu,
			Rho:        DefaultRho,
			Weight:     [4]float64{0.01, 0.01, 0.01, 0.01},
			DataWeight: DefaultDataWeight,
			FDStep:     DefaultFDStep,
		},
		Data: DataConfig{Dir: "openfoam_cylinder_re100"},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) Validate() error {
	for i, n := range c.Geometry.NPoints {
		if n < 2 {
			return fmt.Errorf("geometry: npoints[%d] must be at least 2, got %d", i, n)
		}
	}
	switch c.Geometry.SamplerMethod {
	case "uniform", "sampling":
	default:
		return fmt.Errorf("geometry: unknown sampler method %q", c.Geometry.SamplerMethod)
	}
	for i, e := range c.Geometry.Extent {
		if e <= c.Geometry.Origin[i] {
			return fmt.Errorf("geometry: extent[%d]=%g must exceed origin %g", i, e, c.Geometry.Origin[i])
		}
	}
	if c.Geometry.CircleRadius <= 0 {
		return fmt.Errorf("geometry: circle radius must be positive, got %g", c.Geometry.CircleRadius)
	}
	if c.Global.Epochs < 1 {
		return fmt.Errorf("global: epochs must be at least 1, got %d", c.Global.Epochs)
	}
	if c.Global.NRanks < 1 || c.Global.Rank < 0 || c.Global.Rank >= c.Global.NRanks {
		return fmt.Errorf("global: rank %d out of range for %d ranks", c.Global.Rank, c.Global.NRanks)
	}
	if c.Model.NumLayers < 2 {
		return fmt.Errorf("model: num_layers must be at least 2, got %d", c.Model.NumLayers)
	}
	if c.Model.HiddenSize < 1 {
		return fmt.Errorf("model: hidden_size must be positive, got %d", c.Model.HiddenSize)
	}
	switch c.Model.Activation {
	case "tanh", "sigmoid":
	default:
		return fmt.Errorf("model: unknown activation %q", c.Model.Activation)
	}
	if c.Optimizer.LR.LearningRate <= 0 {
		return fmt.Errorf("optimizer: learning rate must be positive, got %g", c.Optimizer.LR.LearningRate)
	}
	if c.Time.TimeStep <= 0 {
		return fmt.Errorf("time: time_step must be positive, got %g", c.Time.TimeStep)
	}
	if c.Time.NumTimeSteps < 0 {
		return fmt.Errorf("time: num_time_step must be non-negative, got %d", c.Time.NumTimeSteps)
	}
	if c.PDE.Rho <= 0 {
		return fmt.Errorf("pde: rho must be positive, got %g", c.PDE.Rho)
	}
	if c.PDE.FDStep <= 0 {
		return fmt.Errorf("pde: fd_step must be positive, got %g", c.PDE.FDStep)
	}
	if c.Data.Dir == "" {
		return fmt.Errorf("data: dir must be set")
	}
	return nil
}

// EndTime is the last time the march trains toward.
func (c *Config) EndTime() float64 {
	return c.Time.StartTime + float64(c.Time.NumTimeSteps)*c.Time.TimeStep
}

// DeviceFromEnv reads the compute device index from FLAGS_selected_gpus,
// defaulting to 0.
func DeviceFromEnv() (int, error) {
	v := os.Getenv(DeviceEnv)
	if v == "" {
		return 0, nil
	}
	id, err := strconv.Atoi(v)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("%s=%q is not a device index", DeviceEnv, v)
	}
	return id, nil
}
