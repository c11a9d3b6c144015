// Package march trains a network one time step at a time, feeding each step's
// prediction back as the previous field of the next.
package march

import (
	"fmt"
	"time"

	"github.com/san-kum/pinnflow/internal/geometry"
	"github.com/san-kum/pinnflow/internal/solver"
	"github.com/san-kum/pinnflow/internal/tensor"
)

// Config fixes the time window, epochs per step, rank and output prefixes of a march.
type Config struct {
	StartTime    float64
	TimeStep     float64
	NumTimeSteps int
	TrainEpochs  int

	Rank   int
	NRanks int

	// File name prefixes; the next time value is appended. Empty disables the sink.
	VTKPrefix        string
	SolutionPrefix   string
	CheckpointPrefix string
}

// Trainer runs one optimizer step on the fed placeholders.
type Trainer interface {
	Run(feeds solver.FeedDict) (*solver.Fetch, error)
}

// FieldSink persists per-subset network outputs next to their points.
type FieldSink interface {
	Save(name string, subsets []geometry.Subset, fields []tensor.Array) error
}

// Checkpointer saves the network parameters after each time step.
type Checkpointer interface {
	SaveParams(path string) error
}

// Observer is notified after every optimizer step and every time step.
type Observer interface {
	OnEpoch(step, epoch int, t, loss float64)
	OnStep(step int, t float64, elapsed time.Duration, loss float64)
}

// Result summarises a march, including partial progress when Run fails.
type Result struct {
	Steps     int
	Epochs    int
	FinalTime float64
	Losses    []float64
	BuildCost time.Duration
	Files     []string
	Carry     *Carry
}

// StepError reports the time step, and its target time, at which a march failed.
type StepError struct {
	Step int
	Time float64
	Err  error
}

func (e StepError) Error() string {
	return fmt.Sprintf("step %d (t=%g): %v", e.Step, e.Time, e.Err)
}

func (e StepError) Unwrap() error { return e.Err }
