package storage

import (
	"time"
)

// Recorder collects training progress as a march observer.
type Recorder struct {
	losses []LossRecord
	steps  []time.Duration
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) OnEpoch(step, epoch int, t, loss float64) {
	r.losses = append(r.losses, LossRecord{Step: step, Epoch: epoch, Time: t, Loss: loss})
}

func (r *Recorder) OnStep(step int, t float64, elapsed time.Duration, loss float64) {
	r.steps = append(r.steps, elapsed)
}

func (r *Recorder) Losses() []LossRecord {
	return append([]LossRecord(nil), r.losses...)
}

// Metrics summarises the recorded run.
func (r *Recorder) Metrics() map[string]float64 {
	m := map[string]float64{
		"optimizer_steps": float64(len(r.losses)),
		"time_steps":      float64(len(r.steps)),
	}
	if n := len(r.losses); n > 0 {
		m["final_loss"] = r.losses[n-1].Loss
		best := r.losses[0].Loss
		for _, l := range r.losses {
			if l.Loss < best {
				best = l.Loss
			}
		}
		m["best_loss"] = best
	}
	var total time.Duration
	for _, d := range r.steps {
		total += d
	}
	m["train_seconds"] = total.Seconds()
	return m
}

// StepLosses returns the last loss of every time step.
func StepLosses(losses []LossRecord) []float64 {
	var out []float64
	for i, l := range losses {
		if i == len(losses)-1 || losses[i+1].Step != l.Step {
			out = append(out, l.Loss)
		}
	}
	return out
}
