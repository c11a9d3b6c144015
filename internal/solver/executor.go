package solver

import "fmt"

// Executor runs a compiled program. Every Run is one optimizer step.
type Executor struct {
	prog  *Program
	steps int
}

func NewExecutor(p *Program) *Executor {
	return &Executor{prog: p}
}

// Run checks every placeholder against feeds, evaluates the loss and the
// outputs, and applies one Adam update. Outputs are computed before the update.
func (e *Executor) Run(feeds FeedDict) (*Fetch, error) {
	if err := e.prog.checkFeeds(feeds); err != nil {
		return nil, fmt.Errorf("executor step %d: %w", e.steps, err)
	}
	fetch, grads := e.prog.evaluate(feeds)
	e.prog.opt.Step(e.prog.net, grads)
	e.steps++
	return fetch, nil
}

func (e *Executor) Steps() int        { return e.steps }
func (e *Executor) Program() *Program { return e.prog }
