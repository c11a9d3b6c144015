package solver

import (
	"fmt"

	"github.com/san-kum/pinnflow/internal/geometry"
	"github.com/san-kum/pinnflow/internal/tensor"
)

// Labels holds one array per layout slot, rows aligned with the slot's subset.
// Values are replaced in place every timestep; shapes never change.
type Labels struct {
	layout Layout
	arrays []tensor.Array
}

func NewLabels(layout Layout, geo *geometry.Discretized) (*Labels, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	sizes := map[string]int{}
	for _, s := range geo.Subsets() {
		sizes[s.Name] = s.Size()
	}

	l := &Labels{layout: layout}
	for _, s := range layout.Slots {
		n, ok := sizes[s.Subset]
		if !ok {
			return nil, fmt.Errorf("labels: slot %s refers to missing subset %q", s, s.Subset)
		}
		l.arrays = append(l.arrays, tensor.New(n, len(s.Fields)))
	}
	return l, nil
}

func (l *Labels) Layout() Layout { return l.layout }
func (l *Labels) Len() int       { return len(l.arrays) }

func (l *Labels) At(i int) tensor.Array { return l.arrays[i] }

func (l *Labels) Arrays() []tensor.Array {
	return append([]tensor.Array(nil), l.arrays...)
}

// Set overwrites the slot for subset/step with a copy of a.
func (l *Labels) Set(subset string, step Step, a tensor.Array) error {
	i := l.layout.Index(subset, step)
	if i < 0 {
		return fmt.Errorf("labels: no slot for %s.%s", subset, step)
	}
	if !a.SameShape(l.arrays[i]) {
		return fmt.Errorf("%w: label %s expects %v, got %v", ErrShapeMismatch, l.layout.Slots[i], l.arrays[i].Shape, a.Shape)
	}
	l.arrays[i] = a.Clone()
	return nil
}

func (l *Labels) SetInteriorCurrent(a tensor.Array) error {
	return l.Set(geometry.InteriorName, Current, a)
}

func (l *Labels) SetUserCurrent(a tensor.Array) error {
	return l.Set(geometry.UserName, Current, a)
}

func (l *Labels) SetUserNext(a tensor.Array) error {
	return l.Set(geometry.UserName, Next, a)
}
