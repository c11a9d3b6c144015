package solver

import (
	"fmt"
	"strings"

	"github.com/san-kum/pinnflow/internal/geometry"
	"github.com/san-kum/pinnflow/internal/pde"
)

// Step tells whether a label slot holds the field at the current or next time level.
type Step int

const (
	Current Step = iota
	Next
)

func (s Step) String() string {
	if s == Next {
		return "next"
	}
	return "current"
}

// Slot describes one label array: the subset its rows align with and the field
// carried by each column.
type Slot struct {
	Subset string
	Fields []string
	Step   Step
}

func (s Slot) String() string {
	return fmt.Sprintf("%s.%s[%s]", s.Subset, s.Step, strings.Join(s.Fields, ","))
}

// Layout fixes the order and meaning of the label arrays.
type Layout struct {
	Slots []Slot
}

// MarchingLayout is the label layout of the time-marching problem: previous
// interior velocity, reference fields at the next time, reference velocity now.
func MarchingLayout() Layout {
	return Layout{Slots: []Slot{
		{Subset: geometry.InteriorName, Fields: pde.Velocity, Step: Current},
		{Subset: geometry.UserName, Fields: pde.Fields, Step: Next},
		{Subset: geometry.UserName, Fields: pde.Velocity, Step: Current},
	}}
}

// Index returns the slot position for subset/step, or -1.
func (l Layout) Index(subset string, step Step) int {
	for i, s := range l.Slots {
		if s.Subset == subset && s.Step == step {
			return i
		}
	}
	return -1
}

// Validate checks the couplings the loss relies on: both equation terms read
// u, v, w at the current level, and the data term reads u, v, w, p at the next
// level of the same reference subset.
func (l Layout) Validate() error {
	seen := map[string]bool{}
	for _, s := range l.Slots {
		key := s.Subset + "/" + s.Step.String()
		if seen[key] {
			return fmt.Errorf("label layout: duplicate slot %s", s)
		}
		seen[key] = true
		for _, f := range s.Fields {
			if _, err := pde.FieldIndex(f); err != nil {
				return fmt.Errorf("label layout: slot %s: %w", s, err)
			}
		}
	}

	want := []struct {
		subset string
		step   Step
		fields []string
	}{
		{geometry.InteriorName, Current, pde.Velocity},
		{geometry.UserName, Current, pde.Velocity},
		{geometry.UserName, Next, pde.Fields},
	}
	for _, w := range want {
		i := l.Index(w.subset, w.step)
		if i < 0 {
			return fmt.Errorf("label layout: missing %s.%s slot", w.subset, w.step)
		}
		if !sameFields(l.Slots[i].Fields, w.fields) {
			return fmt.Errorf("label layout: slot %s must carry [%s]", l.Slots[i], strings.Join(w.fields, ","))
		}
	}
	return nil
}

func sameFields(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
