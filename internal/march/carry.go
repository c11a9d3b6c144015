package march

import (
	"fmt"

	"github.com/san-kum/pinnflow/internal/tensor"
)

// Velocity is the u, v, w block of a (n, 4) output or a (n, 7) physic record.
func Velocity(a tensor.Array) tensor.Array {
	return a.ColSlice(0, 3)
}

// Carry is the previous-time velocity at the interior and reference points.
type Carry struct {
	Interior tensor.Array
	User     tensor.Array
}

// InitialCarry starts from rest in the interior and from the measured
// velocity at the reference points.
func InitialCarry(nInterior int, userPhysic tensor.Array) (*Carry, error) {
	if userPhysic.Rank() != 2 || userPhysic.Cols() < 3 {
		return nil, fmt.Errorf("initial reference fields have shape %v, want (n, >=3)", userPhysic.Shape)
	}
	return &Carry{
		Interior: tensor.New(nInterior, 3),
		User:     Velocity(userPhysic),
	}, nil
}

// Advance replaces rows [lo, hi) of each carry array with the velocity of the
// matching network output shard.
func (c *Carry) Advance(interior tensor.Array, interiorLo int, user tensor.Array, userLo int) error {
	if err := advance(c.Interior, interior, interiorLo); err != nil {
		return fmt.Errorf("interior: %w", err)
	}
	if err := advance(c.User, user, userLo); err != nil {
		return fmt.Errorf("reference: %w", err)
	}
	return nil
}

func advance(dst, out tensor.Array, lo int) error {
	if out.Len() == 0 {
		return nil
	}
	if out.Rank() != 2 || out.Cols() < 3 {
		return fmt.Errorf("output has shape %v, want (n, >=3)", out.Shape)
	}
	if lo < 0 || lo+out.Len() > dst.Len() {
		return fmt.Errorf("rows [%d,%d) outside carry of %d rows", lo, lo+out.Len(), dst.Len())
	}
	v := Velocity(out)
	copy(dst.Rows(lo, lo+v.Len()).Data, v.Data)
	return nil
}
