package vae

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

type slicer struct {
	v   tensor.View
	err error
}

func (s *slicer) Slice(a *tensor.Dense, slices ...tensor.Slice) *tensor.Dense {
	if s.err != nil {
		return nil
	}
	if s.v, s.err = a.Slice(slices...); s.err != nil {
		s.err = errors.Wrapf(s.err, "Slicer failed")
		return nil
	}
	return s.v.(*tensor.Dense)
}

type rs struct {
	start, end, step int
}

func (s rs) Start() int { return s.start }
func (s rs) End() int   { return s.end }
func (s rs) Step() int  { return s.step }

// sli creates a ranged slice. It takes an optional step param.
func sli(start, end int, opts ...int) rs {
	step := 1
	if len(opts) > 0 {
		step = opts[0]
	}
	return rs{
		start: start,
		end:   end,
		step:  step,
	}
}

// checkBatch validates a set of forward inputs. Every input must be rank
// 2 or 3, all inputs must share the same leading (batch or seq, batch)
// dimensions, and each trailing dimension must match the declared width.
// It returns the shared leading shape.
func checkBatch(op string, names []string, widths []int, inputs []*tensor.Dense) (tensor.Shape, error) {
	var lead tensor.Shape
	for i, in := range inputs {
		if in == nil {
			return nil, errors.Wrapf(ErrShapeMismatch, "%s: %s is nil", op, names[i])
		}
		s := in.Shape()
		if len(s) != 2 && len(s) != 3 {
			return nil, errors.Wrapf(ErrShapeMismatch, "%s: %s has rank %d, want 2 or 3", op, names[i], len(s))
		}
		if w := s[len(s)-1]; w != widths[i] {
			return nil, errors.Wrapf(ErrShapeMismatch, "%s: %s has feature width %d, want %d", op, names[i], w, widths[i])
		}
		l := tensor.Shape(s[:len(s)-1]).Clone()
		if lead == nil {
			lead = l
			continue
		}
		if !lead.Eq(l) {
			return nil, errors.Wrapf(ErrShapeMismatch, "%s: %s has leading dims %v, want %v", op, names[i], l, lead)
		}
	}
	return lead, nil
}

// rows2D exposes t as a rank-2 [rows, width] tensor sharing t's backing.
// The caller's tensor is left untouched.
func rows2D(t *tensor.Dense, rows, width int) *tensor.Dense {
	if t.Dims() == 2 {
		return t
	}
	return tensor.New(tensor.WithShape(rows, width), tensor.WithBacking(t.Data()))
}

// restoreLead reshapes a fresh [rows, width] result back to the caller's
// leading dimensions.
func restoreLead(t *tensor.Dense, lead tensor.Shape, width int) *tensor.Dense {
	if len(lead) == 1 {
		return t
	}
	shp := make([]int, 0, len(lead)+1)
	shp = append(shp, lead...)
	shp = append(shp, width)
	t.Reshape(shp...)
	return t
}
