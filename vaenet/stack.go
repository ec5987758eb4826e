package vae

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// orthoGain is the gain applied to every orthogonally initialized weight.
const orthoGain = math.Sqrt2

type linear struct {
	w *tensor.Dense // [in, out]
	b *tensor.Dense // [1, out]
}

type layerNorm struct {
	gain   *tensor.Dense // [1, out]
	offset *tensor.Dense // [1, out]
}

type layer struct {
	lin  *linear
	norm *layerNorm // nil when normalization is off
}

// Stack is an ordered feed-forward stack: a linear projection and
// optional normalization per layer, a nonlinearity between layers, and
// an optional trailing nonlinearity. The layer list is built once at
// construction and never mutates.
type Stack struct {
	name   string
	act    Activation
	outAct bool

	dims   []int // input width followed by every layer width
	layers []layer

	ms *machines
}

// NewStack builds a stack mapping numInputs to widths[len(widths)-1].
// Weights are orthogonally initialized with gain sqrt(2), biases start
// at zero.
func NewStack(name string, numInputs int, widths []int, act Activation, outputActivation, normalize bool) (*Stack, error) {
	if numInputs < 1 {
		return nil, errors.Wrapf(ErrDimension, "stack %s: input width %d", name, numInputs)
	}
	if len(widths) == 0 {
		return nil, errors.Wrapf(ErrDimension, "stack %s: no layer widths", name)
	}
	if !act.valid() {
		return nil, errors.Wrapf(ErrUnsupportedActivation, "stack %s: activation %d", name, int(act))
	}

	s := &Stack{
		name:   name,
		act:    act,
		outAct: outputActivation,
		dims:   []int{numInputs},
	}
	in := numInputs
	for i, out := range widths {
		if out < 1 {
			return nil, errors.Wrapf(ErrDimension, "stack %s: layer %d width %d", name, i, out)
		}
		l := layer{lin: &linear{
			w: tensor.New(tensor.WithShape(in, out), tensor.WithBacking(orthogonal32(orthoGain, in, out))),
			b: tensor.New(tensor.WithShape(1, out), tensor.WithBacking(zeroes32(out))),
		}}
		if normalize {
			l.norm = &layerNorm{
				gain:   tensor.New(tensor.WithShape(1, out), tensor.WithBacking(ones32(out))),
				offset: tensor.New(tensor.WithShape(1, out), tensor.WithBacking(zeroes32(out))),
			}
		}
		s.layers = append(s.layers, l)
		s.dims = append(s.dims, out)
		in = out
	}
	s.ms = newMachines(s.buildMachine)
	return s, nil
}

func (s *Stack) InputDim() int  { return s.dims[0] }
func (s *Stack) OutputDim() int { return s.dims[len(s.dims)-1] }

// apply threads x through every layer. x must be rank 2 with feature
// width InputDim.
func (s *Stack) apply(m *maebe, x *G.Node) *G.Node {
	for i, l := range s.layers {
		if i > 0 {
			x = m.activate(s.act, x)
		}
		name := fmt.Sprintf("%s_%d", s.name, i)
		x = m.linearFwd(x, l.lin, name)
		if l.norm != nil {
			x = m.layerNormFwd(x, l.norm, name+"_ln")
		}
	}
	if s.outAct {
		x = m.activate(s.act, x)
	}
	return x
}

// Params lists the trainable tensors in a stable order: per layer the
// weight, the bias, then the normalization gain and offset if present.
func (s *Stack) Params() []*tensor.Dense {
	var retVal []*tensor.Dense
	for _, l := range s.layers {
		retVal = append(retVal, l.lin.w, l.lin.b)
		if l.norm != nil {
			retVal = append(retVal, l.norm.gain, l.norm.offset)
		}
	}
	return retVal
}

// ParamNames mirrors Params.
func (s *Stack) ParamNames() []string {
	var retVal []string
	for i, l := range s.layers {
		name := fmt.Sprintf("%s_%d", s.name, i)
		retVal = append(retVal, name+"_w", name+"_b")
		if l.norm != nil {
			retVal = append(retVal, name+"_ln_gain", name+"_ln_offset")
		}
	}
	return retVal
}

func (s *Stack) buildMachine(rows int) (*machine, error) {
	g := G.NewGraph()
	x := G.NewMatrix(g, Float, G.WithShape(rows, s.InputDim()), G.WithName(s.name+"_in"))
	var m maebe
	y := s.apply(&m, x)
	if m.err != nil {
		return nil, m.err
	}
	mc := &machine{g: g, ins: G.Nodes{x}}
	mc.read(y)
	mc.vm = G.NewTapeMachine(g)
	return mc, nil
}

// Forward applies the stack to a rank-2 [batch, InputDim] input.
func (s *Stack) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	if x == nil || x.Dims() != 2 {
		return nil, errors.Wrapf(ErrShapeMismatch, "stack %s: input must be rank 2", s.name)
	}
	if x.Shape()[1] != s.InputDim() {
		return nil, errors.Wrapf(ErrShapeMismatch, "stack %s: input width %d, want %d", s.name, x.Shape()[1], s.InputDim())
	}
	mc, err := s.ms.get(x.Shape()[0])
	if err != nil {
		return nil, err
	}
	mc.Lock()
	defer mc.Unlock()
	if err := mc.run(x); err != nil {
		return nil, err
	}
	return mc.out(0), nil
}

// Close releases the cached virtual machines.
func (s *Stack) Close() error { return s.ms.Close() }
