package vae

import (
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

const (
	lnEps = 1e-5  // layer norm variance floor
	l2Eps = 1e-12 // row normalization floor
)

type maebe struct {
	err error
}

// generic monad... may be useful
func (m *maebe) do(f func() (*G.Node, error)) (retVal *G.Node) {
	if m.err != nil {
		return nil
	}
	if retVal, m.err = f(); m.err != nil {
		m.err = errors.WithStack(m.err)
	}
	return
}

// varNode attaches a trainable parameter to g, sharing the canonical
// backing tensor. Solver updates mutate that tensor in place, so every
// graph built over the same module sees the same weights.
func varNode(g *G.ExprGraph, name string, d *tensor.Dense) *G.Node {
	s := d.Shape()
	return G.NewMatrix(g, Float, G.WithShape(s...), G.WithName(name), G.WithValue(d))
}

func (m *maebe) constant(v float64) *G.Node {
	switch Float {
	case G.Float32:
		return G.NewConstant(float32(v))
	case G.Float64:
		return G.NewConstant(v)
	}
	return nil
}

func (m *maebe) linearFwd(x *G.Node, l *linear, name string) *G.Node {
	if m.err != nil {
		return nil
	}
	w := varNode(x.Graph(), name+"_w", l.w)
	b := varNode(x.Graph(), name+"_b", l.b)
	xw := m.do(func() (*G.Node, error) { return G.Mul(x, w) })
	return m.do(func() (*G.Node, error) { return G.BroadcastAdd(xw, b, nil, []byte{0}) })
}

// layerNormFwd normalizes each row to zero mean and unit variance, then
// applies the learned gain and offset.
func (m *maebe) layerNormFwd(x *G.Node, l *layerNorm, name string) *G.Node {
	if m.err != nil {
		return nil
	}
	rows := x.Shape()[0]
	gain := varNode(x.Graph(), name+"_gain", l.gain)
	offset := varNode(x.Graph(), name+"_offset", l.offset)
	eps := m.constant(lnEps)

	mean := m.do(func() (*G.Node, error) { return G.Mean(x, 1) })
	mean = m.reshape(mean, tensor.Shape{rows, 1})
	centered := m.do(func() (*G.Node, error) { return G.BroadcastSub(x, mean, nil, []byte{1}) })
	vr := m.do(func() (*G.Node, error) { return G.Square(centered) })
	vr = m.do(func() (*G.Node, error) { return G.Mean(vr, 1) })
	vr = m.reshape(vr, tensor.Shape{rows, 1})
	sd := m.do(func() (*G.Node, error) { return G.Add(vr, eps) })
	sd = m.do(func() (*G.Node, error) { return G.Sqrt(sd) })
	normed := m.do(func() (*G.Node, error) { return G.BroadcastHadamardDiv(centered, sd, nil, []byte{1}) })
	scaled := m.do(func() (*G.Node, error) { return G.BroadcastHadamardProd(normed, gain, nil, []byte{0}) })
	return m.do(func() (*G.Node, error) { return G.BroadcastAdd(scaled, offset, nil, []byte{0}) })
}

func (m *maebe) activate(act Activation, x *G.Node) (retVal *G.Node) {
	if m.err != nil {
		return nil
	}
	switch act {
	case ReLU:
		retVal, m.err = G.Rectify(x)
	case Tanh:
		retVal, m.err = G.Tanh(x)
	default:
		m.err = errors.Wrapf(ErrUnsupportedActivation, "activation %d", int(act))
		return nil
	}
	if m.err != nil {
		m.err = errors.WithStack(m.err)
	}
	return
}

func (m *maebe) reshape(input *G.Node, to tensor.Shape) (retVal *G.Node) {
	if m.err != nil {
		return nil
	}
	if retVal, m.err = G.Reshape(input, to); m.err != nil {
		m.err = errors.WithStack(m.err)
	}
	return
}

func (m *maebe) concat(axis int, xs ...*G.Node) (retVal *G.Node) {
	if m.err != nil {
		return nil
	}
	if retVal, m.err = G.Concat(axis, xs...); m.err != nil {
		m.err = errors.WithStack(m.err)
	}
	return
}

// sliceCols takes columns [from, to) of a rank-2 node. The result is
// reshaped back to rank 2 because slicing collapses width-1 dims.
func (m *maebe) sliceCols(x *G.Node, from, to int) *G.Node {
	if m.err != nil {
		return nil
	}
	rows := x.Shape()[0]
	sliced := m.do(func() (*G.Node, error) { return G.Slice(x, sli(0, rows), sli(from, to)) })
	return m.reshape(sliced, tensor.Shape{rows, to - from})
}

func (m *maebe) scale(c float64, x *G.Node) *G.Node {
	k := m.constant(c)
	return m.do(func() (*G.Node, error) { return G.HadamardProd(k, x) })
}

// reparamize draws z = mu + eps * exp(0.5 * logVar), the
// reparameterization trick. eps carries the standard normal draw so the
// sample stays differentiable with respect to mu and logVar.
func (m *maebe) reparamize(mu, logVar, eps *G.Node) *G.Node {
	half := m.constant(0.5)
	std := m.do(func() (*G.Node, error) { return G.HadamardProd(half, logVar) })
	std = m.do(func() (*G.Node, error) { return G.Exp(std) })
	noise := m.do(func() (*G.Node, error) { return G.HadamardProd(eps, std) })
	return m.do(func() (*G.Node, error) { return G.Add(mu, noise) })
}

// klTerm is -0.5 * sum(1 + logVar - mu^2 - exp(logVar)), the divergence
// from a standard normal prior, summed over the whole batch.
func (m *maebe) klTerm(mu, logVar *G.Node) *G.Node {
	one := m.constant(1)
	muSq := m.do(func() (*G.Node, error) { return G.Square(mu) })
	ev := m.do(func() (*G.Node, error) { return G.Exp(logVar) })
	t := m.do(func() (*G.Node, error) { return G.Add(one, logVar) })
	t = m.do(func() (*G.Node, error) { return G.Sub(t, muSq) })
	t = m.do(func() (*G.Node, error) { return G.Sub(t, ev) })
	t = m.do(func() (*G.Node, error) { return G.Sum(t) })
	return m.scale(-0.5, t)
}

// mse is the mean squared error over every element.
func (m *maebe) mse(pred, target *G.Node) *G.Node {
	d := m.do(func() (*G.Node, error) { return G.Sub(pred, target) })
	d = m.do(func() (*G.Node, error) { return G.Square(d) })
	return m.do(func() (*G.Node, error) { return G.Mean(d) })
}

// gradNorm is the global L2 norm over a set of gradient nodes.
func (m *maebe) gradNorm(grads G.Nodes) *G.Node {
	var total *G.Node
	for _, gr := range grads {
		sq := m.do(func() (*G.Node, error) { return G.Square(gr) })
		s := m.do(func() (*G.Node, error) { return G.Sum(sq) })
		if total == nil {
			total = s
			continue
		}
		total = m.do(func() (*G.Node, error) { return G.Add(total, s) })
	}
	return m.do(func() (*G.Node, error) { return G.Sqrt(total) })
}

// l2normRows rescales each row of x to unit L2 norm.
func (m *maebe) l2normRows(x *G.Node) *G.Node {
	if m.err != nil {
		return nil
	}
	rows := x.Shape()[0]
	eps := m.constant(l2Eps)
	sq := m.do(func() (*G.Node, error) { return G.Square(x) })
	s := m.do(func() (*G.Node, error) { return G.Sum(sq, 1) })
	s = m.do(func() (*G.Node, error) { return G.Add(s, eps) })
	n := m.do(func() (*G.Node, error) { return G.Sqrt(s) })
	n = m.reshape(n, tensor.Shape{rows, 1})
	return m.do(func() (*G.Node, error) { return G.BroadcastHadamardDiv(x, n, nil, []byte{1}) })
}
