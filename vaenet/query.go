package vae

import (
	"bytes"
	"encoding/gob"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// QueryConf configures the query encoder.
type QueryConf struct {
	ObsDim     int
	ActDim     int
	EmbDim     int
	Hiddens    []int
	Activation Activation
	NormalizeZ bool // rescale every output row to unit L2 norm
}

func DefaultQueryConf() QueryConf {
	return QueryConf{
		ObsDim:     147,
		ActDim:     7,
		EmbDim:     5,
		Hiddens:    []int{32, 16, 8},
		Activation: ReLU,
		NormalizeZ: true,
	}
}

func (conf QueryConf) check() error {
	switch {
	case conf.ObsDim < 1:
		return errors.Wrapf(ErrDimension, "ObsDim %d", conf.ObsDim)
	case conf.ActDim < 1:
		return errors.Wrapf(ErrDimension, "ActDim %d", conf.ActDim)
	case conf.EmbDim < 1:
		return errors.Wrapf(ErrDimension, "EmbDim %d", conf.EmbDim)
	case len(conf.Hiddens) == 0:
		return errors.Wrap(ErrDimension, "Hiddens is empty")
	}
	for i, h := range conf.Hiddens {
		if h < 1 {
			return errors.Wrapf(ErrDimension, "Hiddens[%d] = %d", i, h)
		}
	}
	if !conf.Activation.valid() {
		return errors.Wrapf(ErrUnsupportedActivation, "activation %v", int(conf.Activation))
	}
	return nil
}

// QueryEncoder maps a state action pair to the embedding used to query
// pre-trained sub-task encoders. Unlike the task encoder it is
// deterministic: no distribution, no sampling.
type QueryEncoder struct {
	QueryConf
	stack *Stack

	ms *machines
}

func NewQueryEncoder(conf QueryConf) (*QueryEncoder, error) {
	if err := conf.check(); err != nil {
		return nil, errors.Wrap(err, "query encoder")
	}
	q := &QueryEncoder{QueryConf: conf}

	var err error
	widths := append(append([]int{}, conf.Hiddens...), conf.EmbDim)
	if q.stack, err = NewStack("Query", conf.ObsDim+conf.ActDim, widths, conf.Activation, false, false); err != nil {
		return nil, err
	}
	q.ms = newMachines(q.buildMachine)
	return q, nil
}

func (q *QueryEncoder) apply(m *maebe, obs, act *G.Node) *G.Node {
	x := m.concat(1, obs, act)
	y := q.stack.apply(m, x)
	if q.NormalizeZ {
		y = m.l2normRows(y)
	}
	return y
}

func (q *QueryEncoder) buildMachine(rows int) (*machine, error) {
	g := G.NewGraph()
	obs := G.NewMatrix(g, Float, G.WithShape(rows, q.ObsDim), G.WithName("obs"))
	act := G.NewMatrix(g, Float, G.WithShape(rows, q.ActDim), G.WithName("act"))

	var m maebe
	y := q.apply(&m, obs, act)
	if m.err != nil {
		return nil, m.err
	}
	mc := &machine{g: g, ins: G.Nodes{obs, act}}
	mc.read(y)
	mc.vm = G.NewTapeMachine(g)
	return mc, nil
}

// Forward embeds one batch. Inputs may be [batch, features] or
// [seq, batch, features]; the output keeps the caller's leading dims.
func (q *QueryEncoder) Forward(obs, act *tensor.Dense) (*tensor.Dense, error) {
	lead, err := checkBatch("query encoder",
		[]string{"obs", "act"},
		[]int{q.ObsDim, q.ActDim},
		[]*tensor.Dense{obs, act})
	if err != nil {
		return nil, err
	}
	rows := lead.TotalSize()
	mc, err := q.ms.get(rows)
	if err != nil {
		return nil, err
	}

	mc.Lock()
	defer mc.Unlock()
	if err := mc.run(rows2D(obs, rows, q.ObsDim), rows2D(act, rows, q.ActDim)); err != nil {
		return nil, err
	}
	return restoreLead(mc.out(0), lead, q.EmbDim), nil
}

// Params lists every trainable tensor.
func (q *QueryEncoder) Params() []*tensor.Dense { return q.stack.Params() }

func (q *QueryEncoder) Close() error {
	err := q.ms.Close()
	if err2 := q.stack.Close(); err == nil {
		err = err2
	}
	return err
}

func (q *QueryEncoder) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(q.QueryConf); err != nil {
		return nil, errors.WithStack(err)
	}
	for _, p := range q.Params() {
		if err := enc.Encode(p); err != nil {
			return nil, errors.WithStack(err)
		}
	}
	return buf.Bytes(), nil
}

func (q *QueryEncoder) GobDecode(p []byte) error {
	buf := bytes.NewBuffer(p)
	dec := gob.NewDecoder(buf)
	var conf QueryConf
	if err := dec.Decode(&conf); err != nil {
		return errors.WithStack(err)
	}

	q2, err := NewQueryEncoder(conf)
	if err != nil {
		return err
	}
	if q.ms != nil {
		q.Close()
	}
	*q = *q2

	for _, param := range q.Params() {
		var d *tensor.Dense
		if err := dec.Decode(&d); err != nil {
			return errors.WithStack(err)
		}
		if !d.Shape().Eq(param.Shape()) {
			return errors.Wrapf(ErrShapeMismatch, "checkpoint param shape %v, want %v", d.Shape(), param.Shape())
		}
		copy(param.Data().([]float32), d.Data().([]float32))
	}
	return nil
}
