package vae

import (
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Decoder reconstructs the next observation and reward from a latent
// sample plus the current observation and action. The output is a raw
// regression: no trailing nonlinearity, no normalization.
type Decoder struct {
	Config
	stack *Stack

	ms *machines
}

// Reconstruction holds the decoder outputs for one batch.
type Reconstruction struct {
	NextObs *tensor.Dense // width ObsDim
	Reward  *tensor.Dense // width RewDim
}

func NewDecoder(conf Config) (*Decoder, error) {
	if err := conf.check(); err != nil {
		return nil, errors.Wrap(err, "decoder")
	}
	d := &Decoder{Config: conf}

	var err error
	inDim := conf.TaskEmbDim + conf.ObsDim + conf.ActDim
	if d.stack, err = NewStack("TaskDec", inDim, []int{conf.ObsDim + conf.RewDim}, conf.Activation, false, false); err != nil {
		return nil, err
	}
	d.ms = newMachines(d.buildMachine)
	return d, nil
}

// apply builds the symbolic decoder over rank-2 inputs and splits the
// raw output into its observation and reward halves.
func (d *Decoder) apply(m *maebe, z, obs, act *G.Node) (nextObs, reward *G.Node) {
	x := m.concat(1, z, obs, act)
	out := d.stack.apply(m, x)
	nextObs = m.sliceCols(out, 0, d.ObsDim)
	reward = m.sliceCols(out, d.ObsDim, d.ObsDim+d.RewDim)
	return nextObs, reward
}

func (d *Decoder) buildMachine(rows int) (*machine, error) {
	g := G.NewGraph()
	z := G.NewMatrix(g, Float, G.WithShape(rows, d.TaskEmbDim), G.WithName("z"))
	obs := G.NewMatrix(g, Float, G.WithShape(rows, d.ObsDim), G.WithName("obs"))
	act := G.NewMatrix(g, Float, G.WithShape(rows, d.ActDim), G.WithName("act"))

	var m maebe
	nextObs, reward := d.apply(&m, z, obs, act)
	if m.err != nil {
		return nil, m.err
	}
	mc := &machine{g: g, ins: G.Nodes{z, obs, act}}
	mc.read(nextObs, reward)
	mc.vm = G.NewTapeMachine(g)
	return mc, nil
}

// Forward decodes one batch. z is the latent sample from the encoder.
// Inputs may be [batch, features] or [seq, batch, features]; outputs
// keep the caller's leading dims.
func (d *Decoder) Forward(z, obs, act *tensor.Dense) (*Reconstruction, error) {
	lead, err := checkBatch("decoder",
		[]string{"z", "obs", "act"},
		[]int{d.TaskEmbDim, d.ObsDim, d.ActDim},
		[]*tensor.Dense{z, obs, act})
	if err != nil {
		return nil, err
	}
	rows := lead.TotalSize()
	mc, err := d.ms.get(rows)
	if err != nil {
		return nil, err
	}

	mc.Lock()
	defer mc.Unlock()
	if err := mc.run(
		rows2D(z, rows, d.TaskEmbDim),
		rows2D(obs, rows, d.ObsDim),
		rows2D(act, rows, d.ActDim),
	); err != nil {
		return nil, err
	}
	return &Reconstruction{
		NextObs: restoreLead(mc.out(0), lead, d.ObsDim),
		Reward:  restoreLead(mc.out(1), lead, d.RewDim),
	}, nil
}

// Params lists every trainable tensor.
func (d *Decoder) Params() []*tensor.Dense { return d.stack.Params() }

// ParamNames mirrors Params.
func (d *Decoder) ParamNames() []string { return d.stack.ParamNames() }

func (d *Decoder) Close() error {
	err := d.ms.Close()
	if err2 := d.stack.Close(); err == nil {
		err = err2
	}
	return err
}
