package vae

import (
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// TaskEncoder maps transition batches to latent task distributions. The
// feed-forward variant is the only one built today; a recurrent variant
// would satisfy the same interface with the hidden state arguments in
// play.
type TaskEncoder interface {
	Forward(obs, act, rew *tensor.Dense) (*Latent, error)
	ForwardHidden(obs, act, rew, hidden *tensor.Dense) (*Latent, *tensor.Dense, error)
	Params() []*tensor.Dense
	Close() error
}

// Latent holds the encoder outputs for one batch. TaskEmbedding is the
// raw concatenation of Mean and LogVar, kept as its own artifact for
// downstream consumers; Z is the reparameterized sample.
type Latent struct {
	TaskEmbedding *tensor.Dense // width 2*TaskEmbDim
	Mean          *tensor.Dense // width TaskEmbDim
	LogVar        *tensor.Dense // width TaskEmbDim
	Z             *tensor.Dense // width TaskEmbDim
}

// NewTaskEncoder picks the encoder variant once at construction.
func NewTaskEncoder(conf Config) (TaskEncoder, error) {
	if conf.UseRNN {
		return nil, errors.New("recurrent task encoder is not implemented")
	}
	return NewEncoder(conf)
}

// Encoder is the feed-forward task encoder: an input stack mapping the
// concatenated transition to Hiddens[0], then an output stack mapping
// Hiddens[0] through the remaining hiddens to 2*TaskEmbDim. Both stacks
// end in the configured nonlinearity.
type Encoder struct {
	Config
	input  *Stack
	output *Stack

	ms *machines
}

func NewEncoder(conf Config) (*Encoder, error) {
	if err := conf.check(); err != nil {
		return nil, errors.Wrap(err, "encoder")
	}
	e := &Encoder{Config: conf}

	var err error
	inDim := conf.ObsDim + conf.ActDim + conf.RewDim
	if e.input, err = NewStack("TaskEncIn", inDim, []int{conf.Hiddens[0]}, conf.Activation, true, conf.LayerNorm); err != nil {
		return nil, err
	}
	outWidths := append(append([]int{}, conf.Hiddens[1:]...), 2*conf.TaskEmbDim)
	if e.output, err = NewStack("TaskEncOut", conf.Hiddens[0], outWidths, conf.Activation, true, conf.LayerNorm); err != nil {
		return nil, err
	}
	e.ms = newMachines(e.buildMachine)
	return e, nil
}

// apply builds the symbolic encoder over rank-2 inputs. eps carries the
// standard normal draw for the reparameterized sample. The task
// embedding is the raw output stack result; mean and log variance are
// its two halves.
func (e *Encoder) apply(m *maebe, obs, act, rew, eps *G.Node) (te, mean, logVar, z *G.Node) {
	x := m.concat(1, obs, act, rew)
	h := e.input.apply(m, x)
	te = e.output.apply(m, h)
	mean = m.sliceCols(te, 0, e.TaskEmbDim)
	logVar = m.sliceCols(te, e.TaskEmbDim, 2*e.TaskEmbDim)
	z = m.reparamize(mean, logVar, eps)
	return te, mean, logVar, z
}

func (e *Encoder) buildMachine(rows int) (*machine, error) {
	g := G.NewGraph()
	obs := G.NewMatrix(g, Float, G.WithShape(rows, e.ObsDim), G.WithName("obs"))
	act := G.NewMatrix(g, Float, G.WithShape(rows, e.ActDim), G.WithName("act"))
	rew := G.NewMatrix(g, Float, G.WithShape(rows, e.RewDim), G.WithName("rew"))
	eps := G.NewMatrix(g, Float, G.WithShape(rows, e.TaskEmbDim), G.WithName("eps"))

	var m maebe
	te, mean, logVar, z := e.apply(&m, obs, act, rew, eps)
	if m.err != nil {
		return nil, m.err
	}
	mc := &machine{g: g, ins: G.Nodes{obs, act, rew, eps}}
	mc.read(te, mean, logVar, z)
	mc.vm = G.NewTapeMachine(g)
	return mc, nil
}

// Forward encodes one batch. Inputs may be [batch, features] or
// [seq, batch, features]; every output keeps the caller's leading dims.
func (e *Encoder) Forward(obs, act, rew *tensor.Dense) (*Latent, error) {
	lead, err := checkBatch("encoder",
		[]string{"obs", "act", "rew"},
		[]int{e.ObsDim, e.ActDim, e.RewDim},
		[]*tensor.Dense{obs, act, rew})
	if err != nil {
		return nil, err
	}
	rows := lead.TotalSize()
	mc, err := e.ms.get(rows)
	if err != nil {
		return nil, err
	}
	eps := tensor.New(tensor.WithShape(rows, e.TaskEmbDim), tensor.WithBacking(gaussian32(rows*e.TaskEmbDim)))

	mc.Lock()
	defer mc.Unlock()
	if err := mc.run(
		rows2D(obs, rows, e.ObsDim),
		rows2D(act, rows, e.ActDim),
		rows2D(rew, rows, e.RewDim),
		eps,
	); err != nil {
		return nil, err
	}
	return &Latent{
		TaskEmbedding: restoreLead(mc.out(0), lead, 2*e.TaskEmbDim),
		Mean:          restoreLead(mc.out(1), lead, e.TaskEmbDim),
		LogVar:        restoreLead(mc.out(2), lead, e.TaskEmbDim),
		Z:             restoreLead(mc.out(3), lead, e.TaskEmbDim),
	}, nil
}

// ForwardHidden matches the recurrent call signature. The feed-forward
// encoder carries no hidden state: the input is ignored and the returned
// state is nil.
func (e *Encoder) ForwardHidden(obs, act, rew, hidden *tensor.Dense) (*Latent, *tensor.Dense, error) {
	l, err := e.Forward(obs, act, rew)
	return l, nil, err
}

// Params lists every trainable tensor, input stack first.
func (e *Encoder) Params() []*tensor.Dense {
	return append(e.input.Params(), e.output.Params()...)
}

// ParamNames mirrors Params.
func (e *Encoder) ParamNames() []string {
	return append(e.input.ParamNames(), e.output.ParamNames()...)
}

func (e *Encoder) Close() error {
	err := e.ms.Close()
	if err2 := e.input.Close(); err == nil {
		err = err2
	}
	if err2 := e.output.Close(); err == nil {
		err = err2
	}
	return err
}
