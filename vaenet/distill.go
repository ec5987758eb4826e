package vae

import (
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// QueryLearner trains a query encoder to reproduce target embeddings,
// distilling a trained task encoder into a network that needs no reward
// input. Only BatchSize, LearnRate and Clip of the LearnConf apply; the
// loss is the plain mse against the targets.
type QueryLearner struct {
	LearnConf
	q *QueryEncoder

	g          *G.ExprGraph
	m          G.VM
	solver     G.Solver
	model      G.Nodes
	valueGrads []G.ValueGrad

	obs, act, target *G.Node
	loss, gnorm      G.Value
}

func NewQueryLearner(q *QueryEncoder, conf LearnConf) (*QueryLearner, error) {
	if err := conf.check(); err != nil {
		return nil, errors.Wrap(err, "query learner")
	}

	l := &QueryLearner{LearnConf: conf, q: q}
	b := conf.BatchSize
	l.g = G.NewGraph()
	l.obs = G.NewMatrix(l.g, Float, G.WithShape(b, q.ObsDim), G.WithName("obs"))
	l.act = G.NewMatrix(l.g, Float, G.WithShape(b, q.ActDim), G.WithName("act"))
	l.target = G.NewMatrix(l.g, Float, G.WithShape(b, q.EmbDim), G.WithName("target"))

	var m maebe
	y := q.apply(&m, l.obs, l.act)
	loss := m.mse(y, l.target)
	if m.err != nil {
		return nil, m.err
	}
	G.Read(loss, &l.loss)

	placeholders := G.Nodes{l.obs, l.act, l.target}
	for _, n := range l.g.AllNodes() {
		if n.IsVar() && !placeholders.Contains(n) {
			l.model = append(l.model, n)
		}
	}

	grads, err := G.Grad(loss, l.model...)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	gnorm := m.gradNorm(grads)
	if m.err != nil {
		return nil, m.err
	}
	G.Read(gnorm, &l.gnorm)

	l.m = G.NewTapeMachine(l.g, G.BindDualValues(l.model...))
	l.valueGrads = G.NodesToValueGrads(l.model)
	opts := []G.SolverOpt{G.WithLearnRate(conf.LearnRate)}
	if conf.Clip > 0 {
		opts = append(opts, G.WithClip(conf.Clip))
	}
	l.solver = G.NewAdamSolver(opts...)
	return l, nil
}

// Step runs one optimization step against a batch of target embeddings.
func (l *QueryLearner) Step(obs, act, target *tensor.Dense) (loss, gradNorm float32, err error) {
	lead, err := checkBatch("query learner",
		[]string{"obs", "act", "target"},
		[]int{l.q.ObsDim, l.q.ActDim, l.q.EmbDim},
		[]*tensor.Dense{obs, act, target})
	if err != nil {
		return 0, 0, err
	}
	rows := lead.TotalSize()
	if rows != l.BatchSize {
		return 0, 0, errors.Wrapf(ErrShapeMismatch, "query learner: batch of %d rows, want %d", rows, l.BatchSize)
	}

	l.m.Reset()
	G.Let(l.obs, rows2D(obs, rows, l.q.ObsDim))
	G.Let(l.act, rows2D(act, rows, l.q.ActDim))
	G.Let(l.target, rows2D(target, rows, l.q.EmbDim))
	if err := l.m.RunAll(); err != nil {
		return 0, 0, errors.WithStack(err)
	}

	loss = l.loss.Data().(float32)
	gradNorm = l.gnorm.Data().(float32)
	if !finite32(loss, gradNorm) {
		return loss, gradNorm, errors.Errorf("query learner: non-finite loss %v, grad norm %v", loss, gradNorm)
	}
	if err := l.solver.Step(l.valueGrads); err != nil {
		return loss, gradNorm, errors.WithStack(err)
	}
	return loss, gradNorm, nil
}

// Model exposes the trainable graph nodes.
func (l *QueryLearner) Model() G.Nodes { return l.model }

// Close releases the training VM.
func (l *QueryLearner) Close() error { return l.m.Close() }
