package vae

import (
	"math/rand"
	"time"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
	"gorgonia.org/tensor/native"
)

// LearnConf configures the learner. The coefficients weight the three
// loss terms into the optimized total.
type LearnConf struct {
	BatchSize int
	LearnRate float64
	ObsCoef   float64
	RewCoef   float64
	KLCoef    float64
	Clip      float64 // gradient clip, off when <= 0
}

func DefaultLearnConf() LearnConf {
	return LearnConf{
		BatchSize: 10,
		LearnRate: 1e-4,
		ObsCoef:   1.0,
		RewCoef:   1.0,
		KLCoef:    0.1,
	}
}

func (conf LearnConf) check() error {
	if conf.BatchSize < 1 {
		return errors.Wrapf(ErrDimension, "batch size %d", conf.BatchSize)
	}
	if conf.LearnRate <= 0 {
		return errors.Wrapf(ErrDimension, "learn rate %v", conf.LearnRate)
	}
	return nil
}

// Losses are the terms of one optimization step. Obs, Rew and KL are
// unweighted; Total is the weighted sum the solver minimizes.
type Losses struct {
	Obs      float32
	Rew      float32
	KL       float32
	Total    float32
	GradNorm float32
}

// Learner owns the training graph: the encoder and decoder applied to a
// fixed size batch, the weighted loss, its symbolic gradients and an
// Adam solver. The graph shares the model's canonical weight tensors,
// so a solver step is immediately visible to every forward machine.
type Learner struct {
	LearnConf
	v *VAE

	g          *G.ExprGraph
	m          G.VM
	solver     G.Solver
	model      G.Nodes
	valueGrads []G.ValueGrad

	obs, act, rew, eps *G.Node
	nextObs, nextRew   *G.Node
	epsT               *tensor.Dense

	obsLoss, rewLoss, klLoss, total, gnorm G.Value
}

func NewLearner(v *VAE, conf LearnConf) (*Learner, error) {
	if err := conf.check(); err != nil {
		return nil, errors.Wrap(err, "learner")
	}
	enc, ok := v.Encoder.(*Encoder)
	if !ok {
		return nil, errors.Errorf("learner: unsupported encoder variant %T", v.Encoder)
	}

	l := &Learner{LearnConf: conf, v: v}
	b := conf.BatchSize
	l.g = G.NewGraph()
	l.obs = G.NewMatrix(l.g, Float, G.WithShape(b, v.ObsDim), G.WithName("obs"))
	l.act = G.NewMatrix(l.g, Float, G.WithShape(b, v.ActDim), G.WithName("act"))
	l.rew = G.NewMatrix(l.g, Float, G.WithShape(b, v.RewDim), G.WithName("rew"))
	l.eps = G.NewMatrix(l.g, Float, G.WithShape(b, v.TaskEmbDim), G.WithName("eps"))
	l.nextObs = G.NewMatrix(l.g, Float, G.WithShape(b, v.ObsDim), G.WithName("next_obs"))
	l.nextRew = G.NewMatrix(l.g, Float, G.WithShape(b, v.RewDim), G.WithName("next_rew"))

	var m maebe
	_, mean, logVar, z := enc.apply(&m, l.obs, l.act, l.rew, l.eps)
	nextObsPred, rewPred := v.Decoder.apply(&m, z, l.obs, l.act)

	obsLoss := m.mse(nextObsPred, l.nextObs)
	rewLoss := m.mse(rewPred, l.nextRew)
	kl := m.klTerm(mean, logVar)
	wObs := m.scale(conf.ObsCoef, obsLoss)
	wRew := m.scale(conf.RewCoef, rewLoss)
	wKL := m.scale(conf.KLCoef, kl)
	total := m.do(func() (*G.Node, error) { return G.Add(wObs, wRew) })
	total = m.do(func() (*G.Node, error) { return G.Add(total, wKL) })
	if m.err != nil {
		return nil, m.err
	}
	G.Read(obsLoss, &l.obsLoss)
	G.Read(rewLoss, &l.rewLoss)
	G.Read(kl, &l.klLoss)
	G.Read(total, &l.total)

	placeholders := G.Nodes{l.obs, l.act, l.rew, l.eps, l.nextObs, l.nextRew}
	for _, n := range l.g.AllNodes() {
		if n.IsVar() && !placeholders.Contains(n) {
			l.model = append(l.model, n)
		}
	}

	grads, err := G.Grad(total, l.model...)
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
	l.epsT = tensor.New(tensor.WithShape(b, v.TaskEmbDim), tensor.Of(Float))
	return l, nil
}

// Step runs one optimization step over a batch whose leading dims must
// multiply to BatchSize.
func (l *Learner) Step(obs, act, rew, nextObs, nextRew *tensor.Dense) (Losses, error) {
	var ls Losses
	lead, err := checkBatch("learner",
		[]string{"obs", "act", "rew", "next_obs", "next_rew"},
		[]int{l.v.ObsDim, l.v.ActDim, l.v.RewDim, l.v.ObsDim, l.v.RewDim},
		[]*tensor.Dense{obs, act, rew, nextObs, nextRew})
	if err != nil {
		return ls, err
	}
	rows := lead.TotalSize()
	if rows != l.BatchSize {
		return ls, errors.Wrapf(ErrShapeMismatch, "learner: batch of %d rows, want %d", rows, l.BatchSize)
	}

	fillGaussian32(l.epsT.Data().([]float32))
	l.m.Reset()
	G.Let(l.obs, rows2D(obs, rows, l.v.ObsDim))
	G.Let(l.act, rows2D(act, rows, l.v.ActDim))
	G.Let(l.rew, rows2D(rew, rows, l.v.RewDim))
	G.Let(l.eps, l.epsT)
	G.Let(l.nextObs, rows2D(nextObs, rows, l.v.ObsDim))
	G.Let(l.nextRew, rows2D(nextRew, rows, l.v.RewDim))
	if err := l.m.RunAll(); err != nil {
		return ls, errors.WithStack(err)
	}

	ls = Losses{
		Obs:      l.obsLoss.Data().(float32),
		Rew:      l.rewLoss.Data().(float32),
		KL:       l.klLoss.Data().(float32),
		Total:    l.total.Data().(float32),
		GradNorm: l.gnorm.Data().(float32),
	}
	if !finite32(ls.Obs, ls.Rew, ls.KL, ls.Total, ls.GradNorm) {
		return ls, errors.Errorf("learner: non-finite losses %+v", ls)
	}
	if err := l.solver.Step(l.valueGrads); err != nil {
		return ls, errors.WithStack(err)
	}
	return ls, nil
}

// Train runs whole epochs over an in-memory tensor set, consuming
// BatchSize rows per step and reshuffling between epochs. It returns the
// losses of the final step.
func (l *Learner) Train(obs, act, rew, nextObs, nextRew *tensor.Dense, epochs int) (Losses, error) {
	var last Losses
	batches := obs.Shape()[0] / l.BatchSize
	if batches < 1 {
		return last, errors.Wrapf(ErrShapeMismatch, "learner: %d rows, want at least %d", obs.Shape()[0], l.BatchSize)
	}
	var s slicer
	for e := 0; e < epochs; e++ {
		for bat := 0; bat < batches; bat++ {
			start := bat * l.BatchSize
			end := start + l.BatchSize

			o := s.Slice(obs, sli(start, end))
			a := s.Slice(act, sli(start, end))
			r := s.Slice(rew, sli(start, end))
			no := s.Slice(nextObs, sli(start, end))
			nr := s.Slice(nextRew, sli(start, end))
			if s.err != nil {
				return last, s.err
			}

			var err error
			if last, err = l.Step(o, a, r, no, nr); err != nil {
				return last, err
			}
			tensor.ReturnTensor(o)
			tensor.ReturnTensor(a)
			tensor.ReturnTensor(r)
			tensor.ReturnTensor(no)
			tensor.ReturnTensor(nr)
		}
		if err := shuffleBatch(obs, act, rew, nextObs, nextRew); err != nil {
			return last, err
		}
	}
	return last, nil
}

// Model exposes the trainable graph nodes, mostly for inspection.
func (l *Learner) Model() G.Nodes { return l.model }

// Close releases the training VM.
func (l *Learner) Close() error { return l.m.Close() }

// shuffleBatch permutes the rows of every tensor in lockstep. All
// tensors must be rank 2 with the same number of rows.
func shuffleBatch(ts ...*tensor.Dense) error {
	if len(ts) == 0 {
		return nil
	}
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	rows := ts[0].Shape()[0]
	mats := make([][][]float32, len(ts))
	for i, t := range ts {
		if t.Dims() != 2 || t.Shape()[0] != rows {
			return errors.Wrapf(ErrShapeMismatch, "shuffle: tensor %d has shape %v, want %d rows", i, t.Shape(), rows)
		}
		var err error
		if mats[i], err = native.MatrixF32(t); err != nil {
			return errors.WithStack(err)
		}
	}

	for i := 0; i < rows; i++ {
		j := r.Intn(i + 1)
		if i == j {
			continue
		}
		for _, mat := range mats {
			rowI, rowJ := mat[i], mat[j]
			for k := range rowI {
				rowI[k], rowJ[k] = rowJ[k], rowI[k]
			}
		}
	}
	return nil
}

func finite32(vs ...float32) bool {
	for _, v := range vs {
		if math32.IsNaN(v) || math32.IsInf(v, 0) {
			return false
		}
	}
	return true
}
