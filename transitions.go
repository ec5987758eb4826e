package babytask

import (
	"encoding/gob"
	"math/rand"
	"os"

	rng "github.com/leesper/go_rng"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	vae "github.com/minigrid/babytask/vaenet"
)

// Transition is one environment step: the observation and action taken,
// the reward received, and the observation that followed. Rewards are
// slices so multi-agent joint rewards fit without a schema change.
type Transition struct {
	Obs     []float32
	Act     []float32
	Rew     []float32
	NextObs []float32
	NextRew []float32
}

// Augmenter takes a transition and derives more transitions from it.
type Augmenter func(t Transition) ([]Transition, error)

// Dataset is a validated collection of transitions with fixed feature
// widths.
type Dataset struct {
	ObsDim      int
	ActDim      int
	RewDim      int
	Transitions []Transition
}

func NewDataset(conf vae.Config) *Dataset {
	return &Dataset{
		ObsDim: conf.ObsDim,
		ActDim: conf.ActDim,
		RewDim: conf.RewDim,
	}
}

func (d *Dataset) Len() int { return len(d.Transitions) }

// Add appends a transition after checking every width against the
// dataset's dims.
func (d *Dataset) Add(t Transition) error {
	widths := []struct {
		name string
		got  int
		want int
	}{
		{"obs", len(t.Obs), d.ObsDim},
		{"act", len(t.Act), d.ActDim},
		{"rew", len(t.Rew), d.RewDim},
		{"next obs", len(t.NextObs), d.ObsDim},
		{"next rew", len(t.NextRew), d.RewDim},
	}
	for _, w := range widths {
		if w.got != w.want {
			return errors.Wrapf(vae.ErrShapeMismatch, "dataset: %s width %d, want %d", w.name, w.got, w.want)
		}
	}
	d.Transitions = append(d.Transitions, t)
	return nil
}

// Augment runs every transition through aug and appends the results.
func (d *Dataset) Augment(aug Augmenter) error {
	extra := make([]Transition, 0, len(d.Transitions))
	for i := range d.Transitions {
		ts, err := aug(d.Transitions[i])
		if err != nil {
			return err
		}
		extra = append(extra, ts...)
	}
	for _, t := range extra {
		if err := d.Add(t); err != nil {
			return err
		}
	}
	return nil
}

// Shuffle permutes the transitions in place.
func (d *Dataset) Shuffle(r *rand.Rand) {
	for i := range d.Transitions {
		j := r.Intn(i + 1)
		d.Transitions[i], d.Transitions[j] = d.Transitions[j], d.Transitions[i]
	}
}

// Split carves off the last frac of the dataset as a held-out set.
// Shuffle first if the collection order carries structure.
func (d *Dataset) Split(frac float64) (train, held *Dataset) {
	n := len(d.Transitions)
	cut := n - int(float64(n)*frac)
	if cut < 0 {
		cut = 0
	}
	train = &Dataset{ObsDim: d.ObsDim, ActDim: d.ActDim, RewDim: d.RewDim, Transitions: d.Transitions[:cut]}
	held = &Dataset{ObsDim: d.ObsDim, ActDim: d.ActDim, RewDim: d.RewDim, Transitions: d.Transitions[cut:]}
	return train, held
}

// Tensors materializes the dataset as five [n, width] tensors in the
// current transition order.
type Tensors struct {
	Obs, Act, Rew, NextObs, NextRew *tensor.Dense
}

func (d *Dataset) Tensors() (*Tensors, error) {
	if len(d.Transitions) == 0 {
		return nil, errors.Wrap(vae.ErrDimension, "dataset: empty")
	}
	var obs, act, rew, nextObs, nextRew []float32
	for i := range d.Transitions {
		t := &d.Transitions[i]
		obs = append(obs, t.Obs...)
		act = append(act, t.Act...)
		rew = append(rew, t.Rew...)
		nextObs = append(nextObs, t.NextObs...)
		nextRew = append(nextRew, t.NextRew...)
	}
	n := len(d.Transitions)
	return &Tensors{
		Obs:     tensor.New(tensor.WithShape(n, d.ObsDim), tensor.WithBacking(obs)),
		Act:     tensor.New(tensor.WithShape(n, d.ActDim), tensor.WithBacking(act)),
		Rew:     tensor.New(tensor.WithShape(n, d.RewDim), tensor.WithBacking(rew)),
		NextObs: tensor.New(tensor.WithShape(n, d.ObsDim), tensor.WithBacking(nextObs)),
		NextRew: tensor.New(tensor.WithShape(n, d.RewDim), tensor.WithBacking(nextRew)),
	}, nil
}

// Batch returns the i-th contiguous batch as zero-copy sub-tensors.
func (ts *Tensors) Batch(i, size int) (*Tensors, error) {
	n := ts.Obs.Shape()[0]
	start := i * size
	if size < 1 || start < 0 || start+size > n {
		return nil, errors.Wrapf(vae.ErrDimension, "batch %d of size %d out of %d rows", i, size, n)
	}
	sub := func(t *tensor.Dense) *tensor.Dense {
		w := t.Shape()[1]
		data := t.Data().([]float32)[start*w : (start+size)*w]
		return tensor.New(tensor.WithShape(size, w), tensor.WithBacking(data))
	}
	return &Tensors{
		Obs:     sub(ts.Obs),
		Act:     sub(ts.Act),
		Rew:     sub(ts.Rew),
		NextObs: sub(ts.NextObs),
		NextRew: sub(ts.NextRew),
	}, nil
}

// Save writes the dataset as gob.
func (d *Dataset) Save(filename string) error {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return errors.WithStack(err)
	}
	defer f.Close()
	return errors.WithStack(gob.NewEncoder(f).Encode(d))
}

// LoadDataset reads a gob dataset from filename.
func LoadDataset(filename string) (*Dataset, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer f.Close()
	d := new(Dataset)
	if err := gob.NewDecoder(f).Decode(d); err != nil {
		return nil, errors.WithStack(err)
	}
	return d, nil
}

// Synthetic builds a dataset of the given task count with perTask
// transitions each, standing in for environment rollouts. Each task is a
// random drift vector and reward bias; transitions decay the observation
// toward the drift with noise on top, so an encoder has real structure
// to recover.
func Synthetic(conf vae.Config, tasks, perTask int, seed int64) (*Dataset, error) {
	if tasks < 1 || perTask < 1 {
		return nil, errors.Wrapf(vae.ErrDimension, "synthetic: %d tasks, %d per task", tasks, perTask)
	}
	gauss := rng.NewGaussianGenerator(seed)
	r := rand.New(rand.NewSource(seed))
	d := NewDataset(conf)

	normal := func(n int, std float64) []float32 {
		vs := make([]float32, n)
		for i := range vs {
			vs[i] = float32(gauss.Gaussian(0, std))
		}
		return vs
	}

	for task := 0; task < tasks; task++ {
		drift := normal(conf.ObsDim, 1)
		rewBias := normal(conf.RewDim, 1)
		for i := 0; i < perTask; i++ {
			obs := normal(conf.ObsDim, 1)
			act, err := OneHotAction(r.Intn(conf.ActDim), conf.ActDim, nil)
			if err != nil {
				return nil, err
			}
			noise := normal(conf.ObsDim, 1)
			nextObs := make([]float32, conf.ObsDim)
			for j := range nextObs {
				nextObs[j] = 0.9*obs[j] + 0.3*drift[j] + 0.05*noise[j]
			}
			rewNoise := normal(conf.RewDim, 1)
			rew := make([]float32, conf.RewDim)
			nextRew := make([]float32, conf.RewDim)
			for j := range rew {
				rew[j] = rewBias[j] + 0.1*rewNoise[j]
				nextRew[j] = rewBias[j] + 0.1*rewNoise[j]*0.5
			}
			if err := d.Add(Transition{Obs: obs, Act: act, Rew: rew, NextObs: nextObs, NextRew: nextRew}); err != nil {
				return nil, err
			}
		}
	}
	return d, nil
}
