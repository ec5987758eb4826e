package babytask

import (
	"encoding/gob"
	"math/rand"
	"os"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	vae "github.com/minigrid/babytask/vaenet"
)

// DistillQuery trains a fresh query encoder to reproduce the task
// encoder's posterior means over ds. The query encoder sees only
// observations and actions, so the result can embed queries where no
// reward signal exists yet. r reshuffles between epochs and may be nil
// to keep the dataset order; progress, when non-nil, is called once per
// epoch with the mean distillation loss.
func DistillQuery(v *vae.VAE, qc vae.QueryConf, ds *Dataset, lc vae.LearnConf, epochs int, r *rand.Rand, progress func(epoch int, loss float64)) (*vae.QueryEncoder, error) {
	if qc.ObsDim != ds.ObsDim || qc.ActDim != ds.ActDim {
		return nil, errors.Wrapf(vae.ErrShapeMismatch, "distill: query dims %d/%d, dataset has %d/%d",
			qc.ObsDim, qc.ActDim, ds.ObsDim, ds.ActDim)
	}
	if qc.EmbDim != v.TaskEmbDim {
		return nil, errors.Wrapf(vae.ErrShapeMismatch, "distill: query emb dim %d, task emb dim %d",
			qc.EmbDim, v.TaskEmbDim)
	}
	if epochs < 1 {
		return nil, errors.Wrapf(vae.ErrDimension, "distill: %d epochs", epochs)
	}
	batches := ds.Len() / lc.BatchSize
	if lc.BatchSize < 1 || batches < 1 {
		return nil, errors.Wrapf(vae.ErrDimension, "distill: %d rows in batches of %d", ds.Len(), lc.BatchSize)
	}

	q, err := vae.NewQueryEncoder(qc)
	if err != nil {
		return nil, err
	}
	ql, err := vae.NewQueryLearner(q, lc)
	if err != nil {
		q.Close()
		return nil, err
	}
	defer ql.Close()

	fail := func(err error) (*vae.QueryEncoder, error) {
		q.Close()
		return nil, err
	}
	for e := 0; e < epochs; e++ {
		if r != nil {
			ds.Shuffle(r)
		}
		ts, err := ds.Tensors()
		if err != nil {
			return fail(err)
		}
		var sum float64
		for i := 0; i < batches; i++ {
			b, err := ts.Batch(i, lc.BatchSize)
			if err != nil {
				return fail(err)
			}
			lat, err := v.Encoder.Forward(b.Obs, b.Act, b.Rew)
			if err != nil {
				return fail(err)
			}
			loss, _, err := ql.Step(b.Obs, b.Act, lat.Mean)
			if err != nil {
				return fail(err)
			}
			sum += float64(loss)
		}
		if progress != nil {
			progress(e+1, sum/float64(batches))
		}
	}
	return q, nil
}

// SaveQueryEncoder checkpoints a query encoder into filename.
func SaveQueryEncoder(q *vae.QueryEncoder, filename string) error {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return errors.WithStack(err)
	}
	defer f.Close()
	return errors.WithStack(gob.NewEncoder(f).Encode(q))
}

// LoadQueryEncoder rebuilds a query encoder from a checkpoint written
// by SaveQueryEncoder.
func LoadQueryEncoder(filename string) (*vae.QueryEncoder, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer f.Close()
	q := new(vae.QueryEncoder)
	if err := gob.NewDecoder(f).Decode(q); err != nil {
		return nil, errors.WithStack(err)
	}
	return q, nil
}

// Embeddings are the per-transition latent statistics of a dataset
// under a trained model. Query is only set when a query encoder was
// given to Embed.
type Embeddings struct {
	Mean   *tensor.Dense
	LogVar *tensor.Dense
	Z      *tensor.Dense
	Query  *tensor.Dense
}

// Embed runs the whole dataset through the task encoder, and through q
// when q is non-nil.
func Embed(v *vae.VAE, q *vae.QueryEncoder, ds *Dataset) (*Embeddings, error) {
	ts, err := ds.Tensors()
	if err != nil {
		return nil, err
	}
	lat, err := v.Encoder.Forward(ts.Obs, ts.Act, ts.Rew)
	if err != nil {
		return nil, err
	}
	out := &Embeddings{Mean: lat.Mean, LogVar: lat.LogVar, Z: lat.Z}
	if q != nil {
		if out.Query, err = q.Forward(ts.Obs, ts.Act); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Save writes the embeddings as gob.
func (e *Embeddings) Save(filename string) error {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return errors.WithStack(err)
	}
	defer f.Close()
	return errors.WithStack(gob.NewEncoder(f).Encode(e))
}

// LoadEmbeddings reads embeddings written by Save.
func LoadEmbeddings(filename string) (*Embeddings, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer f.Close()
	e := new(Embeddings)
	if err := gob.NewDecoder(f).Decode(e); err != nil {
		return nil, errors.WithStack(err)
	}
	return e, nil
}
