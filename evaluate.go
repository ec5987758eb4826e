package babytask

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/vecf32"

	vae "github.com/minigrid/babytask/vaenet"
)

// Evaluate runs a graph-free validation pass over the dataset: encoder
// and decoder forwards batch by batch, losses computed on the raw
// slices with the learner's coefficients. Rows beyond the last full
// batch are skipped.
func Evaluate(v *vae.VAE, ds *Dataset, lc vae.LearnConf) (vae.Losses, error) {
	var out vae.Losses
	batches := ds.Len() / lc.BatchSize
	if lc.BatchSize < 1 || batches < 1 {
		return out, errors.Wrapf(vae.ErrDimension, "evaluate: %d rows in batches of %d", ds.Len(), lc.BatchSize)
	}
	ts, err := ds.Tensors()
	if err != nil {
		return out, err
	}

	var obs, rew, kl float64
	for i := 0; i < batches; i++ {
		b, err := ts.Batch(i, lc.BatchSize)
		if err != nil {
			return out, err
		}
		l, err := v.Encoder.Forward(b.Obs, b.Act, b.Rew)
		if err != nil {
			return out, err
		}
		rec, err := v.Decoder.Forward(l.Z, b.Obs, b.Act)
		if err != nil {
			return out, err
		}
		klBatch, err := vae.KLDiv(l.Mean, l.LogVar)
		if err != nil {
			return out, err
		}
		obs += mse32(rec.NextObs.Data().([]float32), b.NextObs.Data().([]float32))
		rew += mse32(rec.Reward.Data().([]float32), b.NextRew.Data().([]float32))
		kl += float64(klBatch)
	}

	out.Obs = float32(obs / float64(batches))
	out.Rew = float32(rew / float64(batches))
	out.KL = float32(kl / float64(batches))
	out.Total = float32(lc.ObsCoef)*out.Obs + float32(lc.RewCoef)*out.Rew + float32(lc.KLCoef)*out.KL
	if math32.IsNaN(out.Total) || math32.IsInf(out.Total, 0) {
		return out, errors.Errorf("evaluate: non-finite losses %+v", out)
	}
	return out, nil
}

// mse32 is the mean squared error between two equal-length slices.
func mse32(pred, target []float32) float64 {
	d := make([]float32, len(pred))
	copy(d, pred)
	vecf32.Sub(d, target)
	vecf32.Mul(d, d)
	var s float64
	for _, v := range d {
		s += float64(v)
	}
	return s / float64(len(d))
}
