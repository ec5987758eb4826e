package vae

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Reparameterize draws z = mean + eps * exp(0.5 * logVar), with eps a
// fresh standard normal draw from the shared source. mean and logVar
// must have identical shapes. Stateless apart from the draw; call Seed
// first for a reproducible result. The in-graph equivalent used during
// training is built by maebe.reparamize.
func Reparameterize(mean, logVar *tensor.Dense) (*tensor.Dense, error) {
	if mean == nil || logVar == nil {
		return nil, errors.Wrap(ErrShapeMismatch, "reparameterize: nil input")
	}
	if !mean.Shape().Eq(logVar.Shape()) {
		return nil, errors.Wrapf(ErrShapeMismatch, "reparameterize: mean %v vs logVar %v", mean.Shape(), logVar.Shape())
	}
	mu, ok := mean.Data().([]float32)
	if !ok {
		return nil, errors.Errorf("reparameterize: want float32 backing, got %T", mean.Data())
	}
	lv, ok := logVar.Data().([]float32)
	if !ok {
		return nil, errors.Errorf("reparameterize: want float32 backing, got %T", logVar.Data())
	}

	out := make([]float32, len(mu))
	fillGaussian32(out)
	for i := range out {
		out[i] = mu[i] + out[i]*math32.Exp(0.5*lv[i])
	}
	return tensor.New(tensor.WithShape(mean.Shape().Clone()...), tensor.WithBacking(out)), nil
}

// KLDiv computes -0.5 * sum(1 + logVar - mean^2 - exp(logVar)), the
// divergence of the latent distribution from a standard normal prior,
// summed over the whole batch. It matches the in-graph term the learner
// optimizes.
func KLDiv(mean, logVar *tensor.Dense) (float32, error) {
	if mean == nil || logVar == nil {
		return 0, errors.Wrap(ErrShapeMismatch, "kl: nil input")
	}
	if !mean.Shape().Eq(logVar.Shape()) {
		return 0, errors.Wrapf(ErrShapeMismatch, "kl: mean %v vs logVar %v", mean.Shape(), logVar.Shape())
	}
	mu, ok := mean.Data().([]float32)
	if !ok {
		return 0, errors.Errorf("kl: want float32 backing, got %T", mean.Data())
	}
	lv, ok := logVar.Data().([]float32)
	if !ok {
		return 0, errors.Errorf("kl: want float32 backing, got %T", logVar.Data())
	}

	var total float32
	for i := range mu {
		total += 1 + lv[i] - mu[i]*mu[i] - math32.Exp(lv[i])
	}
	return -0.5 * total, nil
}
