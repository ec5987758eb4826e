package babytask

import (
	"github.com/pkg/errors"

	vae "github.com/minigrid/babytask/vaenet"
)

// OneHotAction encodes a discrete action as a one-hot vector of the
// given width, reusing prealloc when it fits.
func OneHotAction(action, space int, prealloc []float32) ([]float32, error) {
	if space < 1 || action < 0 || action >= space {
		return nil, errors.Wrapf(vae.ErrDimension, "action %d out of space %d", action, space)
	}
	if len(prealloc) != space {
		prealloc = make([]float32, space)
	}
	for i := range prealloc {
		prealloc[i] = 0
	}
	prealloc[action] = 1
	return prealloc, nil
}

// MirrorObs mirrors a flattened h by w grid observation with f features
// per cell left to right. The input is left untouched.
func MirrorObs(obs []float32, h, w, f int) ([]float32, error) {
	if h < 1 || w < 1 || f < 1 || len(obs) != h*w*f {
		return nil, errors.Wrapf(vae.ErrShapeMismatch, "mirror: obs width %d, want %d*%d*%d", len(obs), h, w, f)
	}
	copied := make([]float32, len(obs))
	copy(copied, obs)
	rows := rowsOf(copied, h, w*f)
	for i := range rows {
		row := rows[i]
		for j := 0; j < w/2; j++ {
			a := row[j*f : (j+1)*f]
			b := row[(w-1-j)*f : (w-j)*f]
			for k := range a {
				a[k], b[k] = b[k], a[k]
			}
		}
	}
	returnRows(h, w*f, rows)
	return copied, nil
}

// mirrorAction swaps the two turn actions in a one-hot encoding; every
// other action is direction-free and stays put.
func mirrorAction(act []float32, left, right int) ([]float32, error) {
	if left < 0 || right < 0 || left >= len(act) || right >= len(act) {
		return nil, errors.Wrapf(vae.ErrDimension, "mirror: turn actions %d/%d out of %d", left, right, len(act))
	}
	copied := make([]float32, len(act))
	copy(copied, act)
	copied[left], copied[right] = copied[right], copied[left]
	return copied, nil
}

// MirrorAugmenter derives the left-right mirrored twin of each
// transition over an h by w grid with f features per cell; left and
// right are the indices of the two turn actions to swap.
func MirrorAugmenter(h, w, f, left, right int) Augmenter {
	return func(t Transition) ([]Transition, error) {
		obs, err := MirrorObs(t.Obs, h, w, f)
		if err != nil {
			return nil, err
		}
		nextObs, err := MirrorObs(t.NextObs, h, w, f)
		if err != nil {
			return nil, err
		}
		act, err := mirrorAction(t.Act, left, right)
		if err != nil {
			return nil, err
		}
		rew := make([]float32, len(t.Rew))
		copy(rew, t.Rew)
		nextRew := make([]float32, len(t.NextRew))
		copy(nextRew, t.NextRew)
		return []Transition{{Obs: obs, Act: act, Rew: rew, NextObs: nextObs, NextRew: nextRew}}, nil
	}
}
