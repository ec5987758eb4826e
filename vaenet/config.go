package vae

import (
	"strings"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
)

var Float = G.Float32

// Activation selects the nonlinearity used between layers of a stack.
type Activation int

const (
	ReLU Activation = iota
	Tanh
)

func (a Activation) String() string {
	switch a {
	case ReLU:
		return "relu"
	case Tanh:
		return "tanh"
	}
	return "unknown"
}

func (a Activation) valid() bool { return a == ReLU || a == Tanh }

// ParseActivation maps a name to an Activation. Anything other than
// "relu" or "tanh" fails with ErrUnsupportedActivation.
func ParseActivation(s string) (Activation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "relu":
		return ReLU, nil
	case "tanh":
		return Tanh, nil
	}
	return Activation(-1), errors.Wrapf(ErrUnsupportedActivation, "activation %q", s)
}

// Config configures the task VAE. The same dimensionality arguments are
// shared by the encoder and the decoder.
type Config struct {
	ObsDim     int // observation feature width
	ActDim     int // action feature width (one-hot)
	RewDim     int // reward feature width
	TaskEmbDim int // latent task embedding width

	Hiddens    []int // encoder hidden widths, at least one
	Activation Activation
	LayerNorm  bool // normalize after every encoder linear layer
	UseRNN     bool // recurrent encoder variant (not implemented)
}

// DefaultConf is the grid-world configuration: 7x7x3 flattened
// observations, seven one-hot actions, scalar rewards.
func DefaultConf() Config {
	return Config{
		ObsDim:     147,
		ActDim:     7,
		RewDim:     1,
		TaskEmbDim: 10,
		Hiddens:    []int{64},
		Activation: ReLU,
		LayerNorm:  true,
	}
}

func (conf Config) IsValid() bool {
	if conf.ObsDim < 1 ||
		conf.ActDim < 1 ||
		conf.RewDim < 1 ||
		conf.TaskEmbDim < 1 ||
		len(conf.Hiddens) == 0 ||
		!conf.Activation.valid() {
		return false
	}
	for _, h := range conf.Hiddens {
		if h < 1 {
			return false
		}
	}
	return true
}

// check returns a descriptive error for the first invalid field.
func (conf Config) check() error {
	switch {
	case conf.ObsDim < 1:
		return errors.Wrapf(ErrDimension, "ObsDim %d", conf.ObsDim)
	case conf.ActDim < 1:
		return errors.Wrapf(ErrDimension, "ActDim %d", conf.ActDim)
	case conf.RewDim < 1:
		return errors.Wrapf(ErrDimension, "RewDim %d", conf.RewDim)
	case conf.TaskEmbDim < 1:
		return errors.Wrapf(ErrDimension, "TaskEmbDim %d", conf.TaskEmbDim)
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
