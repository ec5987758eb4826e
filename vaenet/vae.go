package vae

import (
	"bytes"
	"encoding/gob"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// VAE owns one task encoder and one task decoder built from a shared
// Config. It exposes construction, the parameter set and checkpoint
// round tripping; running the pair and combining their outputs into a
// loss is the learner's job.
type VAE struct {
	Config
	Encoder TaskEncoder
	Decoder *Decoder
}

func New(conf Config) (*VAE, error) {
	enc, err := NewTaskEncoder(conf)
	if err != nil {
		return nil, err
	}
	dec, err := NewDecoder(conf)
	if err != nil {
		return nil, err
	}
	return &VAE{Config: conf, Encoder: enc, Decoder: dec}, nil
}

// Params lists every trainable tensor, encoder first. The order is
// stable across runs and is also the serialization order.
func (v *VAE) Params() []*tensor.Dense {
	return append(v.Encoder.Params(), v.Decoder.Params()...)
}

func (v *VAE) Close() error {
	err := v.Encoder.Close()
	if err2 := v.Decoder.Close(); err == nil {
		err = err2
	}
	return err
}

func (v *VAE) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(v.Config); err != nil {
		return nil, errors.WithStack(err)
	}
	for _, p := range v.Params() {
		if err := enc.Encode(p); err != nil {
			return nil, errors.WithStack(err)
		}
	}
	return buf.Bytes(), nil
}

func (v *VAE) GobDecode(p []byte) error {
	buf := bytes.NewBuffer(p)
	dec := gob.NewDecoder(buf)
	var conf Config
	if err := dec.Decode(&conf); err != nil {
		return errors.WithStack(err)
	}

	v2, err := New(conf)
	if err != nil {
		return err
	}
	if v.Encoder != nil {
		v.Encoder.Close()
	}
	if v.Decoder != nil {
		v.Decoder.Close()
	}
	*v = *v2

	for _, param := range v.Params() {
		var d *tensor.Dense
		if err := dec.Decode(&d); err != nil {
			return errors.WithStack(err)
		}
		if !d.Shape().Eq(param.Shape()) {
			return errors.Wrapf(ErrShapeMismatch, "checkpoint param shape %v, want %v", d.Shape(), param.Shape())
		}
		copy(param.Data().([]float32), d.Data().([]float32))
	}
	return nil
}
