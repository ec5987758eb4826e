package vae

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"gorgonia.org/tensor"
)

func smallConf() Config {
	return Config{
		ObsDim:     6,
		ActDim:     3,
		RewDim:     1,
		TaskEmbDim: 4,
		Hiddens:    []int{8, 5},
		Activation: ReLU,
		LayerNorm:  true,
	}
}

func randDense(shape ...int) *tensor.Dense {
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(tensor.Random(Float, tensor.Shape(shape).TotalSize())))
}

func TestEncoderRejects(t *testing.T) {
	cases := []struct {
		name   string
		mut    func(*Config)
		target error
	}{
		{"zero obs dim", func(c *Config) { c.ObsDim = 0 }, ErrDimension},
		{"empty hiddens", func(c *Config) { c.Hiddens = nil }, ErrDimension},
		{"zero emb dim", func(c *Config) { c.TaskEmbDim = 0 }, ErrDimension},
		{"bad activation", func(c *Config) { c.Activation = Activation(9) }, ErrUnsupportedActivation},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			conf := smallConf()
			c.mut(&conf)
			if _, err := NewEncoder(conf); !errors.Is(err, c.target) {
				t.Errorf("NewEncoder error = %v, want %v", err, c.target)
			}
		})
	}
}

func TestNewTaskEncoderVariants(t *testing.T) {
	conf := smallConf()
	enc, err := NewTaskEncoder(conf)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if _, ok := enc.(*Encoder); !ok {
		t.Fatalf("want the feed-forward encoder, got %T", enc)
	}
	enc.Close()

	conf.UseRNN = true
	if _, err := NewTaskEncoder(conf); err == nil {
		t.Error("recurrent variant should not construct")
	}
}

func TestEncoderForward2D(t *testing.T) {
	assert := assert.New(t)
	conf := smallConf()
	e, err := NewEncoder(conf)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer e.Close()

	l, err := e.Forward(randDense(5, 6), randDense(5, 3), randDense(5, 1))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.True(l.TaskEmbedding.Shape().Eq(tensor.Shape{5, 8}), "task embedding shape %v", l.TaskEmbedding.Shape())
	assert.True(l.Mean.Shape().Eq(tensor.Shape{5, 4}), "mean shape %v", l.Mean.Shape())
	assert.True(l.LogVar.Shape().Eq(tensor.Shape{5, 4}), "logvar shape %v", l.LogVar.Shape())
	assert.True(l.Z.Shape().Eq(tensor.Shape{5, 4}), "z shape %v", l.Z.Shape())

	// the task embedding is exactly mean followed by logvar
	te := l.TaskEmbedding.Data().([]float32)
	mu := l.Mean.Data().([]float32)
	lv := l.LogVar.Data().([]float32)
	E := conf.TaskEmbDim
	for r := 0; r < 5; r++ {
		for c := 0; c < E; c++ {
			assert.Equal(te[r*2*E+c], mu[r*E+c], "mean at (%d, %d)", r, c)
			assert.Equal(te[r*2*E+E+c], lv[r*E+c], "logvar at (%d, %d)", r, c)
		}
	}
	assert.True(finite32(l.Z.Data().([]float32)...), "z should be finite")
}

func TestEncoderForward3D(t *testing.T) {
	assert := assert.New(t)
	e, err := NewEncoder(smallConf())
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer e.Close()

	l, err := e.Forward(randDense(3, 2, 6), randDense(3, 2, 3), randDense(3, 2, 1))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.True(l.TaskEmbedding.Shape().Eq(tensor.Shape{3, 2, 8}), "task embedding shape %v", l.TaskEmbedding.Shape())
	assert.True(l.Mean.Shape().Eq(tensor.Shape{3, 2, 4}), "mean shape %v", l.Mean.Shape())
	assert.True(l.LogVar.Shape().Eq(tensor.Shape{3, 2, 4}), "logvar shape %v", l.LogVar.Shape())
	assert.True(l.Z.Shape().Eq(tensor.Shape{3, 2, 4}), "z shape %v", l.Z.Shape())
}

func TestEncoderShapeErrors(t *testing.T) {
	e, err := NewEncoder(smallConf())
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer e.Close()

	cases := []struct {
		name          string
		obs, act, rew *tensor.Dense
	}{
		{"leading dim mismatch", randDense(5, 6), randDense(4, 3), randDense(5, 1)},
		{"rank mismatch", randDense(5, 6), randDense(5, 3), randDense(1, 5, 1)},
		{"wrong feature width", randDense(5, 7), randDense(5, 3), randDense(5, 1)},
		{"rank 1", randDense(6), randDense(3), randDense(1)},
		{"rank 4", randDense(1, 1, 5, 6), randDense(1, 1, 5, 3), randDense(1, 1, 5, 1)},
		{"nil input", nil, randDense(5, 3), randDense(5, 1)},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if _, err := e.Forward(c.obs, c.act, c.rew); !errors.Is(err, ErrShapeMismatch) {
				t.Errorf("Forward error = %v, want ErrShapeMismatch", err)
			}
		})
	}
}

func TestEncoderForwardHidden(t *testing.T) {
	e, err := NewEncoder(smallConf())
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer e.Close()

	l, hidden, err := e.ForwardHidden(randDense(5, 6), randDense(5, 3), randDense(5, 1), randDense(5, 8))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if l == nil {
		t.Fatal("latent should not be nil")
	}
	if hidden != nil {
		t.Errorf("feed-forward encoder should not return hidden state, got %v", hidden.Shape())
	}
}

func TestEncoderSeededDeterminism(t *testing.T) {
	assert := assert.New(t)
	e, err := NewEncoder(smallConf())
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer e.Close()

	obs, act, rew := randDense(5, 6), randDense(5, 3), randDense(5, 1)

	Seed(42)
	l1, err := e.Forward(obs, act, rew)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	Seed(42)
	l2, err := e.Forward(obs, act, rew)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Equal(l1.Z.Data(), l2.Z.Data(), "same seed should give the same sample")

	l3, err := e.Forward(obs, act, rew)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.NotEqual(l2.Z.Data(), l3.Z.Data(), "fresh draws should differ")
	assert.Equal(l2.Mean.Data(), l3.Mean.Data(), "mean does not depend on the draw")
}
