package vae

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func constDense(v float32, shape ...int) *tensor.Dense {
	backing := make([]float32, tensor.Shape(shape).TotalSize())
	for i := range backing {
		backing[i] = v
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(backing))
}

func moments(vs []float32) (mean, variance float64) {
	var sum, sumSq float64
	for _, v := range vs {
		sum += float64(v)
		sumSq += float64(v) * float64(v)
	}
	n := float64(len(vs))
	mean = sum / n
	return mean, sumSq/n - mean*mean
}

func TestReparameterizeStatistics(t *testing.T) {
	assert := assert.New(t)
	Seed(7)

	// unit variance around 1.5
	z, err := Reparameterize(constDense(1.5, 5000, 4), constDense(0, 5000, 4))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	mean, variance := moments(z.Data().([]float32))
	assert.InDelta(1.5, mean, 0.05, "sample mean")
	assert.InDelta(1.0, variance, 0.1, "sample variance")

	// logVar = ln(0.25) should give variance 0.25
	z, err = Reparameterize(constDense(0, 5000, 4), constDense(-1.3862944, 5000, 4))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	mean, variance = moments(z.Data().([]float32))
	assert.InDelta(0.0, mean, 0.05, "sample mean")
	assert.InDelta(0.25, variance, 0.05, "sample variance")
}

func TestReparameterizeCollapse(t *testing.T) {
	// as logVar goes very negative the draw collapses onto the mean
	mean := constDense(0.75, 8, 2)
	z, err := Reparameterize(mean, constDense(-40, 8, 2))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	for i, v := range z.Data().([]float32) {
		assert.InDelta(t, 0.75, v, 1e-5, "element %d", i)
	}
	assert.True(t, mean.Shape().Eq(z.Shape()), "shape %v", z.Shape())
}

func TestReparameterizeErrors(t *testing.T) {
	if _, err := Reparameterize(constDense(0, 3, 2), constDense(0, 2, 3)); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Reparameterize error = %v, want ErrShapeMismatch", err)
	}
	if _, err := Reparameterize(nil, constDense(0, 2, 3)); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Reparameterize error = %v, want ErrShapeMismatch", err)
	}
}

func TestKLDiv(t *testing.T) {
	assert := assert.New(t)

	// standard normal has zero divergence from itself
	kl, err := KLDiv(constDense(0, 10, 4), constDense(0, 10, 4))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.InDelta(0, kl, 1e-6)

	// unit mean shift costs 0.5 per element, summed over the batch
	kl, err = KLDiv(constDense(1, 10, 4), constDense(0, 10, 4))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.InDelta(20.0, float64(kl), 1e-3)

	if _, err := KLDiv(constDense(0, 3, 2), constDense(0, 3, 3)); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("KLDiv error = %v, want ErrShapeMismatch", err)
	}
}

func anyNonzero(vs []float32) bool {
	for _, v := range vs {
		if v != 0 {
			return true
		}
	}
	return false
}

func TestReparamGradientFlow(t *testing.T) {
	assert := assert.New(t)
	g := G.NewGraph()

	muT := tensor.New(tensor.WithShape(4, 3), tensor.WithBacking(tensor.Random(Float, 12)))
	lvT := tensor.New(tensor.WithShape(4, 3), tensor.WithBacking(tensor.Random(Float, 12)))
	epsT := tensor.New(tensor.WithShape(4, 3), tensor.WithBacking(gaussian32(12)))

	mu := varNode(g, "mu", muT)
	lv := varNode(g, "lv", lvT)
	eps := varNode(g, "eps", epsT)
	target := varNode(g, "target", constDense(0, 4, 3))

	var m maebe
	z := m.reparamize(mu, lv, eps)
	loss := m.mse(z, target)
	if m.err != nil {
		t.Fatalf("%+v", m.err)
	}

	grads, err := G.Grad(loss, mu, lv)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	var gmu, glv G.Value
	G.Read(grads[0], &gmu)
	G.Read(grads[1], &glv)

	vm := G.NewTapeMachine(g)
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		t.Fatalf("%+v", err)
	}

	gm := gmu.Data().([]float32)
	gl := glv.Data().([]float32)
	assert.True(finite32(gm...), "mean gradient should be finite")
	assert.True(finite32(gl...), "logvar gradient should be finite")
	assert.True(anyNonzero(gm), "gradient should reach the mean")
	assert.True(anyNonzero(gl), "gradient should reach the log variance")
}
