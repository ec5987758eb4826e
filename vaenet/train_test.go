package vae

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"gorgonia.org/tensor"
)

func learnerFixture(t *testing.T, conf LearnConf) (*VAE, *Learner) {
	t.Helper()
	v, err := New(smallConf())
	if err != nil {
		t.Fatalf("%+v", err)
	}
	l, err := NewLearner(v, conf)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	return v, l
}

func TestLearnConfCheck(t *testing.T) {
	v, err := New(smallConf())
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer v.Close()

	conf := DefaultLearnConf()
	conf.BatchSize = 0
	if _, err := NewLearner(v, conf); err == nil {
		t.Error("zero batch size should not construct")
	}

	conf = DefaultLearnConf()
	conf.LearnRate = 0
	if _, err := NewLearner(v, conf); err == nil {
		t.Error("zero learn rate should not construct")
	}
}

func TestLearnerStep(t *testing.T) {
	assert := assert.New(t)
	conf := DefaultLearnConf()
	v, l := learnerFixture(t, conf)
	defer v.Close()
	defer l.Close()

	assert.Equal(14, len(l.Model()), "every trainable tensor should be in the model")

	losses, err := l.Step(
		randDense(10, 6), randDense(10, 3), randDense(10, 1),
		randDense(10, 6), randDense(10, 1),
	)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.True(finite32(losses.Obs, losses.Rew, losses.KL, losses.Total, losses.GradNorm), "losses %+v should be finite", losses)
	assert.True(losses.Obs >= 0, "obs loss %v", losses.Obs)
	assert.True(losses.Rew >= 0, "rew loss %v", losses.Rew)
	assert.True(losses.KL >= 0, "kl %v", losses.KL)
	assert.True(losses.GradNorm > 0, "gradient should be non-zero at init")

	// batch size is fixed at construction
	if _, err := l.Step(
		randDense(7, 6), randDense(7, 3), randDense(7, 1),
		randDense(7, 6), randDense(7, 1),
	); err == nil {
		t.Error("mismatched batch size should fail")
	}
}

func TestLearnerDescends(t *testing.T) {
	conf := DefaultLearnConf()
	conf.LearnRate = 1e-3
	v, l := learnerFixture(t, conf)
	defer v.Close()
	defer l.Close()

	obs, act, rew := randDense(10, 6), randDense(10, 3), randDense(10, 1)
	nextObs, nextRew := randDense(10, 6), randDense(10, 1)

	first, err := l.Step(obs, act, rew, nextObs, nextRew)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	var last Losses
	for i := 0; i < 300; i++ {
		if last, err = l.Step(obs, act, rew, nextObs, nextRew); err != nil {
			t.Fatalf("step %d: %+v", i, err)
		}
	}
	assert.True(t, last.Obs < first.Obs, "obs loss should fall: first %v last %v", first.Obs, last.Obs)
	assert.True(t, finite32(last.Total), "total %v", last.Total)
}

func TestLearnerSharesWeights(t *testing.T) {
	// solver steps mutate the canonical tensors, so a forward pass after
	// training must see the updated weights
	v, l := learnerFixture(t, DefaultLearnConf())
	defer v.Close()
	defer l.Close()

	obs, act, rew := randDense(10, 6), randDense(10, 3), randDense(10, 1)
	before, err := v.Encoder.Forward(obs, act, rew)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := l.Step(obs, act, rew, randDense(10, 6), randDense(10, 1)); err != nil {
			t.Fatalf("%+v", err)
		}
	}
	after, err := v.Encoder.Forward(obs, act, rew)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.NotEqual(t, before.Mean.Data(), after.Mean.Data(), "training should move the posterior")
}

func TestLearnerRejectsNonFinite(t *testing.T) {
	v, l := learnerFixture(t, DefaultLearnConf())
	defer v.Close()
	defer l.Close()

	obs := randDense(10, 6)
	obs.Data().([]float32)[0] = math32.Inf(1)
	if _, err := l.Step(obs, randDense(10, 3), randDense(10, 1), randDense(10, 6), randDense(10, 1)); err == nil {
		t.Error("non-finite losses should fail the step")
	}
}

func TestLearnerClip(t *testing.T) {
	conf := DefaultLearnConf()
	conf.Clip = 1.0
	v, l := learnerFixture(t, conf)
	defer v.Close()
	defer l.Close()

	losses, err := l.Step(
		randDense(10, 6), randDense(10, 3), randDense(10, 1),
		randDense(10, 6), randDense(10, 1),
	)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.True(t, finite32(losses.Total), "losses %+v should be finite", losses)
}

func TestLearnerTrain(t *testing.T) {
	v, l := learnerFixture(t, DefaultLearnConf())
	defer v.Close()
	defer l.Close()

	losses, err := l.Train(
		randDense(30, 6), randDense(30, 3), randDense(30, 1),
		randDense(30, 6), randDense(30, 1),
		2,
	)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.True(t, finite32(losses.Obs, losses.Rew, losses.KL, losses.Total), "losses %+v should be finite", losses)
}

func TestShuffleBatch(t *testing.T) {
	assert := assert.New(t)
	a := tensor.New(tensor.WithShape(6, 2), tensor.WithBacking([]float32{
		0, 0, 1, 10, 2, 20, 3, 30, 4, 40, 5, 50,
	}))
	b := tensor.New(tensor.WithShape(6, 1), tensor.WithBacking([]float32{
		0, 1, 2, 3, 4, 5,
	}))

	if err := shuffleBatch(a, b); err != nil {
		t.Fatalf("%+v", err)
	}

	ad := a.Data().([]float32)
	bd := b.Data().([]float32)
	seen := make(map[float32]bool)
	for r := 0; r < 6; r++ {
		key := ad[r*2]
		assert.Equal(key*10, ad[r*2+1], "row %d should stay intact", r)
		assert.Equal(key, bd[r], "row %d should stay aligned across tensors", r)
		seen[key] = true
	}
	assert.Equal(6, len(seen), "every row should survive the shuffle")
}
