package babytask

import (
	"math/rand"
	"path/filepath"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	vae "github.com/minigrid/babytask/vaenet"
)

func testConf() vae.Config {
	return vae.Config{
		ObsDim:     6,
		ActDim:     3,
		RewDim:     1,
		TaskEmbDim: 4,
		Hiddens:    []int{8},
		Activation: vae.ReLU,
		LayerNorm:  true,
	}
}

// keyed builds n transitions whose obs[0] identifies the row.
func keyed(t *testing.T, n int) *Dataset {
	t.Helper()
	d := NewDataset(testConf())
	for i := 0; i < n; i++ {
		tr := Transition{
			Obs:     []float32{float32(i), 0, 0, 0, 0, 0},
			Act:     []float32{1, 0, 0},
			Rew:     []float32{float32(i) * 10},
			NextObs: []float32{float32(i), 1, 0, 0, 0, 0},
			NextRew: []float32{float32(i) * 10},
		}
		if err := d.Add(tr); err != nil {
			t.Fatalf("%+v", err)
		}
	}
	return d
}

func TestDatasetAdd(t *testing.T) {
	d := NewDataset(testConf())
	good := Transition{
		Obs:     make([]float32, 6),
		Act:     make([]float32, 3),
		Rew:     make([]float32, 1),
		NextObs: make([]float32, 6),
		NextRew: make([]float32, 1),
	}
	if err := d.Add(good); err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Equal(t, 1, d.Len())

	bad := []Transition{
		{Obs: make([]float32, 5), Act: good.Act, Rew: good.Rew, NextObs: good.NextObs, NextRew: good.NextRew},
		{Obs: good.Obs, Act: make([]float32, 4), Rew: good.Rew, NextObs: good.NextObs, NextRew: good.NextRew},
		{Obs: good.Obs, Act: good.Act, Rew: nil, NextObs: good.NextObs, NextRew: good.NextRew},
		{Obs: good.Obs, Act: good.Act, Rew: good.Rew, NextObs: make([]float32, 7), NextRew: good.NextRew},
		{Obs: good.Obs, Act: good.Act, Rew: good.Rew, NextObs: good.NextObs, NextRew: make([]float32, 2)},
	}
	for i, tr := range bad {
		err := d.Add(tr)
		if !errors.Is(err, vae.ErrShapeMismatch) {
			t.Errorf("case %d: expected shape mismatch, got %v", i, err)
		}
	}
	assert.Equal(t, 1, d.Len())
}

func TestDatasetShuffle(t *testing.T) {
	d := keyed(t, 16)
	before := make([]float32, d.Len())
	for i, tr := range d.Transitions {
		before[i] = tr.Obs[0]
	}

	d.Shuffle(rand.New(rand.NewSource(1)))

	after := make([]float32, d.Len())
	for i, tr := range d.Transitions {
		after[i] = tr.Obs[0]
		// rows travel whole
		assert.Equal(t, tr.Obs[0]*10, tr.Rew[0])
	}
	assert.NotEqual(t, before, after)

	sorted := append([]float32(nil), after...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	assert.Equal(t, before, sorted)
}

func TestDatasetSplit(t *testing.T) {
	d := keyed(t, 10)
	train, held := d.Split(0.3)
	assert.Equal(t, 7, train.Len())
	assert.Equal(t, 3, held.Len())
	assert.Equal(t, float32(7), held.Transitions[0].Obs[0])
	assert.Equal(t, d.ObsDim, held.ObsDim)

	train, held = d.Split(0)
	assert.Equal(t, 10, train.Len())
	assert.Equal(t, 0, held.Len())
}

func TestDatasetTensors(t *testing.T) {
	d := keyed(t, 4)
	ts, err := d.Tensors()
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Equal(t, []int{4, 6}, []int(ts.Obs.Shape()))
	assert.Equal(t, []int{4, 3}, []int(ts.Act.Shape()))
	assert.Equal(t, []int{4, 1}, []int(ts.Rew.Shape()))
	assert.Equal(t, []int{4, 6}, []int(ts.NextObs.Shape()))
	assert.Equal(t, []int{4, 1}, []int(ts.NextRew.Shape()))

	obs := ts.Obs.Data().([]float32)
	for i := 0; i < 4; i++ {
		assert.Equal(t, float32(i), obs[i*6])
	}

	b, err := ts.Batch(1, 2)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Equal(t, []int{2, 6}, []int(b.Obs.Shape()))
	assert.Equal(t, []float32{20, 30}, b.Rew.Data().([]float32))

	if _, err = ts.Batch(1, 3); !errors.Is(err, vae.ErrDimension) {
		t.Errorf("expected out of range batch to fail, got %v", err)
	}
	if _, err = ts.Batch(0, 0); !errors.Is(err, vae.ErrDimension) {
		t.Errorf("expected zero batch size to fail, got %v", err)
	}

	empty := NewDataset(testConf())
	if _, err = empty.Tensors(); !errors.Is(err, vae.ErrDimension) {
		t.Errorf("expected empty dataset to fail, got %v", err)
	}
}

func TestDatasetAugment(t *testing.T) {
	d := keyed(t, 5)
	negate := func(tr Transition) ([]Transition, error) {
		obs := make([]float32, len(tr.Obs))
		for i, v := range tr.Obs {
			obs[i] = -v
		}
		tr.Obs = obs
		return []Transition{tr}, nil
	}
	if err := d.Augment(negate); err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Equal(t, 10, d.Len())
	assert.Equal(t, -d.Transitions[1].Obs[0], d.Transitions[6].Obs[0])

	ragged := func(tr Transition) ([]Transition, error) {
		tr.Obs = tr.Obs[:2]
		return []Transition{tr}, nil
	}
	if err := d.Augment(ragged); !errors.Is(err, vae.ErrShapeMismatch) {
		t.Errorf("expected ragged augmenter to fail, got %v", err)
	}

	boom := func(tr Transition) ([]Transition, error) {
		return nil, errors.New("boom")
	}
	assert.Error(t, d.Augment(boom))
}

func TestDatasetSaveLoad(t *testing.T) {
	d, err := Synthetic(testConf(), 2, 6, 3)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	filename := filepath.Join(t.TempDir(), "transitions.gob")
	if err := d.Save(filename); err != nil {
		t.Fatalf("%+v", err)
	}
	d2, err := LoadDataset(filename)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if diff := cmp.Diff(d, d2); diff != "" {
		t.Errorf("dataset changed over save/load:\n%s", diff)
	}
}

func TestSynthetic(t *testing.T) {
	conf := testConf()
	d, err := Synthetic(conf, 3, 5, 9)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Equal(t, 15, d.Len())

	for i, tr := range d.Transitions {
		assert.Len(t, tr.Obs, conf.ObsDim)
		assert.Len(t, tr.Act, conf.ActDim)
		assert.Len(t, tr.Rew, conf.RewDim)

		var sum float32
		for _, v := range tr.Act {
			sum += v
			if v != 0 && v != 1 {
				t.Fatalf("transition %d: action %v is not one-hot", i, tr.Act)
			}
		}
		assert.Equal(t, float32(1), sum)
	}

	same, err := Synthetic(conf, 3, 5, 9)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if diff := cmp.Diff(d, same); diff != "" {
		t.Errorf("same seed produced different data:\n%s", diff)
	}

	other, err := Synthetic(conf, 3, 5, 10)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if diff := cmp.Diff(d, other); diff == "" {
		t.Error("different seeds produced identical data")
	}

	if _, err := Synthetic(conf, 0, 5, 9); !errors.Is(err, vae.ErrDimension) {
		t.Errorf("expected zero tasks to fail, got %v", err)
	}
}
