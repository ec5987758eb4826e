package babytask

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	vae "github.com/minigrid/babytask/vaenet"
)

func TestOneHotAction(t *testing.T) {
	got, err := OneHotAction(2, 5, nil)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Equal(t, []float32{0, 0, 1, 0, 0}, got)

	// a fitting prealloc is wiped and reused
	pre := []float32{9, 9, 9}
	got, err = OneHotAction(0, 3, pre)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Equal(t, []float32{1, 0, 0}, got)
	got[0] = 7
	assert.Equal(t, float32(7), pre[0])

	// a wrong-sized prealloc is replaced
	short := []float32{9}
	got, err = OneHotAction(1, 3, short)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Equal(t, []float32{0, 1, 0}, got)
	assert.Equal(t, []float32{9}, short)

	for _, c := range []struct{ action, space int }{
		{-1, 3}, {3, 3}, {0, 0},
	} {
		if _, err := OneHotAction(c.action, c.space, nil); !errors.Is(err, vae.ErrDimension) {
			t.Errorf("action %d space %d: expected dimension error, got %v", c.action, c.space, err)
		}
	}
}

func TestMirrorObs(t *testing.T) {
	// 2x3 grid, 2 features per cell
	obs := []float32{
		0, 1, 2, 3, 4, 5,
		6, 7, 8, 9, 10, 11,
	}
	want := []float32{
		4, 5, 2, 3, 0, 1,
		10, 11, 8, 9, 6, 7,
	}

	got, err := MirrorObs(obs, 2, 3, 2)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Equal(t, want, got)
	assert.Equal(t, float32(0), obs[0], "input must stay untouched")

	// mirroring twice is the identity
	back, err := MirrorObs(got, 2, 3, 2)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Equal(t, obs, back)
}

func TestMirrorObsEvenWidth(t *testing.T) {
	got, err := MirrorObs([]float32{1, 2, 3, 4}, 1, 4, 1)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Equal(t, []float32{4, 3, 2, 1}, got)
}

func TestMirrorObsRejects(t *testing.T) {
	if _, err := MirrorObs(make([]float32, 5), 2, 3, 2); !errors.Is(err, vae.ErrShapeMismatch) {
		t.Errorf("expected shape mismatch, got %v", err)
	}
	if _, err := MirrorObs(make([]float32, 6), 0, 3, 2); !errors.Is(err, vae.ErrShapeMismatch) {
		t.Errorf("expected shape mismatch, got %v", err)
	}
}

func TestMirrorAction(t *testing.T) {
	got, err := mirrorAction([]float32{1, 0, 0}, 0, 1)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Equal(t, []float32{0, 1, 0}, got)

	got, err = mirrorAction([]float32{0, 0, 1}, 0, 1)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Equal(t, []float32{0, 0, 1}, got)

	if _, err = mirrorAction([]float32{1, 0}, 0, 5); !errors.Is(err, vae.ErrDimension) {
		t.Errorf("expected dimension error, got %v", err)
	}
}

func TestMirrorAugmenter(t *testing.T) {
	aug := MirrorAugmenter(2, 2, 1, 0, 1)
	tr := Transition{
		Obs:     []float32{1, 2, 3, 4},
		Act:     []float32{0, 1, 0},
		Rew:     []float32{0.5},
		NextObs: []float32{5, 6, 7, 8},
		NextRew: []float32{0.25},
	}
	twins, err := aug(tr)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if len(twins) != 1 {
		t.Fatalf("expected one mirrored twin, got %d", len(twins))
	}
	twin := twins[0]
	assert.Equal(t, []float32{2, 1, 4, 3}, twin.Obs)
	assert.Equal(t, []float32{6, 5, 8, 7}, twin.NextObs)
	assert.Equal(t, []float32{1, 0, 0}, twin.Act)
	assert.Equal(t, tr.Rew, twin.Rew)

	// rewards are copies, not views
	twin.Rew[0] = 9
	assert.Equal(t, float32(0.5), tr.Rew[0])

	d := NewDataset(vae.Config{ObsDim: 4, ActDim: 3, RewDim: 1, TaskEmbDim: 2, Hiddens: []int{4}, Activation: vae.ReLU})
	if err := d.Add(tr); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := d.Augment(aug); err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Equal(t, 2, d.Len())
}
