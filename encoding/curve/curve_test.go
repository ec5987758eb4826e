package curve

import (
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func sample() []Series {
	xs := make([]float64, 50)
	obs := make([]float64, 50)
	kl := make([]float64, 50)
	for i := range xs {
		xs[i] = float64(i * 100)
		obs[i] = 2.0 / float64(i+1)
		kl[i] = 0.5 + 0.01*float64(i)
	}
	return []Series{
		{Name: "obs", Xs: xs, Ys: obs},
		{Name: "kl", Xs: xs, Ys: kl},
	}
}

func TestRender(t *testing.T) {
	im, err := Render("losses", sample())
	if err != nil {
		t.Fatalf("%+v", err)
	}
	b := im.Bounds()
	assert.Equal(t, width, b.Dx())
	assert.Equal(t, height, b.Dy())

	white := color.RGBA{0xff, 0xff, 0xff, 0xff}
	var inked int
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if im.RGBAAt(x, y) != white {
				inked++
			}
		}
	}
	if inked < 500 {
		t.Errorf("expected a drawn chart, got %d non-white pixels", inked)
	}
}

func TestRenderRejects(t *testing.T) {
	_, err := Render("empty", nil)
	assert.Error(t, err)

	_, err = Render("ragged", []Series{{Name: "a", Xs: []float64{1, 2}, Ys: []float64{1}}})
	assert.Error(t, err)
}

func TestRenderFlatSeries(t *testing.T) {
	flat := []Series{{Name: "flat", Xs: []float64{0}, Ys: []float64{3}}}
	if _, err := Render("flat", flat); err != nil {
		t.Fatalf("%+v", err)
	}
}

func TestPNG(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "losses.png")
	if err := PNG(filename, "losses", sample()); err != nil {
		t.Fatalf("%+v", err)
	}

	f, err := os.Open(filename)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer f.Close()
	im, err := png.Decode(f)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Equal(t, width, im.Bounds().Dx())
	assert.Equal(t, height, im.Bounds().Dy())
}
