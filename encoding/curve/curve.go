// Package curve renders training loss histories as PNG line charts.
package curve

import (
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"os"
	"strconv"

	"github.com/golang/freetype/truetype"
	"github.com/pkg/errors"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/math/fixed"
)

var regular *truetype.Font

const (
	dpi        = 72.0
	fontsize   = 11.0
	lineheight = 1.2

	width  = 640
	height = 420

	marginLeft   = 64
	marginRight  = 16
	marginTop    = 28
	marginBottom = 40

	ticks = 4
)

func init() {
	var err error
	if regular, err = truetype.Parse(gomono.TTF); err != nil {
		panic(err)
	}
}

var palette = []color.RGBA{
	{0xd3, 0x2f, 0x2f, 0xff},
	{0x30, 0x4f, 0xfe, 0xff},
	{0x00, 0x89, 0x7b, 0xff},
	{0xf9, 0xa8, 0x25, 0xff},
	{0x6a, 0x1b, 0x9a, 0xff},
}

var (
	axisGray = color.RGBA{0x55, 0x55, 0x55, 0xff}
	gridGray = color.RGBA{0xdd, 0xdd, 0xdd, 0xff}
)

// Series is one named line on the chart. Xs and Ys must be the same
// length.
type Series struct {
	Name string
	Xs   []float64
	Ys   []float64
}

// Render draws the chart in memory.
func Render(title string, series []Series) (*image.RGBA, error) {
	if len(series) == 0 {
		return nil, errors.New("curve: no series")
	}
	for _, s := range series {
		if len(s.Xs) == 0 || len(s.Xs) != len(s.Ys) {
			return nil, errors.Errorf("curve: series %q has %d xs, %d ys", s.Name, len(s.Xs), len(s.Ys))
		}
	}

	xmin, xmax := ranges(series, func(s Series) []float64 { return s.Xs })
	ymin, ymax := ranges(series, func(s Series) []float64 { return s.Ys })
	if xmax == xmin {
		xmax = xmin + 1
	}
	if ymax == ymin {
		ymax = ymin + 1
	}
	// breathing room above and below the data
	pad := (ymax - ymin) * 0.05
	ymin -= pad
	ymax += pad

	im := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(im, im.Bounds(), image.White, image.ZP, draw.Src)

	face := truetype.NewFace(regular, &truetype.Options{
		Size:    fontsize,
		DPI:     dpi,
		Hinting: font.HintingFull,
	})
	defer face.Close()
	drawer := font.Drawer{Dst: im, Src: image.NewUniform(axisGray), Face: face}

	plotW := width - marginLeft - marginRight
	plotH := height - marginTop - marginBottom
	toX := func(v float64) int {
		return marginLeft + int(float64(plotW)*(v-xmin)/(xmax-xmin))
	}
	toY := func(v float64) int {
		return marginTop + plotH - int(float64(plotH)*(v-ymin)/(ymax-ymin))
	}

	// grid and tick labels
	dy := int(math.Ceil(fontsize * lineheight * dpi / 72))
	for i := 0; i <= ticks; i++ {
		xv := xmin + (xmax-xmin)*float64(i)/ticks
		yv := ymin + (ymax-ymin)*float64(i)/ticks
		x := toX(xv)
		y := toY(yv)

		line(im, x, marginTop, x, marginTop+plotH, gridGray)
		line(im, marginLeft, y, marginLeft+plotW, y, gridGray)

		xl := label(xv)
		drawer.Dot = fixed.P(x-font.MeasureString(face, xl).Ceil()/2, height-marginBottom+dy)
		drawer.DrawString(xl)

		yl := label(yv)
		drawer.Dot = fixed.P(marginLeft-font.MeasureString(face, yl).Ceil()-6, y+dy/3)
		drawer.DrawString(yl)
	}

	// axes on top of the grid
	line(im, marginLeft, marginTop, marginLeft, marginTop+plotH, axisGray)
	line(im, marginLeft, marginTop+plotH, marginLeft+plotW, marginTop+plotH, axisGray)

	// the data
	for i, s := range series {
		col := palette[i%len(palette)]
		for j := 1; j < len(s.Xs); j++ {
			line(im, toX(s.Xs[j-1]), toY(s.Ys[j-1]), toX(s.Xs[j]), toY(s.Ys[j]), col)
		}
	}

	// legend, top right, one line per series
	ly := marginTop + dy
	for i, s := range series {
		col := palette[i%len(palette)]
		w := font.MeasureString(face, s.Name).Ceil()
		lx := width - marginRight - w
		line(im, lx-22, ly-dy/3, lx-6, ly-dy/3, col)
		drawer.Src = image.NewUniform(col)
		drawer.Dot = fixed.P(lx, ly)
		drawer.DrawString(s.Name)
		ly += dy
	}

	// title, centered
	drawer.Src = image.NewUniform(color.Black)
	drawer.Dot = fixed.P((width-font.MeasureString(face, title).Ceil())/2, dy)
	drawer.DrawString(title)

	return im, nil
}

// PNG renders the chart and writes it to filename.
func PNG(filename, title string, series []Series) error {
	im, err := Render(title, series)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return errors.WithStack(err)
	}
	defer f.Close()
	return errors.WithStack(png.Encode(f, im))
}

func ranges(series []Series, get func(Series) []float64) (min, max float64) {
	min = math.Inf(1)
	max = math.Inf(-1)
	for _, s := range series {
		for _, v := range get(s) {
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}
	}
	return min, max
}

func label(v float64) string {
	return strconv.FormatFloat(v, 'g', 3, 64)
}

// line draws a straight segment clipped to the image bounds.
func line(im *image.RGBA, x0, y0, x1, y1 int, col color.Color) {
	dx := absInt(x1 - x0)
	dy := -absInt(y1 - y0)
	sx := 1
	if x0 > x1 {
		sx = -1
	}
	sy := 1
	if y0 > y1 {
		sy = -1
	}
	err := dx + dy
	for {
		if image.Pt(x0, y0).In(im.Bounds()) {
			im.Set(x0, y0, col)
		}
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

func absInt(a int) int {
	if a < 0 {
		return -a
	}
	return a
}
