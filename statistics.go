package babytask

import (
	"encoding/csv"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	vae "github.com/minigrid/babytask/vaenet"
)

// Summary condenses a window of values the way training logs report
// them.
type Summary struct {
	Mean float64
	Std  float64
	Min  float64
	Max  float64
}

// Synthesize computes the summary of a window. Empty windows synthesize
// to zero.
func Synthesize(vs []float64) Summary {
	if len(vs) == 0 {
		return Summary{}
	}
	return Summary{
		Mean: stat.Mean(vs, nil),
		Std:  stat.PopStdDev(vs, nil),
		Min:  floats.Min(vs),
		Max:  floats.Max(vs),
	}
}

// History accumulates per-update training losses for the CSV log and
// the curve renderer.
type History struct {
	Updates  []float64
	Frames   []float64
	Obs      []float64
	Rew      []float64
	KL       []float64
	Total    []float64
	GradNorm []float64
}

func (h *History) Append(update, frames int, l vae.Losses) {
	h.Updates = append(h.Updates, float64(update))
	h.Frames = append(h.Frames, float64(frames))
	h.Obs = append(h.Obs, float64(l.Obs))
	h.Rew = append(h.Rew, float64(l.Rew))
	h.KL = append(h.KL, float64(l.KL))
	h.Total = append(h.Total, float64(l.Total))
	h.GradNorm = append(h.GradNorm, float64(l.GradNorm))
}

func (h *History) Len() int { return len(h.Updates) }

// Tail summarizes the last n totals.
func (h *History) Tail(n int) Summary {
	if n > len(h.Total) {
		n = len(h.Total)
	}
	return Synthesize(h.Total[len(h.Total)-n:])
}

// Dump writes the whole history as CSV.
func (h *History) Dump(filename string) error {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return errors.WithStack(err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"update", "frames", "obs", "rew", "kl", "total", "grad_norm"}); err != nil {
		return errors.WithStack(err)
	}
	var records [][]string
	for i := range h.Updates {
		records = append(records, []string{
			strconv.Itoa(int(h.Updates[i])),
			strconv.Itoa(int(h.Frames[i])),
			formatLoss(h.Obs[i]),
			formatLoss(h.Rew[i]),
			formatLoss(h.KL[i]),
			formatLoss(h.Total[i]),
			formatLoss(h.GradNorm[i]),
		})
	}
	if err := w.WriteAll(records); err != nil {
		return errors.WithStack(err)
	}
	w.Flush()
	return errors.WithStack(w.Error())
}

func formatLoss(v float64) string {
	return strconv.FormatFloat(v, 'g', 6, 64)
}
