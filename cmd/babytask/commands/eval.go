package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/minigrid/babytask"
	"github.com/minigrid/babytask/encoding/curve"
	vae "github.com/minigrid/babytask/vaenet"
)

// Flag variables for the eval command
var (
	evalModel      string
	evalData       string
	evalTasks      int
	evalPerTask    int
	evalSeed       int64
	evalBatch      int
	evalObsCoef    float64
	evalRewCoef    float64
	evalKLCoef     float64
	evalEmbeddings string
	evalQuery      string
	evalPlot       string
)

// EvalCmd evaluates a checkpoint over a dataset.
var EvalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Evaluate a checkpoint over a dataset",
	Long: `Evaluate a checkpoint over a dataset and print the losses.

Without --data a synthetic dataset matching the checkpoint's dimensions
is generated. --embeddings exports every transition's latent statistics
as gob, adding query embeddings when --query names a distilled query
encoder checkpoint. --plot renders per-batch losses.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := babytask.LoadVAE(evalModel)
		if err != nil {
			return err
		}
		defer v.Close()

		var ds *babytask.Dataset
		if evalData != "" {
			if ds, err = babytask.LoadDataset(evalData); err != nil {
				return err
			}
		} else {
			if ds, err = babytask.Synthetic(v.Config, evalTasks, evalPerTask, evalSeed); err != nil {
				return err
			}
		}

		lc := vae.LearnConf{
			BatchSize: evalBatch,
			ObsCoef:   evalObsCoef,
			RewCoef:   evalRewCoef,
			KLCoef:    evalKLCoef,
		}
		losses, err := babytask.Evaluate(v, ds, lc)
		if err != nil {
			return err
		}
		fmt.Printf("%d transitions in batches of %d\n", ds.Len(), evalBatch)
		fmt.Printf("obs %.6f | rew %.6f | kl %.6f | total %.6f\n", losses.Obs, losses.Rew, losses.KL, losses.Total)

		if evalEmbeddings != "" {
			var q *vae.QueryEncoder
			if evalQuery != "" {
				if q, err = babytask.LoadQueryEncoder(evalQuery); err != nil {
					return err
				}
				defer q.Close()
			}
			e, err := babytask.Embed(v, q, ds)
			if err != nil {
				return err
			}
			if err := e.Save(evalEmbeddings); err != nil {
				return err
			}
			fmt.Printf("embeddings -> %s\n", evalEmbeddings)
		}

		if evalPlot != "" {
			if err := plotBatches(v, ds, lc, evalPlot); err != nil {
				return err
			}
			fmt.Printf("losses -> %s\n", evalPlot)
		}
		return nil
	},
}

// plotBatches evaluates every batch on its own and renders the loss
// terms over the batch index.
func plotBatches(v *vae.VAE, ds *babytask.Dataset, lc vae.LearnConf, filename string) error {
	batches := ds.Len() / lc.BatchSize
	xs := make([]float64, 0, batches)
	var total, obs, rew, kl []float64
	for i := 0; i < batches; i++ {
		chunk := &babytask.Dataset{
			ObsDim:      ds.ObsDim,
			ActDim:      ds.ActDim,
			RewDim:      ds.RewDim,
			Transitions: ds.Transitions[i*lc.BatchSize : (i+1)*lc.BatchSize],
		}
		l, err := babytask.Evaluate(v, chunk, lc)
		if err != nil {
			return err
		}
		xs = append(xs, float64(i))
		total = append(total, float64(l.Total))
		obs = append(obs, float64(l.Obs))
		rew = append(rew, float64(l.Rew))
		kl = append(kl, float64(l.KL))
	}
	return curve.PNG(filename, "eval losses per batch", []curve.Series{
		{Name: "total", Xs: xs, Ys: total},
		{Name: "obs", Xs: xs, Ys: obs},
		{Name: "rew", Xs: xs, Ys: rew},
		{Name: "kl", Xs: xs, Ys: kl},
	})
}

func init() {
	f := EvalCmd.Flags()
	f.StringVar(&evalModel, "model", "", "checkpoint to evaluate (required)")
	f.StringVar(&evalData, "data", "", "gob dataset path, empty generates synthetic data")
	f.IntVar(&evalTasks, "tasks", 10, "synthetic task count")
	f.IntVar(&evalPerTask, "per-task", 100, "synthetic transitions per task")
	f.Int64Var(&evalSeed, "seed", 1, "rng seed for synthetic data")
	f.IntVar(&evalBatch, "batch-size", 64, "rows per evaluation batch")
	f.Float64Var(&evalObsCoef, "obs-coef", 1.0, "observation loss coefficient")
	f.Float64Var(&evalRewCoef, "rew-coef", 1.0, "reward loss coefficient")
	f.Float64Var(&evalKLCoef, "kl-coef", 0.1, "kl loss coefficient")
	f.StringVar(&evalEmbeddings, "embeddings", "", "write latent embeddings to this gob file")
	f.StringVar(&evalQuery, "query", "", "query encoder checkpoint for --embeddings")
	f.StringVar(&evalPlot, "plot", "", "write per-batch losses to this png file")
	EvalCmd.MarkFlagRequired("model")
}
