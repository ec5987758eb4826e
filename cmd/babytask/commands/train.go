// Package commands provides CLI command implementations.
package commands

import (
	"fmt"
	"math"
	"math/rand"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/minigrid/babytask"
	vae "github.com/minigrid/babytask/vaenet"
)

// Flag variables for the train command
var (
	// model flags
	trainObsDim     int
	trainActDim     int
	trainRewDim     int
	trainEmbDim     int
	trainHiddens    []int
	trainActivation string
	trainLayerNorm  bool

	// optimization flags
	trainLR      float64
	trainObsCoef float64
	trainRewCoef float64
	trainKLCoef  float64
	trainClip    float64
	trainBatch   int

	// run flags
	trainName      string
	trainOut       string
	trainFrames    int
	trainLogEvery  int
	trainSaveEvery int
	trainEvalFrac  float64
	trainSeed      int64
	trainResume    string
	trainPlot      bool
	trainStore     string
	trainDistill   int

	// data flags
	trainData    string
	trainTasks   int
	trainPerTask int
	trainMirror  bool
	trainGridH   int
	trainGridW   int
)

// TrainCmd trains a task VAE over a transition dataset.
var TrainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train a task VAE over a transition dataset",
	Long: `Train a task VAE over a transition dataset.

Without --data a synthetic dataset is generated, so the pipeline runs
end to end out of the box. Each run writes checkpoints, a csv log and
status.json into its own directory under --out; --resume continues a
previous run directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		act, err := vae.ParseActivation(trainActivation)
		if err != nil {
			return err
		}
		nnConf := vae.Config{
			ObsDim:     trainObsDim,
			ActDim:     trainActDim,
			RewDim:     trainRewDim,
			TaskEmbDim: trainEmbDim,
			Hiddens:    trainHiddens,
			Activation: act,
			LayerNorm:  trainLayerNorm,
		}

		var ds *babytask.Dataset
		if trainData != "" {
			if ds, err = babytask.LoadDataset(trainData); err != nil {
				return err
			}
			fmt.Printf("loaded %d transitions from %s\n", ds.Len(), trainData)
		} else {
			if ds, err = babytask.Synthetic(nnConf, trainTasks, trainPerTask, trainSeed); err != nil {
				return err
			}
			fmt.Printf("synthesized %d transitions over %d tasks\n", ds.Len(), trainTasks)
		}

		conf := babytask.TrainConfig{
			Name:         trainName,
			OutDir:       trainOut,
			Frames:       trainFrames,
			BatchSize:    trainBatch,
			LogInterval:  trainLogEvery,
			SaveInterval: trainSaveEvery,
			EvalFrac:     trainEvalFrac,
			LearnRate:    trainLR,
			ObsCoef:      trainObsCoef,
			RewCoef:      trainRewCoef,
			KLCoef:       trainKLCoef,
			Clip:         trainClip,
			Seed:         trainSeed,
			Plot:         trainPlot,
			Store:        trainStore,
			Mirror:       trainMirror,
			GridH:        trainGridH,
			GridW:        trainGridW,
		}

		var tr *babytask.Trainer
		if trainResume != "" {
			tr, err = babytask.ResumeTrainer(conf, trainResume, ds)
		} else {
			tr, err = babytask.NewTrainer(conf, nnConf, ds)
		}
		if err != nil {
			return err
		}
		defer tr.Close()

		fmt.Printf("run %s\n", tr.RunDir)
		if err := tr.Run(); err != nil {
			return err
		}

		st := tr.Status()
		fmt.Printf("done: %d updates, %d frames", st.Update, st.Frames)
		if st.Best < math.MaxFloat64 {
			fmt.Printf(", best eval total %.4f", st.Best)
		}
		fmt.Println()

		if trainDistill > 0 {
			mc := tr.VAE().Config
			qc := vae.QueryConf{
				ObsDim:     mc.ObsDim,
				ActDim:     mc.ActDim,
				EmbDim:     mc.TaskEmbDim,
				Hiddens:    mc.Hiddens,
				Activation: mc.Activation,
			}
			lc := vae.LearnConf{BatchSize: trainBatch, LearnRate: trainLR, Clip: trainClip}
			progress := func(epoch int, loss float64) {
				fmt.Printf("distill epoch %d/%d | loss %.6f\n", epoch, trainDistill, loss)
			}
			q, err := babytask.DistillQuery(tr.VAE(), qc, ds, lc, trainDistill, rand.New(rand.NewSource(trainSeed)), progress)
			if err != nil {
				return err
			}
			defer q.Close()
			filename := filepath.Join(tr.RunDir, "query.gob")
			if err := babytask.SaveQueryEncoder(q, filename); err != nil {
				return err
			}
			fmt.Printf("query encoder -> %s\n", filename)
		}
		return nil
	},
}

func init() {
	f := TrainCmd.Flags()
	f.IntVar(&trainObsDim, "obs-dim", 147, "observation feature width")
	f.IntVar(&trainActDim, "act-dim", 7, "one-hot action width")
	f.IntVar(&trainRewDim, "rew-dim", 1, "reward width")
	f.IntVar(&trainEmbDim, "emb-dim", 10, "task embedding width")
	f.IntSliceVar(&trainHiddens, "hiddens", []int{64}, "encoder hidden widths")
	f.StringVar(&trainActivation, "activation", "relu", "activation: relu or tanh")
	f.BoolVar(&trainLayerNorm, "layer-norm", true, "layer normalization in the encoder")

	f.Float64Var(&trainLR, "lr", 1e-4, "learning rate")
	f.Float64Var(&trainObsCoef, "obs-coef", 1.0, "observation loss coefficient")
	f.Float64Var(&trainRewCoef, "rew-coef", 1.0, "reward loss coefficient")
	f.Float64Var(&trainKLCoef, "kl-coef", 0.1, "kl loss coefficient")
	f.Float64Var(&trainClip, "clip", 0, "gradient value clip, 0 disables")
	f.IntVar(&trainBatch, "batch-size", 64, "rows per update")

	f.StringVar(&trainName, "name", "babytask", "run name")
	f.StringVar(&trainOut, "out", "runs", "output directory for runs")
	f.IntVar(&trainFrames, "frames", 50000, "transitions to consume")
	f.IntVar(&trainLogEvery, "log-interval", 10, "updates between log rows")
	f.IntVar(&trainSaveEvery, "save-interval", 100, "updates between checkpoints")
	f.Float64Var(&trainEvalFrac, "eval-frac", 0.1, "held-out fraction of the dataset")
	f.Int64Var(&trainSeed, "seed", 1, "rng seed")
	f.StringVar(&trainResume, "resume", "", "run directory to continue")
	f.BoolVar(&trainPlot, "plot", false, "render losses.png at every checkpoint")
	f.StringVar(&trainStore, "store", "", "sqlite run store path")
	f.IntVar(&trainDistill, "distill", 0, "query distillation epochs after training, 0 disables")

	f.StringVar(&trainData, "data", "", "gob dataset path, empty generates synthetic data")
	f.IntVar(&trainTasks, "tasks", 10, "synthetic task count")
	f.IntVar(&trainPerTask, "per-task", 100, "synthetic transitions per task")
	f.BoolVar(&trainMirror, "mirror", false, "mirror-augment the train split")
	f.IntVar(&trainGridH, "grid-h", 7, "grid height for mirroring")
	f.IntVar(&trainGridW, "grid-w", 7, "grid width for mirroring")
}
