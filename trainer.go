package babytask

import (
	"context"
	"encoding/csv"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/minigrid/babytask/encoding/curve"
	"github.com/minigrid/babytask/internal/runstore"
	vae "github.com/minigrid/babytask/vaenet"
)

// TrainConfig drives a full training run over a dataset.
type TrainConfig struct {
	Name   string
	OutDir string

	Frames       int // transitions to consume before stopping
	BatchSize    int
	LogInterval  int // updates between log lines and csv rows
	SaveInterval int // updates between checkpoints and evals
	EvalFrac     float64

	LearnRate float64
	ObsCoef   float64
	RewCoef   float64
	KLCoef    float64
	Clip      float64

	Seed int64

	Plot   bool
	Store  string // sqlite path, empty disables the run store
	Mirror bool   // horizontal mirror augmentation of the train split
	GridH  int
	GridW  int

	Log io.Writer `json:"-"`
}

// mirrored grids swap the turn actions
const (
	turnLeft  = 0
	turnRight = 1
)

func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		Name:         "babytask",
		OutDir:       "runs",
		Frames:       50000,
		BatchSize:    64,
		LogInterval:  10,
		SaveInterval: 100,
		EvalFrac:     0.1,
		LearnRate:    1e-4,
		ObsCoef:      1.0,
		RewCoef:      1.0,
		KLCoef:       0.1,
		Seed:         1,
	}
}

func (conf TrainConfig) check() error {
	if conf.Name == "" {
		return errors.Wrap(vae.ErrDimension, "train: empty run name")
	}
	if conf.Frames < 1 || conf.BatchSize < 1 {
		return errors.Wrapf(vae.ErrDimension, "train: frames %d, batch size %d", conf.Frames, conf.BatchSize)
	}
	if conf.LogInterval < 1 || conf.SaveInterval < 1 {
		return errors.Wrapf(vae.ErrDimension, "train: log interval %d, save interval %d", conf.LogInterval, conf.SaveInterval)
	}
	if conf.LearnRate <= 0 {
		return errors.Wrapf(vae.ErrDimension, "train: learn rate %v", conf.LearnRate)
	}
	if conf.EvalFrac < 0 || conf.EvalFrac >= 1 {
		return errors.Wrapf(vae.ErrDimension, "train: eval fraction %v", conf.EvalFrac)
	}
	if conf.Mirror && (conf.GridH < 1 || conf.GridW < 1) {
		return errors.Wrapf(vae.ErrDimension, "train: mirror needs a grid, got %dx%d", conf.GridH, conf.GridW)
	}
	return nil
}

func (conf TrainConfig) learnConf() vae.LearnConf {
	return vae.LearnConf{
		BatchSize: conf.BatchSize,
		LearnRate: conf.LearnRate,
		ObsCoef:   conf.ObsCoef,
		RewCoef:   conf.RewCoef,
		KLCoef:    conf.KLCoef,
		Clip:      conf.Clip,
	}
}

// Status is the resumable part of a run, persisted as status.json next
// to the checkpoints.
type Status struct {
	Update  int     `json:"update"`
	Frames  int     `json:"frames"`
	Best    float64 `json:"best"`
	BestObs float64 `json:"best_obs"`
}

// Trainer owns a model, its learner and the two dataset splits, and
// drives updates until the frame budget runs out. Each run writes into
// its own directory: model.gob, model_best.gob, status.json, log.csv.
type Trainer struct {
	conf TrainConfig

	v       *vae.VAE
	learner *vae.Learner
	train   *Dataset
	held    *Dataset
	rnd     *rand.Rand

	RunID  string
	RunDir string

	status  Status
	history History
	window  History

	start      time.Time
	lastLog    time.Time
	lastFrames int

	csvF   *os.File
	csvW   *csv.Writer
	store  *runstore.Store
	logger *log.Logger
}

var logHeader = []string{
	"update", "frames", "fps", "duration",
	"total_mean", "total_std", "total_min", "total_max",
	"obs_loss", "rew_loss", "kl_loss", "grad_norm",
}

// NewTrainer starts a fresh run: it seeds the shared rng, shuffles and
// splits the dataset, optionally mirror-augments the train split, and
// creates the run directory.
func NewTrainer(conf TrainConfig, nnConf vae.Config, ds *Dataset) (*Trainer, error) {
	if err := conf.check(); err != nil {
		return nil, err
	}
	v, err := vae.New(nnConf)
	if err != nil {
		return nil, err
	}

	runID := fmt.Sprintf("%s_%s_%s", conf.Name, time.Now().Format("060102-150405"), uuid.New().String()[:8])
	t, err := newTrainer(conf, v, ds, runID, filepath.Join(conf.OutDir, runID))
	if err != nil {
		v.Close()
		return nil, err
	}

	t.status.Best = math.MaxFloat64
	t.status.BestObs = math.MaxFloat64
	if err := t.openCSV(false); err != nil {
		t.Close()
		return nil, err
	}
	if t.store != nil {
		cfg, err := json.Marshal(struct {
			Train TrainConfig `json:"train"`
			Model vae.Config  `json:"model"`
		}{conf, nnConf})
		if err != nil {
			t.Close()
			return nil, errors.WithStack(err)
		}
		run := runstore.Run{ID: t.RunID, Name: conf.Name, Created: time.Now(), Config: string(cfg)}
		if err := t.store.CreateRun(context.Background(), run); err != nil {
			t.Close()
			return nil, err
		}
	}
	return t, nil
}

// ResumeTrainer continues the run in runDir from its last checkpoint.
// The model configuration comes from the checkpoint itself.
func ResumeTrainer(conf TrainConfig, runDir string, ds *Dataset) (*Trainer, error) {
	if err := conf.check(); err != nil {
		return nil, err
	}
	v, err := LoadVAE(filepath.Join(runDir, "model.gob"))
	if err != nil {
		return nil, errors.WithMessage(err, "resume")
	}

	t, err := newTrainer(conf, v, ds, filepath.Base(runDir), runDir)
	if err != nil {
		v.Close()
		return nil, err
	}

	raw, err := os.ReadFile(filepath.Join(runDir, "status.json"))
	if err != nil {
		t.Close()
		return nil, errors.WithMessage(err, "resume")
	}
	if err := json.Unmarshal(raw, &t.status); err != nil {
		t.Close()
		return nil, errors.WithStack(err)
	}
	t.lastFrames = t.status.Frames
	if err := t.openCSV(true); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

func newTrainer(conf TrainConfig, v *vae.VAE, ds *Dataset, runID, runDir string) (*Trainer, error) {
	if ds.ObsDim != v.ObsDim || ds.ActDim != v.ActDim || ds.RewDim != v.RewDim {
		return nil, errors.Wrapf(vae.ErrShapeMismatch, "train: dataset dims %d/%d/%d, model wants %d/%d/%d",
			ds.ObsDim, ds.ActDim, ds.RewDim, v.ObsDim, v.ActDim, v.RewDim)
	}

	vae.Seed(conf.Seed)
	rnd := rand.New(rand.NewSource(conf.Seed))
	ds.Shuffle(rnd)
	train, held := ds.Split(conf.EvalFrac)

	if conf.Mirror {
		if v.ObsDim%(conf.GridH*conf.GridW) != 0 {
			return nil, errors.Wrapf(vae.ErrShapeMismatch, "train: obs dim %d does not tile a %dx%d grid",
				v.ObsDim, conf.GridH, conf.GridW)
		}
		feats := v.ObsDim / (conf.GridH * conf.GridW)
		if err := train.Augment(MirrorAugmenter(conf.GridH, conf.GridW, feats, turnLeft, turnRight)); err != nil {
			return nil, err
		}
	}

	if train.Len() < conf.BatchSize {
		return nil, errors.Wrapf(vae.ErrDimension, "train: %d train rows, batch size %d", train.Len(), conf.BatchSize)
	}
	if conf.EvalFrac > 0 && held.Len() < conf.BatchSize {
		return nil, errors.Wrapf(vae.ErrDimension, "train: %d held-out rows, batch size %d", held.Len(), conf.BatchSize)
	}

	learner, err := vae.NewLearner(v, conf.learnConf())
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(runDir, 0755); err != nil {
		learner.Close()
		return nil, errors.WithStack(err)
	}

	w := conf.Log
	if w == nil {
		w = os.Stdout
	}
	now := time.Now()
	t := &Trainer{
		conf:    conf,
		v:       v,
		learner: learner,
		train:   train,
		held:    held,
		rnd:     rnd,
		RunID:   runID,
		RunDir:  runDir,
		start:   now,
		lastLog: now,
		logger:  log.New(w, "", log.Ltime),
	}
	if conf.Store != "" {
		if t.store, err = runstore.Open(conf.Store); err != nil {
			learner.Close()
			return nil, err
		}
	}
	return t, nil
}

func (t *Trainer) openCSV(resume bool) error {
	flags := os.O_CREATE | os.O_WRONLY
	if resume {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(filepath.Join(t.RunDir, "log.csv"), flags, 0644)
	if err != nil {
		return errors.WithStack(err)
	}
	t.csvF = f
	t.csvW = csv.NewWriter(f)
	if !resume {
		if err := t.csvW.Write(logHeader); err != nil {
			return errors.WithStack(err)
		}
		t.csvW.Flush()
	}
	return nil
}

// Status reports the run counters and the best evaluation so far.
func (t *Trainer) Status() Status { return t.status }

// VAE exposes the model being trained.
func (t *Trainer) VAE() *vae.VAE { return t.v }

// History holds one entry per update made by this process.
func (t *Trainer) History() *History { return &t.history }

// Run consumes the frame budget: epochs of shuffled contiguous batches,
// a log row every LogInterval updates and a checkpoint plus eval every
// SaveInterval. It leaves model.gob and status.json current on return.
func (t *Trainer) Run() error {
	for t.status.Frames < t.conf.Frames {
		t.train.Shuffle(t.rnd)
		ts, err := t.train.Tensors()
		if err != nil {
			return err
		}
		batches := t.train.Len() / t.conf.BatchSize
		for i := 0; i < batches && t.status.Frames < t.conf.Frames; i++ {
			b, err := ts.Batch(i, t.conf.BatchSize)
			if err != nil {
				return err
			}
			losses, err := t.learner.Step(b.Obs, b.Act, b.Rew, b.NextObs, b.NextRew)
			if err != nil {
				return errors.WithMessage(err, fmt.Sprintf("update %d", t.status.Update+1))
			}
			t.status.Update++
			t.status.Frames += t.conf.BatchSize
			t.history.Append(t.status.Update, t.status.Frames, losses)
			t.window.Append(t.status.Update, t.status.Frames, losses)

			if t.status.Update%t.conf.LogInterval == 0 {
				if err := t.logProgress(); err != nil {
					return err
				}
			}
			if t.status.Update%t.conf.SaveInterval == 0 {
				if err := t.checkpoint(); err != nil {
					return err
				}
			}
		}
	}

	if err := t.checkpoint(); err != nil {
		return err
	}
	if t.history.Len() > 0 {
		if err := t.history.Dump(filepath.Join(t.RunDir, "history.csv")); err != nil {
			return err
		}
	}
	return nil
}

func (t *Trainer) logProgress() error {
	total := Synthesize(t.window.Total)
	obs := Synthesize(t.window.Obs)
	rew := Synthesize(t.window.Rew)
	kl := Synthesize(t.window.KL)
	grad := Synthesize(t.window.GradNorm)
	t.window = History{}

	elapsed := time.Since(t.lastLog).Seconds()
	var fps float64
	if elapsed > 0 {
		fps = float64(t.status.Frames-t.lastFrames) / elapsed
	}
	t.lastLog = time.Now()
	t.lastFrames = t.status.Frames
	duration := time.Since(t.start).Truncate(time.Second)

	t.logger.Printf("U %d | F %d | FPS %.0f | D %s | tL:msmM %.4f %.4f %.4f %.4f | oL %.4f | rL %.4f | kL %.4f | gN %.4f",
		t.status.Update, t.status.Frames, fps, duration,
		total.Mean, total.Std, total.Min, total.Max,
		obs.Mean, rew.Mean, kl.Mean, grad.Mean)

	row := []string{
		strconv.Itoa(t.status.Update),
		strconv.Itoa(t.status.Frames),
		strconv.FormatFloat(fps, 'f', 1, 64),
		duration.String(),
		formatLoss(total.Mean), formatLoss(total.Std), formatLoss(total.Min), formatLoss(total.Max),
		formatLoss(obs.Mean), formatLoss(rew.Mean), formatLoss(kl.Mean), formatLoss(grad.Mean),
	}
	if err := t.csvW.Write(row); err != nil {
		return errors.WithStack(err)
	}
	t.csvW.Flush()
	if err := t.csvW.Error(); err != nil {
		return errors.WithStack(err)
	}

	if t.store != nil {
		m := runstore.Metric{
			RunID:    t.RunID,
			Update:   t.status.Update,
			Frames:   t.status.Frames,
			Obs:      obs.Mean,
			Rew:      rew.Mean,
			KL:       kl.Mean,
			Total:    total.Mean,
			GradNorm: grad.Mean,
			Recorded: time.Now(),
		}
		if err := t.store.Record(context.Background(), m); err != nil {
			return err
		}
	}
	return nil
}

func (t *Trainer) checkpoint() error {
	if err := SaveVAE(t.v, filepath.Join(t.RunDir, "model.gob")); err != nil {
		return err
	}

	if t.held.Len() >= t.conf.BatchSize {
		ev, err := Evaluate(t.v, t.held, t.conf.learnConf())
		if err != nil {
			return errors.WithMessage(err, "eval")
		}
		total, obsL := float64(ev.Total), float64(ev.Obs)
		if total < t.status.Best || (total == t.status.Best && obsL < t.status.BestObs) {
			t.status.Best = total
			t.status.BestObs = obsL
			if err := SaveVAE(t.v, filepath.Join(t.RunDir, "model_best.gob")); err != nil {
				return err
			}
			t.logger.Printf("U %d | best eval total %.4f obs %.4f", t.status.Update, total, obsL)
		}
	}

	if err := t.writeStatus(); err != nil {
		return err
	}
	if t.conf.Plot && t.history.Len() > 1 {
		if err := t.plot(); err != nil {
			return err
		}
	}
	return nil
}

func (t *Trainer) writeStatus() error {
	raw, err := json.MarshalIndent(t.status, "", "  ")
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(os.WriteFile(filepath.Join(t.RunDir, "status.json"), raw, 0644))
}

func (t *Trainer) plot() error {
	series := []curve.Series{
		{Name: "total", Xs: t.history.Updates, Ys: t.history.Total},
		{Name: "obs", Xs: t.history.Updates, Ys: t.history.Obs},
		{Name: "rew", Xs: t.history.Updates, Ys: t.history.Rew},
		{Name: "kl", Xs: t.history.Updates, Ys: t.history.KL},
	}
	return curve.PNG(filepath.Join(t.RunDir, "losses.png"), t.RunID, series)
}

// Close releases the learner, the model and every open run resource.
func (t *Trainer) Close() error {
	err := t.learner.Close()
	if err2 := t.v.Close(); err == nil {
		err = err2
	}
	if t.csvF != nil {
		if err2 := t.csvF.Close(); err == nil {
			err = err2
		}
	}
	if t.store != nil {
		if err2 := t.store.Close(); err == nil {
			err = err2
		}
	}
	return err
}

// SaveVAE checkpoints the model into filename.
func SaveVAE(v *vae.VAE, filename string) error {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return errors.WithStack(err)
	}
	defer f.Close()
	return errors.WithStack(gob.NewEncoder(f).Encode(v))
}

// LoadVAE rebuilds a model from a checkpoint written by SaveVAE.
func LoadVAE(filename string) (*vae.VAE, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer f.Close()
	v := new(vae.VAE)
	if err := gob.NewDecoder(f).Decode(v); err != nil {
		return nil, errors.WithStack(err)
	}
	return v, nil
}
