// Package training runs the epoch loop of the font classifier: a train pass
// over freshly rendered batches, an eval pass without updates and one
// checkpoint per epoch.
package training

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Noofbiz/fontid/datasets"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// ErrCheckpointDirNotEmpty is returned when a run would mix its checkpoints
// with ones already on disk.
var ErrCheckpointDirNotEmpty = errors.New("checkpoint directory is not empty")

// Model is what the loop trains. *classifier.Trainer implements it.
type Model interface {
	// TrainStep updates the model on one batch and returns the batch loss.
	TrainStep(images, labels *tensors.Tensor) (float64, error)
	// Evaluate returns the mean loss over every batch ds yields, without
	// updating the model.
	Evaluate(ds train.Dataset) (float64, error)
}

// Checkpointer persists the model state for a global step and returns where
// it went.
type Checkpointer interface {
	Save(step int64) (string, error)
}

// Config controls the loop.
type Config struct {
	// Epochs to train for. Default 10.
	Epochs int

	// Workers rendering batches. Zero selects datasets.DefaultWorkers.
	Workers int

	// Prefetch is how many rendered batches may wait for the model. Zero
	// selects twice the worker count.
	Prefetch int

	// Progress receives the progress bars. Nil disables them.
	Progress io.Writer
}

// Loop trains a model epoch by epoch.
type Loop struct {
	cfg   Config
	model Model
	ckpt  Checkpointer
	train *datasets.TextDataset
	eval  *datasets.TextDataset

	// step counts train batches over the whole run.
	step int64
}

// NewLoop creates a loop over the given splits.
func NewLoop(model Model, ckpt Checkpointer, trainDS, evalDS *datasets.TextDataset, cfg Config) (*Loop, error) {
	if model == nil || ckpt == nil {
		return nil, fmt.Errorf("model and checkpointer are required")
	}
	if trainDS == nil || evalDS == nil {
		return nil, fmt.Errorf("train and eval datasets are required")
	}
	if cfg.Epochs == 0 {
		cfg.Epochs = 10
	}
	if cfg.Epochs < 0 {
		return nil, fmt.Errorf("epochs must be positive, got %d", cfg.Epochs)
	}
	return &Loop{cfg: cfg, model: model, ckpt: ckpt, train: trainDS, eval: evalDS}, nil
}

// Step returns the global step: the number of train batches processed.
func (l *Loop) Step() int64 { return l.step }

// Run trains for the configured number of epochs and returns the history of
// the completed ones. The history is returned even when a later epoch fails.
func (l *Loop) Run(ctx context.Context) (*History, error) {
	h := &History{}
	start := time.Now()
	for epoch := 0; epoch < l.cfg.Epochs; epoch++ {
		stats, err := l.RunEpoch(ctx, epoch)
		if err != nil {
			return h, fmt.Errorf("epoch %d: %w", epoch, err)
		}
		h.Epochs = append(h.Epochs, *stats)
	}
	klog.Infof("Trained %d epochs, %s steps in %s", l.cfg.Epochs, humanize.Comma(l.step), time.Since(start).Round(time.Second))
	return h, nil
}

// RunEpoch runs the train pass, the eval pass and saves a checkpoint.
func (l *Loop) RunEpoch(ctx context.Context, epoch int) (*EpochStats, error) {
	start := time.Now()
	stats := &EpochStats{Epoch: epoch}

	trainLoss, err := l.trainPass(ctx, epoch)
	if err != nil {
		return nil, err
	}
	stats.TrainLoss = trainLoss

	evalLoss, err := l.evalPass(ctx, epoch)
	if err != nil {
		return nil, err
	}
	stats.EvalLoss = evalLoss
	klog.Infof("Eval loss: %.4f", evalLoss)

	stats.Step = l.step
	dir, err := l.ckpt.Save(l.step)
	if err != nil {
		return nil, fmt.Errorf("checkpoint at step %d: %w", l.step, err)
	}
	stats.Checkpoint = dir
	stats.Seconds = time.Since(start).Seconds()
	return stats, nil
}

// trainPass returns the mean of the batch losses.
func (l *Loop) trainPass(ctx context.Context, epoch int) (float64, error) {
	bar := l.newBar(l.train.NumBatches(), fmt.Sprintf("Epoch %d/%d", epoch, l.cfg.Epochs))
	defer bar.Finish()

	var total float64
	var count int
	loader := datasets.NewLoader(l.train, l.cfg.Workers, l.cfg.Prefetch)
	err := loader.Run(ctx, func(b *datasets.Batch) error {
		l.step++
		loss, err := l.model.TrainStep(b.Images, b.Labels)
		if err != nil {
			return fmt.Errorf("step %d: %w", l.step, err)
		}
		total += loss
		count++
		bar.Describe(fmt.Sprintf("Epoch %d/%d loss %.4f", epoch, l.cfg.Epochs, total/float64(count)))
		_ = bar.Add(1)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}
	return total / float64(count), nil
}

func (l *Loop) evalPass(ctx context.Context, epoch int) (float64, error) {
	bar := l.newBar(l.eval.NumBatches(), fmt.Sprintf("Eval %d/%d", epoch, l.cfg.Epochs))
	defer bar.Finish()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s := newBatchStream(ctx, datasets.NewLoader(l.eval, l.cfg.Workers, l.cfg.Prefetch), func() { _ = bar.Add(1) })
	loss, err := l.model.Evaluate(s)
	cancel()
	if serr := s.wait(); serr != nil && err == nil {
		err = serr
	}
	if err != nil {
		return 0, err
	}
	return loss, nil
}

func (l *Loop) newBar(n int, desc string) *progressbar.ProgressBar {
	w := l.cfg.Progress
	if w == nil {
		w = io.Discard
	}
	return progressbar.NewOptions(n,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionShowCount(),
		progressbar.OptionSetVisibility(l.cfg.Progress != nil),
	)
}

// PrepareCheckpointDir creates dir, failing with ErrCheckpointDirNotEmpty if
// it already holds anything.
func PrepareCheckpointDir(dir string) error {
	entries, err := os.ReadDir(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return ensureDir(dir)
	case err != nil:
		return fmt.Errorf("failed to read checkpoint dir %s: %w", dir, err)
	case len(entries) > 0:
		return fmt.Errorf("%s holds %d entries: %w", dir, len(entries), ErrCheckpointDirNotEmpty)
	}
	return nil
}

func ensureDir(path string) error {
	if path == "" {
		return nil
	}
	return os.MkdirAll(path, 0755)
}
