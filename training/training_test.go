package training

import (
	"context"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"testing"

	"github.com/Noofbiz/fontid/datasets"
	"github.com/Noofbiz/fontid/fontgen"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"gonum.org/v1/plot/plotter"
)

type blankSampler struct {
	vocab  int
	failAt int
}

var errRender = errors.New("render failed")

func (s *blankSampler) VocabularySize() int { return s.vocab }

func (s *blankSampler) Sample(idx int) (*fontgen.Sample, error) {
	if idx == s.failAt {
		return nil, errRender
	}
	return &fontgen.Sample{Pixels: make([]float32, fontgen.ImageSize), Label: idx % 2}, nil
}

// fakeModel returns the call number as the train loss, so the mean over an
// epoch is predictable, and records what evaluation saw.
type fakeModel struct {
	calls       int
	failAtCall  int
	evalLoss    float64
	evalBatches []int
}

func (m *fakeModel) TrainStep(images, labels *tensors.Tensor) (float64, error) {
	m.calls++
	if m.calls == m.failAtCall {
		return 0, errors.New("step exploded")
	}
	return float64(m.calls), nil
}

func (m *fakeModel) Evaluate(ds train.Dataset) (float64, error) {
	ds.Reset()
	batches := 0
	for {
		_, inputs, _, err := ds.Yield()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
		batches++
		if dims := inputs[0].Shape().Dimensions; dims[0] != 64 {
			return 0, errors.New("unexpected eval batch size " + strconv.Itoa(dims[0]))
		}
	}
	m.evalBatches = append(m.evalBatches, batches)
	return m.evalLoss, nil
}

type fakeCheckpointer struct {
	root  string
	steps []int64
	err   error
}

func (c *fakeCheckpointer) Save(step int64) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	c.steps = append(c.steps, step)
	return filepath.Join(c.root, strconv.FormatInt(step, 10)), nil
}

func newTestLoop(t *testing.T, sampler *blankSampler, model *fakeModel, ckpt *fakeCheckpointer, epochs int) *Loop {
	t.Helper()
	trainDS, err := datasets.NewTextDataset(sampler, datasets.Train, 4)
	if err != nil {
		t.Fatalf("train dataset: %v", err)
	}
	evalDS, err := datasets.NewTextDataset(sampler, datasets.Eval, 64)
	if err != nil {
		t.Fatalf("eval dataset: %v", err)
	}
	loop, err := NewLoop(model, ckpt, trainDS, evalDS, Config{Epochs: epochs, Workers: 2, Prefetch: 2})
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}
	return loop
}

func TestLoopRun(t *testing.T) {
	model := &fakeModel{evalLoss: 0.25}
	ckpt := &fakeCheckpointer{root: "ckpt"}
	loop := newTestLoop(t, &blankSampler{vocab: 10, failAt: -1}, model, ckpt, 3)

	h, err := loop.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// 10 examples in batches of 4: 3 steps per epoch.
	if !slices.Equal(ckpt.steps, []int64{3, 6, 9}) {
		t.Errorf("checkpoint steps = %v, want [3 6 9]", ckpt.steps)
	}
	if loop.Step() != 9 {
		t.Errorf("Step() = %d, want 9", loop.Step())
	}
	if !slices.Equal(model.evalBatches, []int{10, 10, 10}) {
		t.Errorf("eval batches per epoch = %v, want [10 10 10]", model.evalBatches)
	}

	if len(h.Epochs) != 3 {
		t.Fatalf("got %d epochs, want 3", len(h.Epochs))
	}
	wantTrain := []float64{2, 5, 8}
	for i, e := range h.Epochs {
		if e.Epoch != i || e.Step != int64(3*(i+1)) {
			t.Errorf("epoch %d: got epoch %d step %d", i, e.Epoch, e.Step)
		}
		if math.Abs(e.TrainLoss-wantTrain[i]) > 1e-9 {
			t.Errorf("epoch %d: train loss %g, want %g", i, e.TrainLoss, wantTrain[i])
		}
		if e.EvalLoss != 0.25 {
			t.Errorf("epoch %d: eval loss %g, want 0.25", i, e.EvalLoss)
		}
		if want := filepath.Join("ckpt", strconv.Itoa(3*(i+1))); e.Checkpoint != want {
			t.Errorf("epoch %d: checkpoint %s, want %s", i, e.Checkpoint, want)
		}
	}
}

func TestLoopTrainErrorAborts(t *testing.T) {
	model := &fakeModel{failAtCall: 5}
	ckpt := &fakeCheckpointer{}
	loop := newTestLoop(t, &blankSampler{vocab: 10, failAt: -1}, model, ckpt, 3)

	h, err := loop.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "step exploded") {
		t.Fatalf("Run error = %v, want the train step failure", err)
	}
	if len(h.Epochs) != 1 {
		t.Errorf("got %d finished epochs, want 1", len(h.Epochs))
	}
	if !slices.Equal(ckpt.steps, []int64{3}) {
		t.Errorf("checkpoint steps = %v, want [3]", ckpt.steps)
	}
}

func TestLoopEvalRenderErrorAborts(t *testing.T) {
	model := &fakeModel{}
	ckpt := &fakeCheckpointer{}
	// Index 600 only exists in the eval split.
	loop := newTestLoop(t, &blankSampler{vocab: 10, failAt: 600}, model, ckpt, 2)

	h, err := loop.Run(context.Background())
	if !errors.Is(err, errRender) {
		t.Fatalf("Run error = %v, want %v", err, errRender)
	}
	if len(h.Epochs) != 0 || len(ckpt.steps) != 0 {
		t.Errorf("got epochs %v and checkpoints %v after a failed first epoch", h.Epochs, ckpt.steps)
	}
}

func TestLoopCheckpointErrorAborts(t *testing.T) {
	diskFull := errors.New("disk full")
	loop := newTestLoop(t, &blankSampler{vocab: 10, failAt: -1}, &fakeModel{}, &fakeCheckpointer{err: diskFull}, 2)
	if _, err := loop.Run(context.Background()); !errors.Is(err, diskFull) {
		t.Fatalf("Run error = %v, want %v", err, diskFull)
	}
}

func TestLoopCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	model := &fakeModel{}
	loop := newTestLoop(t, &blankSampler{vocab: 10, failAt: -1}, model, &fakeCheckpointer{}, 2)

	if _, err := loop.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
	if model.calls != 0 {
		t.Errorf("model trained %d steps after cancellation", model.calls)
	}
}

func TestNewLoopValidation(t *testing.T) {
	s := &blankSampler{vocab: 4, failAt: -1}
	trainDS, _ := datasets.NewTextDataset(s, datasets.Train, 2)
	evalDS, _ := datasets.NewTextDataset(s, datasets.Eval, 2)

	if _, err := NewLoop(nil, &fakeCheckpointer{}, trainDS, evalDS, Config{}); err == nil {
		t.Errorf("nil model accepted")
	}
	if _, err := NewLoop(&fakeModel{}, &fakeCheckpointer{}, nil, evalDS, Config{}); err == nil {
		t.Errorf("nil train dataset accepted")
	}
	if _, err := NewLoop(&fakeModel{}, &fakeCheckpointer{}, trainDS, evalDS, Config{Epochs: -1}); err == nil {
		t.Errorf("negative epochs accepted")
	}

	loop, err := NewLoop(&fakeModel{}, &fakeCheckpointer{}, trainDS, evalDS, Config{})
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}
	if loop.cfg.Epochs != 10 {
		t.Errorf("default epochs = %d, want 10", loop.cfg.Epochs)
	}
}

func TestPrepareCheckpointDir(t *testing.T) {
	root := t.TempDir()

	fresh := filepath.Join(root, "a", "b")
	if err := PrepareCheckpointDir(fresh); err != nil {
		t.Fatalf("PrepareCheckpointDir(new): %v", err)
	}
	if info, err := os.Stat(fresh); err != nil || !info.IsDir() {
		t.Fatalf("%s was not created: %v", fresh, err)
	}
	if err := PrepareCheckpointDir(fresh); err != nil {
		t.Fatalf("empty directory rejected: %v", err)
	}

	if err := os.WriteFile(filepath.Join(fresh, "30"), nil, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := PrepareCheckpointDir(fresh); !errors.Is(err, ErrCheckpointDirNotEmpty) {
		t.Fatalf("PrepareCheckpointDir(non-empty) = %v, want ErrCheckpointDirNotEmpty", err)
	}
}

func TestHistoryFiles(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")
	h := &History{Epochs: []EpochStats{
		{Epoch: 0, Step: 3, TrainLoss: 5.1, EvalLoss: 5.0, Checkpoint: "c/3"},
		{Epoch: 1, Step: 6, TrainLoss: 4.2, EvalLoss: 4.4, Checkpoint: "c/6"},
	}}

	path, err := WriteHistory(out, h)
	if err != nil {
		t.Fatalf("WriteHistory: %v", err)
	}
	got, err := ReadHistory(path)
	if err != nil {
		t.Fatalf("ReadHistory: %v", err)
	}
	if !reflect.DeepEqual(h, got) {
		t.Errorf("ReadHistory = %+v, want %+v", got, h)
	}

	png, err := PlotHistory(out, h)
	if err != nil {
		t.Fatalf("PlotHistory: %v", err)
	}
	if info, err := os.Stat(png); err != nil || info.Size() == 0 {
		t.Fatalf("plot %s missing or empty: %v", png, err)
	}

	if _, err := PlotHistory(out, &History{}); err == nil {
		t.Errorf("plotting an empty history succeeded")
	}
}

func TestAutoRange(t *testing.T) {
	xmin, xmax, ymin, ymax := autoRange(nil)
	if xmin != -1 || xmax != 1 || ymin != -1 || ymax != 1 {
		t.Errorf("autoRange(nil) = %g %g %g %g, want -1 1 -1 1", xmin, xmax, ymin, ymax)
	}

	xmin, xmax, ymin, ymax = autoRange(plotter.XYs{{X: 0, Y: 2}, {X: 100, Y: 2}})
	if math.Abs(xmin+6) > 1e-9 || math.Abs(xmax-106) > 1e-9 {
		t.Errorf("x range = [%g, %g], want [-6, 106]", xmin, xmax)
	}
	if ymin != 1 || ymax != 3 {
		t.Errorf("y range = [%g, %g], want [1, 3]", ymin, ymax)
	}
}
