package classifier

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/default"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"k8s.io/klog/v2"
)

// NewBackend creates the gomlx backend selected by config: "xla" (the
// default, needing a PJRT plugin) or "go" for the pure Go backend, which can
// only train ModelDense. An empty config honours the GOMLX_BACKEND
// environment variable.
//
// Build with -tags noxla to leave XLA out.
func NewBackend(config string) (backends.Backend, error) {
	var backend backends.Backend
	err := exceptions.TryCatch[error](func() {
		var err error
		if config == "" {
			backend, err = backends.New()
		} else {
			backend, err = backends.NewWithConfig(config)
		}
		if err != nil {
			panic(err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gomlx backend %q: %w", config, err)
	}
	klog.Infof("Using backend %s", backend.Name())
	return backend, nil
}

// Trainer couples the model graph with an Adam optimizer and sparse
// cross-entropy loss. gomlx reports failures by panicking; every method here
// converts them to errors.
type Trainer struct {
	Config Config

	backend backends.Backend
	ctx     *context.Context
	trainer *train.Trainer
}

// NewTrainer builds a trainer with fresh variables. It fails with
// ErrBackendUnsupported if backend cannot train cfg.Model.
func NewTrainer(backend backends.Backend, cfg Config) (*Trainer, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid classifier config: %w", err)
	}
	if backend == nil {
		return nil, fmt.Errorf("backend is nil")
	}
	if err := checkBackend(backend, cfg.Model); err != nil {
		return nil, err
	}

	t := &Trainer{Config: cfg, backend: backend, ctx: context.New()}
	err := exceptions.TryCatch[error](func() {
		opt := optimizers.Adam().LearningRate(cfg.LearningRate).Done()
		t.trainer = train.NewTrainer(backend, t.ctx, ModelGraph(cfg),
			losses.SparseCategoricalCrossEntropyLogits, opt, nil, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build trainer: %w", err)
	}
	return t, nil
}

// Context returns the variables context, used for checkpointing.
func (t *Trainer) Context() *context.Context { return t.ctx }

// TrainStep runs one optimizer update on a batch and returns its loss.
func (t *Trainer) TrainStep(images, labels *tensors.Tensor) (float64, error) {
	var metrics []*tensors.Tensor
	err := exceptions.TryCatch[error](func() {
		metrics = t.trainer.TrainStep(nil, []*tensors.Tensor{images}, []*tensors.Tensor{labels})
	})
	if err != nil {
		return 0, fmt.Errorf("train step failed: %w", err)
	}
	return scalar(metrics)
}

// Evaluate runs the model without updates over every batch ds yields and
// returns the mean loss.
func (t *Trainer) Evaluate(ds train.Dataset) (float64, error) {
	var metrics []*tensors.Tensor
	err := exceptions.TryCatch[error](func() {
		metrics = t.trainer.Eval(ds)
	})
	if err != nil {
		return 0, fmt.Errorf("evaluation of %s failed: %w", ds.Name(), err)
	}
	return scalar(metrics)
}

// scalar reads the loss, always the first metric gomlx returns.
func scalar(metrics []*tensors.Tensor) (float64, error) {
	if len(metrics) == 0 {
		return 0, fmt.Errorf("no metrics returned")
	}
	switch v := metrics[0].Value().(type) {
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	default:
		return 0, fmt.Errorf("unexpected loss value of type %T", v)
	}
}
