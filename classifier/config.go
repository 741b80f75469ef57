package classifier

import "fmt"

// Model architectures.
const (
	// ModelCNN stacks convolution blocks before the dense head. Training it
	// needs a backend with convolution and max-pool gradients, such as XLA.
	ModelCNN = "cnn"

	// ModelDense flattens the image straight into the dense head. It trains
	// on every backend, the pure Go one included.
	ModelDense = "dense"
)

// Config holds configurable hyperparameters for the font classifier.
type Config struct {
	// NumClasses is the number of fonts to tell apart. Required.
	NumClasses int

	// Model is the architecture, ModelCNN or ModelDense. Default ModelCNN.
	Model string

	// LearningRate used by the Adam optimizer. Default 0.01.
	LearningRate float64

	// Filters lists the channel count of each convolution block. Each block
	// halves the spatial size. Default [32, 64, 128].
	Filters []int

	// KernelSize of every convolution. Default 3.
	KernelSize int

	// Hidden is the size of the dense layer before the logits. Default 256.
	Hidden int
}

// DefaultConfig returns the defaults for everything but NumClasses.
func DefaultConfig() Config {
	return Config{
		Model:        ModelCNN,
		LearningRate: 0.01,
		Filters:      []int{32, 64, 128},
		KernelSize:   3,
		Hidden:       256,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Model == "" {
		c.Model = d.Model
	}
	if c.LearningRate == 0 {
		c.LearningRate = d.LearningRate
	}
	if len(c.Filters) == 0 {
		c.Filters = d.Filters
	}
	if c.KernelSize == 0 {
		c.KernelSize = d.KernelSize
	}
	if c.Hidden == 0 {
		c.Hidden = d.Hidden
	}
	return c
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.NumClasses < 2 {
		return fmt.Errorf("need at least 2 classes, got %d", c.NumClasses)
	}
	if c.Model != ModelCNN && c.Model != ModelDense {
		return fmt.Errorf("unknown model %q, want %q or %q", c.Model, ModelCNN, ModelDense)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("learning rate must be positive, got %g", c.LearningRate)
	}
	if c.KernelSize <= 0 {
		return fmt.Errorf("kernel size must be positive, got %d", c.KernelSize)
	}
	if c.Hidden <= 0 {
		return fmt.Errorf("hidden size must be positive, got %d", c.Hidden)
	}
	if len(c.Filters) > maxBlocks {
		return fmt.Errorf("at most %d convolution blocks fit a 64x64 input, got %d", maxBlocks, len(c.Filters))
	}
	for i, f := range c.Filters {
		if f <= 0 {
			return fmt.Errorf("filters[%d] must be positive, got %d", i, f)
		}
	}
	return nil
}

// maxBlocks is how many 2x poolings a 64 pixel side survives.
const maxBlocks = 6
