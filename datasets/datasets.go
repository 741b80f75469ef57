package datasets

import (
	"github.com/Noofbiz/fontid/fontgen"
	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// This package turns the sample generator into datasets suitable for model
// training.
//
// Nothing is stored: every Example call renders a fresh random sample, so the
// content behind an index is not stable between calls. Only the split length
// and the batch boundaries are fixed.
//
// Layout and intended usage:
//
// TextDataset
//   - Train mode exposes one example per vocabulary entry.
//   - Eval mode exposes EvalSize examples regardless of the vocabulary.
//   - Inputs per example: fontgen.ImageSize float32 values (1×64×64).
//   - Labels per example: the integer font label.
//
// Loader
//   - Renders batches on a worker pool ahead of the consumer and delivers
//     them in order.
//
// The datasets implement this interface in order to interact with GoMLX
// training loops and batching utilities.
type Dataset interface {
	Len() int
	Example(i int) (inputs []float32, label int, err error)
	Batch(indices []int) (inputs [][]float32, labels []int, err error)

	// To implement gomlx's train.Dataset interface
	Name() string
	Yield() (any, []*tensors.Tensor, []*tensors.Tensor, error)
	Reset()
}

// Sampler is what the datasets need from a sample generator.
// *fontgen.Generator implements it.
type Sampler interface {
	Sample(idx int) (*fontgen.Sample, error)
	VocabularySize() int
}
