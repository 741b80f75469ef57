package datasets

import (
	"fmt"
	"io"

	"github.com/Noofbiz/fontid/fontgen"
	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// Mode selects the split a TextDataset serves.
type Mode int

const (
	Train Mode = iota
	Eval
)

// EvalSize is the fixed length of the eval split.
const EvalSize = 640

func (m Mode) String() string {
	switch m {
	case Train:
		return "train"
	case Eval:
		return "eval"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

var _ Dataset = (*TextDataset)(nil)

// TextDataset exposes generated text images as a gomlx train.Dataset.
type TextDataset struct {
	// Mode selects the split and therefore the length.
	Mode Mode

	// BatchSize for yielding batches
	BatchSize int

	gen Sampler

	// next batch Yield hands out
	next int
}

// NewTextDataset creates a dataset over gen. batchSize must be positive.
func NewTextDataset(gen Sampler, mode Mode, batchSize int) (*TextDataset, error) {
	if gen == nil {
		return nil, fmt.Errorf("sampler is nil")
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if mode != Train && mode != Eval {
		return nil, fmt.Errorf("unknown dataset mode %v", mode)
	}
	return &TextDataset{Mode: mode, BatchSize: batchSize, gen: gen}, nil
}

// Len returns the split length: the vocabulary size for Train, EvalSize for
// Eval.
func (d *TextDataset) Len() int {
	if d.Mode == Eval {
		return EvalSize
	}
	return d.gen.VocabularySize()
}

// NumBatches returns how many batches cover the split, counting a short
// final batch.
func (d *TextDataset) NumBatches() int {
	return (d.Len() + d.BatchSize - 1) / d.BatchSize
}

// Example renders a fresh sample for the given index.
func (d *TextDataset) Example(idx int) (inputs []float32, label int, err error) {
	if idx < 0 || idx >= d.Len() {
		return nil, 0, fmt.Errorf("index %d out of range [0, %d)", idx, d.Len())
	}
	s, err := d.gen.Sample(idx)
	if err != nil {
		return nil, 0, err
	}
	return s.Pixels, s.Label, nil
}

// Batch renders one sample per index.
func (d *TextDataset) Batch(indices []int) ([][]float32, []int, error) {
	inputs := make([][]float32, len(indices))
	labels := make([]int, len(indices))
	for i, idx := range indices {
		in, la, err := d.Example(idx)
		if err != nil {
			return nil, nil, err
		}
		inputs[i] = in
		labels[i] = la
	}
	return inputs, labels, nil
}

// Tensors renders a batch and returns it as gomlx tensors.
func (d *TextDataset) Tensors(indices []int) (images *tensors.Tensor, labels *tensors.Tensor, err error) {
	in, la, err := d.Batch(indices)
	if err != nil {
		return nil, nil, err
	}
	flat, err := MakeImageBatchFlat(in, la)
	if err != nil {
		return nil, nil, err
	}
	return flat.ToGomlxTensors()
}

// batchIndices returns the indices covered by batch number b.
func (d *TextDataset) batchIndices(b int) []int {
	start := b * d.BatchSize
	end := min(start+d.BatchSize, d.Len())
	indices := make([]int, 0, end-start)
	for i := start; i < end; i++ {
		indices = append(indices, i)
	}
	return indices
}

// batchAt renders batch number b.
func (d *TextDataset) batchAt(b int) (*Batch, error) {
	indices := d.batchIndices(b)
	images, labels, err := d.Tensors(indices)
	if err != nil {
		return nil, fmt.Errorf("%s batch %d: %w", d.Mode, b, err)
	}
	return &Batch{Index: b, Size: len(indices), Images: images, Labels: labels}, nil
}

// Name returns the name of the dataset
func (d *TextDataset) Name() string {
	return "TextDataset/" + d.Mode.String()
}

// Yield returns the next batch for the gomlx Dataset interface and io.EOF
// once the split is exhausted. The last batch may be short.
func (d *TextDataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	if d.next >= d.NumBatches() {
		return nil, nil, nil, io.EOF
	}
	b, err := d.batchAt(d.next)
	if err != nil {
		return nil, nil, nil, err
	}
	d.next++
	return nil, []*tensors.Tensor{b.Images}, []*tensors.Tensor{b.Labels}, nil
}

// Reset rewinds Yield to the first batch.
func (d *TextDataset) Reset() {
	d.next = 0
}

// Batch is one rendered batch ready for a train or eval step.
type Batch struct {
	// Index is the batch number within the split.
	Index int
	// Size is the number of examples, which can be short for the last batch.
	Size int

	Images *tensors.Tensor
	Labels *tensors.Tensor
}

// ImageBatchFlat stores a batch in flat contiguous buffers
type ImageBatchFlat struct {
	Images    []float32
	Labels    []int32
	BatchSize int
}

// MakeImageBatchFlat flattens a batch into contiguous buffers
func MakeImageBatchFlat(images [][]float32, labels []int) (*ImageBatchFlat, error) {
	if len(images) != len(labels) {
		return nil, fmt.Errorf("images and labels batch sizes don't match: %d != %d", len(images), len(labels))
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("empty batch")
	}

	batchSize := len(images)
	flatImages := make([]float32, batchSize*fontgen.ImageSize)
	flatLabels := make([]int32, batchSize)
	for i := range batchSize {
		if len(images[i]) != fontgen.ImageSize {
			return nil, fmt.Errorf("inconsistent image size at example %d: expected %d, got %d",
				i, fontgen.ImageSize, len(images[i]))
		}
		copy(flatImages[i*fontgen.ImageSize:], images[i])
		flatLabels[i] = int32(labels[i])
	}

	return &ImageBatchFlat{
		Images:    flatImages,
		Labels:    flatLabels,
		BatchSize: batchSize,
	}, nil
}

// ToGomlxTensors converts the batch to gomlx tensors: images shaped
// [batch, 1, 64, 64] and labels shaped [batch, 1].
func (b *ImageBatchFlat) ToGomlxTensors() (*tensors.Tensor, *tensors.Tensor, error) {
	if b.BatchSize == 0 {
		return nil, nil, fmt.Errorf("empty batch")
	}
	images := tensors.FromFlatDataAndDimensions(b.Images, b.BatchSize, fontgen.Channels, fontgen.Height, fontgen.Width)
	labels := tensors.FromFlatDataAndDimensions(b.Labels, b.BatchSize, 1)
	return images, labels, nil
}
