package classifier

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Noofbiz/fontid/fontgen"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
)

// ErrBackendUnsupported is returned when a backend lacks an op the chosen
// model needs to train.
var ErrBackendUnsupported = errors.New("backend cannot train this model")

// requiredOps lists, per architecture, the ops a training step needs beyond
// the ones every backend has. Gradients count: MaxPool back-propagates
// through SelectAndScatterMax and convolutions through Reverse.
var requiredOps = map[string][]backends.OpType{
	ModelCNN: {
		backends.OpTypeConvGeneral,
		backends.OpTypeReverse,
		backends.OpTypeSelectAndScatterMax,
		backends.OpTypeDotGeneral,
	},
	ModelDense: {
		backends.OpTypeDotGeneral,
	},
}

// checkBackend reports ErrBackendUnsupported if backend misses any op model
// needs.
func checkBackend(backend backends.Backend, model string) error {
	supported := backend.Capabilities().Operations
	var missing []string
	for _, op := range requiredOps[model] {
		if !supported[op] {
			missing = append(missing, op.String())
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s lacks %s needed by the %q model; use an XLA backend or the %q model",
			ErrBackendUnsupported, backend.Name(), strings.Join(missing, ", "), model, ModelDense)
	}
	return nil
}

// ModelGraph returns the gomlx model function for cfg. ModelCNN runs
// convolution blocks of conv, relu and 2x max-pool first; both
// architectures end in a dense hidden layer with relu and a dense layer
// producing one logit per font.
//
// Inputs are the image batch shaped [batch, 1, 64, 64]; the output is a
// single node shaped [batch, NumClasses].
func ModelGraph(cfg Config) func(ctx *context.Context, spec any, inputs []*Node) []*Node {
	return func(ctx *context.Context, spec any, inputs []*Node) []*Node {
		x := inputs[0]
		batch := x.Shape().Dimensions[0]

		if cfg.Model == ModelCNN {
			// With a single channel the layout change is a plain reshape.
			x = Reshape(x, batch, fontgen.Height, fontgen.Width, fontgen.Channels)
			for i, filters := range cfg.Filters {
				blockCtx := ctx.In(fmt.Sprintf("conv_%d", i))
				x = layers.Convolution(blockCtx, x).
					Filters(filters).
					KernelSize(cfg.KernelSize).
					PadSame().
					Done()
				x = activations.Relu(x)
				x = MaxPool(x).Window(2).Done()
			}
		}

		x = Reshape(x, batch, x.Shape().Size()/batch)
		x = layers.Dense(ctx.In("hidden"), x, true, cfg.Hidden)
		x = activations.Relu(x)
		logits := layers.Dense(ctx.In("logits"), x, true, cfg.NumClasses)
		return []*Node{logits}
	}
}
