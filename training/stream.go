package training

import (
	"context"
	"io"

	"github.com/Noofbiz/fontid/datasets"
	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// batchStream hands batches rendered by a Loader to gomlx as a single-pass
// train.Dataset, so evaluation gets the same prefetching as training.
type batchStream struct {
	name    string
	ch      chan *datasets.Batch
	done    chan struct{}
	onBatch func()

	// err is written before ch is closed.
	err error
}

func newBatchStream(ctx context.Context, loader *datasets.Loader, onBatch func()) *batchStream {
	s := &batchStream{
		name:    loader.Dataset().Name(),
		ch:      make(chan *datasets.Batch),
		done:    make(chan struct{}),
		onBatch: onBatch,
	}
	go func() {
		defer close(s.done)
		defer close(s.ch)
		s.err = loader.Run(ctx, func(b *datasets.Batch) error {
			select {
			case s.ch <- b:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()
	return s
}

func (s *batchStream) Name() string { return s.name }

// Yield returns the next batch, the loader's error once it failed, or io.EOF.
func (s *batchStream) Yield() (any, []*tensors.Tensor, []*tensors.Tensor, error) {
	b, ok := <-s.ch
	if !ok {
		if s.err != nil {
			return nil, nil, nil, s.err
		}
		return nil, nil, nil, io.EOF
	}
	if s.onBatch != nil {
		s.onBatch()
	}
	return nil, []*tensors.Tensor{b.Images}, []*tensors.Tensor{b.Labels}, nil
}

// Reset is a no-op: the stream is consumed once.
func (s *batchStream) Reset() {}

// wait blocks until the loader stopped and returns its error.
func (s *batchStream) wait() error {
	<-s.done
	return s.err
}
