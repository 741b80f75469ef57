package classifier

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"k8s.io/klog/v2"
)

// Checkpointer saves every variable of a context (model weights, optimizer
// state, global step) under Root, one subdirectory per save named by the
// global step.
type Checkpointer struct {
	Root string
	ctx  *context.Context
}

// NewCheckpointer creates root if needed.
func NewCheckpointer(ctx *context.Context, root string) (*Checkpointer, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint dir %s: %w", root, err)
	}
	return &Checkpointer{Root: root, ctx: ctx}, nil
}

// Save writes a checkpoint for step and returns its directory.
func (c *Checkpointer) Save(step int64) (string, error) {
	dir := filepath.Join(c.Root, strconv.FormatInt(step, 10))
	if _, err := os.Stat(dir); err == nil {
		return "", fmt.Errorf("checkpoint for step %d already exists at %s", step, dir)
	}
	handler, err := checkpoints.Build(c.ctx).Dir(dir).Keep(1).Done()
	if err != nil {
		return "", fmt.Errorf("failed to prepare checkpoint %s: %w", dir, err)
	}
	if err := handler.Save(); err != nil {
		return "", fmt.Errorf("failed to save checkpoint %s: %w", dir, err)
	}
	size, err := dirSize(dir)
	if err != nil {
		return "", err
	}
	klog.Infof("Saved checkpoint for step %s to %s (%s)", humanize.Comma(step), dir, humanize.Bytes(uint64(size)))
	return dir, nil
}

func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to measure %s: %w", dir, err)
	}
	return total, nil
}
