package training

import (
	"encoding/json"
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// EpochStats summarises one epoch.
type EpochStats struct {
	Epoch      int     `json:"epoch"`
	Step       int64   `json:"global_step"`
	TrainLoss  float64 `json:"train_loss"`
	EvalLoss   float64 `json:"eval_loss"`
	Checkpoint string  `json:"checkpoint"`
	Seconds    float64 `json:"seconds"`
}

// History holds the stats of every completed epoch, in order.
type History struct {
	Epochs []EpochStats `json:"epochs"`
}

// WriteHistory writes h as indented JSON to outDir/history.json and returns
// the path.
func WriteHistory(outDir string, h *History) (string, error) {
	if err := ensureDir(outDir); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode history: %w", err)
	}
	path := filepath.Join(outDir, "history.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write history: %w", err)
	}
	return path, nil
}

// ReadHistory loads a history written by WriteHistory.
func ReadHistory(path string) (*History, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	h := &History{}
	if err := json.Unmarshal(data, h); err != nil {
		return nil, fmt.Errorf("failed to parse history %s: %w", path, err)
	}
	return h, nil
}

// PlotHistory draws train and eval loss against the global step to
// outDir/loss.png and returns the path.
func PlotHistory(outDir string, h *History) (string, error) {
	if len(h.Epochs) == 0 {
		return "", fmt.Errorf("empty history")
	}
	trainXY := make(plotter.XYs, len(h.Epochs))
	evalXY := make(plotter.XYs, len(h.Epochs))
	for i, e := range h.Epochs {
		trainXY[i] = plotter.XY{X: float64(e.Step), Y: e.TrainLoss}
		evalXY[i] = plotter.XY{X: float64(e.Step), Y: e.EvalLoss}
	}

	p := plot.New()
	p.Title.Text = "Loss per epoch: train (blue), eval (red)"
	p.X.Label.Text = "global step"
	p.Y.Label.Text = "cross-entropy"

	tl, tp, err := plotter.NewLinePoints(trainXY)
	if err != nil {
		return "", err
	}
	tl.Color = color.RGBA{R: 20, G: 80, B: 200, A: 255}
	tl.Width = vg.Points(1.5)
	tp.GlyphStyle.Color = tl.Color
	tp.GlyphStyle.Radius = vg.Points(2.5)
	p.Add(tl, tp)
	p.Legend.Add("train", tl, tp)

	el, ep, err := plotter.NewLinePoints(evalXY)
	if err != nil {
		return "", err
	}
	el.Color = color.RGBA{R: 200, G: 30, B: 30, A: 255}
	el.Width = vg.Points(1.5)
	ep.GlyphStyle.Color = el.Color
	ep.GlyphStyle.Radius = vg.Points(2.5)
	p.Add(el, ep)
	p.Legend.Add("eval", el, ep)

	p.Add(plotter.NewGrid())
	all := append(append(plotter.XYs{}, trainXY...), evalXY...)
	xmin, xmax, ymin, ymax := autoRange(all)
	p.X.Min = xmin
	p.X.Max = xmax
	p.Y.Min = math.Max(0, ymin)
	p.Y.Max = ymax

	if err := ensureDir(outDir); err != nil {
		return "", err
	}
	outPath := filepath.Join(outDir, "loss.png")
	if err := p.Save(8*vg.Inch, 5*vg.Inch, outPath); err != nil {
		return "", err
	}
	return outPath, nil
}

// autoRange computes padded min/max for X and Y for a set of points.
func autoRange(xs plotter.XYs) (xmin, xmax, ymin, ymax float64) {
	if len(xs) == 0 {
		return -1, 1, -1, 1
	}
	xmin = math.Inf(1)
	xmax = math.Inf(-1)
	ymin = math.Inf(1)
	ymax = math.Inf(-1)
	for _, p := range xs {
		xmin = math.Min(xmin, p.X)
		xmax = math.Max(xmax, p.X)
		ymin = math.Min(ymin, p.Y)
		ymax = math.Max(ymax, p.Y)
	}
	padx := (xmax - xmin) * 0.06
	pady := (ymax - ymin) * 0.06
	if padx == 0 {
		padx = 1.0
	}
	if pady == 0 {
		pady = 1.0
	}
	return xmin - padx, xmax + padx, ymin - pady, ymax + pady
}
