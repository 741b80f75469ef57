// trainfont trains the font classifier on synthetic text images rendered on
// the fly.
//
// Usage:
//
//	trainfont -vocab texts.txt -font-dir fonts -catalog fonts/font_list.txt
//	trainfont -config run.json -epochs 3 -backend go -model dense
//	trainfont -config run.json -print-effective-config
//
// Every epoch trains over one sample per vocabulary entry, evaluates on 640
// fresh samples and saves a checkpoint named by the global step. The loss
// history is written to the output directory as history.json and loss.png.
//
// The default "cnn" model trains on the XLA backend, which needs a PJRT
// plugin installed. The pure Go backend ("-backend go") can only train the
// "dense" model.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/Noofbiz/fontid/classifier"
	"github.com/Noofbiz/fontid/datasets"
	"github.com/Noofbiz/fontid/fontgen"
	"github.com/Noofbiz/fontid/training"
	"github.com/gomlx/exceptions"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

func main() {
	klog.InitFlags(nil)
	cfg, opts, err := parseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		klog.Exitf("invalid configuration: %v", err)
	}
	if opts.printEffectiveConfig {
		fmt.Println(cfg)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var runErr error
	err = exceptions.TryCatch[error](func() {
		runErr = run(ctx, cfg)
	})
	if err == nil {
		err = runErr
	}
	if err != nil {
		klog.Errorf("Error:\n%+v", err)
		klog.Flush()
		os.Exit(1)
	}
	klog.Flush()
}

// run sets everything up, panicking through must on setup failures, and
// returns the training error, if any.
func run(ctx context.Context, cfg *Config) error {
	must.M(cfg.validate())
	klog.V(1).Infof("Effective configuration:\n%s", cfg)

	vocab := must.M1(fontgen.LoadVocabulary(cfg.Data.Vocabulary))
	catalog := must.M1(fontgen.LoadCatalog(cfg.Data.Catalog, cfg.Data.FontDir))
	numClasses := cfg.Training.NumClasses
	if numClasses == 0 {
		numClasses = catalog.NumClasses()
	}
	if numClasses < catalog.NumClasses() {
		return fmt.Errorf("num_classes %d is smaller than the catalog's %d labels", numClasses, catalog.NumClasses())
	}
	klog.Infof("Got %d fonts, %d classes", catalog.Len(), numClasses)

	gen := must.M1(fontgen.New(vocab, catalog, cfg.generatorConfig()))
	trainDS := must.M1(datasets.NewTextDataset(gen, datasets.Train, cfg.Training.TrainBatchSize))
	evalDS := must.M1(datasets.NewTextDataset(gen, datasets.Eval, cfg.Training.EvalBatchSize))

	must.M(training.PrepareCheckpointDir(cfg.Training.CheckpointDir))

	backend := must.M1(classifier.NewBackend(cfg.Training.Backend))
	defer backend.Finalize()
	trainer := must.M1(classifier.NewTrainer(backend, cfg.classifierConfig(numClasses)))
	ckpt := must.M1(classifier.NewCheckpointer(trainer.Context(), cfg.Training.CheckpointDir))

	loop := must.M1(training.NewLoop(trainer, ckpt, trainDS, evalDS, training.Config{
		Epochs:   cfg.Training.Epochs,
		Workers:  cfg.Training.Workers,
		Prefetch: cfg.Training.Prefetch,
		Progress: os.Stderr,
	}))
	history, err := loop.Run(ctx)

	// Whatever finished is still worth keeping.
	if len(history.Epochs) > 0 {
		if path, herr := training.WriteHistory(cfg.Training.OutDir, history); herr != nil {
			klog.Warningf("failed to write history: %v", herr)
		} else {
			klog.Infof("Wrote %s", path)
		}
		if path, perr := training.PlotHistory(cfg.Training.OutDir, history); perr != nil {
			klog.Warningf("failed to plot history: %v", perr)
		} else {
			klog.Infof("Wrote %s", path)
		}
	}
	return err
}
