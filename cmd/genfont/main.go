// genfont renders a handful of synthetic samples to PNG files, to eyeball what
// the classifier trains on.
//
// For each sample it writes the tight canvas as <idx>.png and the normalized
// 64x64 network input as <idx>_64.png. It then assembles the samples into a
// batch and prints the tensor shapes the trainer would see.
//
// Usage:
//
//	genfont -n 16 -out samples
//	genfont -vocab texts.txt -font-dir fonts -catalog fonts/font_list.txt -n 32
//
// Without -catalog the Go fonts bundled with golang.org/x/image are used.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Noofbiz/fontid/datasets"
	"github.com/Noofbiz/fontid/fontgen"
	"github.com/disintegration/imaging"
	"github.com/dustin/go-humanize"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/goregular"
	"k8s.io/klog/v2"
)

var builtinFonts = []struct {
	name string
	data []byte
}{
	{"goregular.ttf", goregular.TTF},
	{"gobold.ttf", gobold.TTF},
	{"goitalic.ttf", goitalic.TTF},
	{"gomono.ttf", gomono.TTF},
}

var builtinWords = fontgen.Vocabulary{"hello", "font", "Quick brown fox", "42", "Résumé", "gopher"}

func main() {
	klog.InitFlags(nil)
	vocabPath := flag.String("vocab", "", "vocabulary file (empty = a few built-in words)")
	fontDir := flag.String("font-dir", "", "directory the catalog's font paths are relative to")
	catalogPath := flag.String("catalog", "", "font catalog file (empty = the bundled Go fonts)")
	n := flag.Int("n", 16, "number of samples to render")
	outDir := flag.String("out", "samples", "output directory for the PNG files")
	seed := flag.Int64("seed", 0, "random seed (0 = time based)")
	rotateProb := flag.Float64("rotate-prob", fontgen.DefaultConfig().RotateProb, "probability of rotating a sample (0 or negative disables)")
	flag.Parse()

	if err := generate(*vocabPath, *fontDir, *catalogPath, *outDir, *n, *seed, *rotateProb); err != nil {
		klog.Errorf("genfont: %v", err)
		klog.Flush()
		os.Exit(1)
	}
	klog.Flush()
}

func generate(vocabPath, fontDir, catalogPath, outDir string, n int, seed int64, rotateProb float64) error {
	if n <= 0 {
		return fmt.Errorf("-n must be positive, got %d", n)
	}

	vocab := builtinWords
	if vocabPath != "" {
		var err error
		if vocab, err = fontgen.LoadVocabulary(vocabPath); err != nil {
			return err
		}
	}

	// fontgen reads a zero probability as "use the default".
	if rotateProb == 0 {
		rotateProb = -1
	}

	fonts := fontgen.NewFontCache()
	var catalog *fontgen.Catalog
	if catalogPath != "" {
		var err error
		if catalog, err = fontgen.LoadCatalog(catalogPath, fontDir); err != nil {
			return err
		}
	} else {
		catalog = &fontgen.Catalog{}
		for i, f := range builtinFonts {
			if err := fonts.Add(f.name, f.data); err != nil {
				return err
			}
			catalog.Entries = append(catalog.Entries, fontgen.FontEntry{Label: i, Path: f.name})
		}
	}

	gen, err := fontgen.New(vocab, catalog, fontgen.Config{
		Seed:       seed,
		RotateProb: rotateProb,
		SaveDir:    outDir,
		Fonts:      fonts,
	})
	if err != nil {
		return err
	}

	images := make([][]float32, 0, n)
	labels := make([]int, 0, n)
	for i := 0; i < n; i++ {
		s, err := gen.Sample(i)
		if err != nil {
			return err
		}
		out := filepath.Join(outDir, fmt.Sprintf("%d_64.png", i))
		if err := imaging.Save(s.Image(), out); err != nil {
			return fmt.Errorf("failed to save %s: %w", out, err)
		}
		rot := "no rotation"
		if s.Rotate {
			rot = fmt.Sprintf("rotated %d°", s.Angle)
		}
		fmt.Printf("%4d  label %3d  %-24q %s, %s\n", i, s.Label, s.Text, filepath.Base(s.Font.Path), rot)
		images = append(images, s.Pixels)
		labels = append(labels, s.Label)
	}
	klog.Infof("Wrote %s samples to %s", humanize.Comma(int64(n)), outDir)

	// Show the batch the trainer would receive.
	flat, err := datasets.MakeImageBatchFlat(images, labels)
	if err != nil {
		return err
	}
	imT, laT, err := flat.ToGomlxTensors()
	if err != nil {
		return err
	}
	fmt.Printf("Batch tensors: images %v, labels %v\n", imT.Shape(), laT.Shape())
	return nil
}
