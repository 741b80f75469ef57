// Package fontgen renders synthetic text images in randomly chosen fonts and
// normalizes them into fixed-size grayscale tensors for font classification.
package fontgen

import (
	"errors"
	"fmt"
	"image"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"k8s.io/klog/v2"
)

// Output tensor layout: one channel, Height rows, Width columns.
const (
	Channels  = 1
	Height    = 64
	Width     = 64
	ImageSize = Channels * Height * Width
)

// ErrEmptyRender is returned when the rendered text leaves no ink on the
// canvas, e.g. whitespace or glyphs missing from the font.
var ErrEmptyRender = errors.New("rendered text has an empty bounding box")

// Rand is the random source the generator draws from. *rand.Rand satisfies it.
type Rand interface {
	Intn(n int) int
	Float64() float64
}

// Config holds the rendering and augmentation parameters. Zero fields are
// replaced with the defaults listed on each field by New.
type Config struct {
	// Working canvas the text is first drawn on (512×300).
	CanvasWidth  int
	CanvasHeight int

	// FontSize in pixels (70).
	FontSize float64

	// Padding added to the ink box width and height, not per side (40).
	Padding int

	// RotateProb is the chance of rotating a sample (0.3). Negative disables.
	RotateProb float64

	// Rotation angle range in degrees, inclusive ([-40, 30]). Only defaulted
	// when both are zero.
	MinAngle int
	MaxAngle int

	// TargetSize is the shorter side after resizing (64); MaxSize caps the
	// longer side (128).
	TargetSize int
	MaxSize    int

	// MaxRedraws bounds how many fresh draws are tried when a render comes
	// out blank (8).
	MaxRedraws int

	// SaveDir, if set, receives a PNG of every tight canvas.
	SaveDir string

	// Seed seeds the default random source. If zero, a time-based seed is used.
	Seed int64

	// Rand overrides the random source. Seed is ignored when set.
	Rand Rand

	// Fonts is the parsed-font cache; a private one is created when nil.
	Fonts *FontCache
}

// DefaultConfig returns the stock generation parameters.
func DefaultConfig() Config {
	return Config{
		CanvasWidth:  512,
		CanvasHeight: 300,
		FontSize:     70,
		Padding:      40,
		RotateProb:   0.3,
		MinAngle:     -40,
		MaxAngle:     30,
		TargetSize:   Height,
		MaxSize:      2 * Width,
		MaxRedraws:   8,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.CanvasWidth == 0 {
		c.CanvasWidth = def.CanvasWidth
	}
	if c.CanvasHeight == 0 {
		c.CanvasHeight = def.CanvasHeight
	}
	if c.FontSize == 0 {
		c.FontSize = def.FontSize
	}
	if c.Padding == 0 {
		c.Padding = def.Padding
	}
	if c.RotateProb == 0 {
		c.RotateProb = def.RotateProb
	}
	if c.MinAngle == 0 && c.MaxAngle == 0 {
		c.MinAngle, c.MaxAngle = def.MinAngle, def.MaxAngle
	}
	if c.TargetSize == 0 {
		c.TargetSize = def.TargetSize
	}
	if c.MaxSize == 0 {
		c.MaxSize = def.MaxSize
	}
	if c.MaxRedraws == 0 {
		c.MaxRedraws = def.MaxRedraws
	}
	return c
}

// Draw is the set of random choices behind one sample.
type Draw struct {
	Text   string
	Font   FontEntry
	Rotate bool
	Angle  int
}

// Sample is one normalized image and its font label.
type Sample struct {
	// Pixels holds Channels×Height×Width values in [0, 1], row-major.
	Pixels []float32
	Label  int

	// Clipped is set when the ink reached the working canvas edge, e.g. a
	// line wider than CanvasWidth. The sample is kept, but the clipped side
	// ends up with no margin.
	Clipped bool

	Draw
}

// At returns the pixel at row y, column x of the single channel.
func (s *Sample) At(y, x int) float32 {
	return s.Pixels[y*Width+x]
}

// Image returns the sample as an 8-bit grayscale image.
func (s *Sample) Image() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, Width, Height))
	for i, v := range s.Pixels {
		img.Pix[i] = uint8(v*255 + 0.5)
	}
	return img
}

// Generator produces samples on demand. It is safe for concurrent use.
type Generator struct {
	cfg     Config
	vocab   Vocabulary
	catalog *Catalog
	fonts   *FontCache

	mu  sync.Mutex
	rng Rand
}

// New builds a generator over a vocabulary and a font catalog.
func New(vocab Vocabulary, catalog *Catalog, cfg Config) (*Generator, error) {
	if len(vocab) == 0 {
		return nil, ErrEmptyVocabulary
	}
	if catalog == nil || catalog.Len() == 0 {
		return nil, ErrEmptyCatalog
	}
	cfg = cfg.withDefaults()
	if cfg.MaxAngle < cfg.MinAngle {
		return nil, fmt.Errorf("invalid angle range [%d, %d]", cfg.MinAngle, cfg.MaxAngle)
	}
	if cfg.SaveDir != "" {
		if err := os.MkdirAll(cfg.SaveDir, 0755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", cfg.SaveDir, err)
		}
	}

	g := &Generator{
		cfg:     cfg,
		vocab:   vocab,
		catalog: catalog,
		fonts:   cfg.Fonts,
		rng:     cfg.Rand,
	}
	if g.fonts == nil {
		g.fonts = NewFontCache()
	}
	if g.rng == nil {
		seed := cfg.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		g.rng = rand.New(rand.NewSource(seed))
	}
	return g, nil
}

// VocabularySize returns the number of vocabulary entries.
func (g *Generator) VocabularySize() int { return len(g.vocab) }

// NumClasses returns the size of the catalog's label space.
func (g *Generator) NumClasses() int { return g.catalog.NumClasses() }

// Config returns the effective configuration.
func (g *Generator) Config() Config { return g.cfg }

// NextDraw makes the random choices for one sample: text, then font, then
// whether and by how much to rotate.
func (g *Generator) NextDraw() Draw {
	g.mu.Lock()
	defer g.mu.Unlock()

	d := Draw{
		Text: g.vocab[g.rng.Intn(len(g.vocab))],
		Font: g.catalog.Entries[g.rng.Intn(len(g.catalog.Entries))],
	}
	if g.rng.Float64() < g.cfg.RotateProb {
		d.Rotate = true
		d.Angle = g.cfg.MinAngle + g.rng.Intn(g.cfg.MaxAngle-g.cfg.MinAngle+1)
	}
	return d
}

// Sample produces a fresh random sample. idx only names the debug image; it
// does not influence content. Blank renders are redrawn up to MaxRedraws
// times before ErrEmptyRender is returned.
func (g *Generator) Sample(idx int) (*Sample, error) {
	for attempt := 1; attempt <= g.cfg.MaxRedraws; attempt++ {
		d := g.NextDraw()
		s, err := g.Render(idx, d)
		if errors.Is(err, ErrEmptyRender) {
			klog.V(1).Infof("sample %d: %q in %s rendered blank, redrawing (%d/%d)",
				idx, d.Text, d.Font.Path, attempt, g.cfg.MaxRedraws)
			continue
		}
		return s, err
	}
	return nil, fmt.Errorf("sample %d: %w after %d draws", idx, ErrEmptyRender, g.cfg.MaxRedraws)
}

// Render turns a fixed draw into a sample: a render on the working canvas to
// find the ink box, a second render centred on a canvas of the box size
// plus padding, optional rotation, then normalization.
//
// Text that does not fit the working canvas is clipped to it and the sample
// is marked Clipped.
func (g *Generator) Render(idx int, d Draw) (*Sample, error) {
	fontPath := g.catalog.FontPath(d.Font)
	face, err := g.fonts.Face(fontPath, g.cfg.FontSize)
	if err != nil {
		return nil, fmt.Errorf("sample %d: %w", idx, err)
	}
	defer face.Close()

	cw, ch := g.cfg.CanvasWidth, g.cfg.CanvasHeight
	ax, ay := float64(cw/2), float64(ch/2)
	work := renderText(face, d.Text, cw, ch, ax, ay)
	box := inkBounds(work)
	if box.Empty() {
		return nil, ErrEmptyRender
	}
	clipped := touchesEdge(box, work.Bounds())
	if clipped {
		klog.V(1).Infof("sample %d: %q in %s does not fit the %dx%d canvas, ink box %v is clipped",
			idx, d.Text, d.Font.Path, cw, ch, box)
	}

	// Shift the anchor so the ink box, not the advance box, lands centred.
	bx, by := rectCenter(box)
	tw, th := box.Dx()+g.cfg.Padding, box.Dy()+g.cfg.Padding
	var tight image.Image = renderText(face, d.Text, tw, th,
		float64(tw)/2-(bx-ax), float64(th)/2-(by-ay))

	if d.Rotate {
		tight = rotate(tight, d.Angle)
	}

	if g.cfg.SaveDir != "" {
		out := filepath.Join(g.cfg.SaveDir, fmt.Sprintf("%d.png", idx))
		if err := imaging.Save(tight, out); err != nil {
			return nil, fmt.Errorf("failed to save sample image %s: %w", out, err)
		}
	}

	return &Sample{
		Pixels:  normalize(tight, g.cfg.TargetSize, g.cfg.MaxSize),
		Label:   d.Font.Label,
		Clipped: clipped,
		Draw:    d,
	}, nil
}

// touchesEdge reports whether box reaches any side of bounds.
func touchesEdge(box, bounds image.Rectangle) bool {
	return box.Min.X <= bounds.Min.X || box.Min.Y <= bounds.Min.Y ||
		box.Max.X >= bounds.Max.X || box.Max.Y >= bounds.Max.Y
}
