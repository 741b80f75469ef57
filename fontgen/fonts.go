package fontgen

import (
	"fmt"
	"os"
	"sync"

	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/opentype"
)

// FontCache parses each font file once and hands out fresh faces.
//
// Parsed fonts are immutable and shared. Faces keep glyph caches and are not
// safe for concurrent use, so every render asks for its own.
type FontCache struct {
	mu    sync.Mutex
	fonts map[string]*parsedFont
}

// parsedFont holds exactly one of the two parsers' results. TrueType outlines
// go through freetype; CFF-flavoured OpenType files fall back to x/image.
type parsedFont struct {
	ttf *truetype.Font
	otf *opentype.Font
}

// NewFontCache returns an empty cache.
func NewFontCache() *FontCache {
	return &FontCache{fonts: make(map[string]*parsedFont)}
}

// Add registers in-memory font data under path, replacing any cached entry.
func (c *FontCache) Add(path string, data []byte) error {
	pf, err := parseFont(data)
	if err != nil {
		return fmt.Errorf("failed to parse font %s: %w", path, err)
	}
	c.mu.Lock()
	c.fonts[path] = pf
	c.mu.Unlock()
	return nil
}

// Face returns a new face for the font at path, sized in pixels.
func (c *FontCache) Face(path string, size float64) (font.Face, error) {
	pf, err := c.load(path)
	if err != nil {
		return nil, err
	}
	if pf.ttf != nil {
		return truetype.NewFace(pf.ttf, &truetype.Options{
			Size:    size,
			DPI:     72,
			Hinting: font.HintingNone,
		}), nil
	}
	face, err := opentype.NewFace(pf.otf, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create font face for %s: %w", path, err)
	}
	return face, nil
}

// Len returns the number of parsed fonts held.
func (c *FontCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.fonts)
}

func (c *FontCache) load(path string) (*parsedFont, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pf, ok := c.fonts[path]; ok {
		return pf, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read font %s: %w", path, err)
	}
	pf, err := parseFont(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse font %s: %w", path, err)
	}
	c.fonts[path] = pf
	return pf, nil
}

func parseFont(data []byte) (*parsedFont, error) {
	if f, err := truetype.Parse(data); err == nil {
		return &parsedFont{ttf: f}, nil
	}
	f, err := opentype.Parse(data)
	if err != nil {
		return nil, err
	}
	return &parsedFont{otf: f}, nil
}
