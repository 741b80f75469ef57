package fontgen

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"k8s.io/klog/v2"
)

// ErrEmptyCatalog is returned when a font catalog has no entries.
var ErrEmptyCatalog = errors.New("font catalog is empty")

// FontEntry is one line of the font catalog: the class label and the font
// file path relative to the catalog's font directory.
type FontEntry struct {
	Label int
	Path  string
}

// Catalog is the set of fonts the generator samples from.
type Catalog struct {
	// Dir is the directory font paths are resolved against.
	Dir string

	Entries []FontEntry
}

// LoadCatalog reads a `label|relative_font_path` file. Fonts are resolved
// against fontDir.
func LoadCatalog(path, fontDir string) (*Catalog, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open font catalog %s: %w", path, err)
	}
	defer file.Close()

	entries, err := ParseCatalog(file, path)
	if err != nil {
		return nil, err
	}
	klog.Infof("Got %d fonts from %s", len(entries), path)
	return &Catalog{Dir: fontDir, Entries: entries}, nil
}

// ParseCatalog parses catalog lines from r. name is only used in error
// messages. Blank lines are skipped; anything else that is not a valid
// entry fails the parse. Labels must lie in [0, number of entries).
func ParseCatalog(r io.Reader, name string) ([]FontEntry, error) {
	var entries []FontEntry
	var lineNos []int

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.Split(line, "|")
		if len(parts) != 2 {
			return nil, fmt.Errorf("%s:%d: expected label|font_path, got %q", name, lineNo, line)
		}
		label, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return nil, fmt.Errorf("%s:%d: invalid label %q: %w", name, lineNo, parts[0], err)
		}
		fontPath := strings.TrimSpace(parts[1])
		if fontPath == "" {
			return nil, fmt.Errorf("%s:%d: empty font path", name, lineNo)
		}
		entries = append(entries, FontEntry{Label: label, Path: fontPath})
		lineNos = append(lineNos, lineNo)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read font catalog %s: %w", name, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%s: %w", name, ErrEmptyCatalog)
	}

	for i, e := range entries {
		if e.Label < 0 || e.Label >= len(entries) {
			return nil, fmt.Errorf("%s:%d: label %d out of range [0, %d)", name, lineNos[i], e.Label, len(entries))
		}
	}
	return entries, nil
}

// Len returns the number of catalog entries.
func (c *Catalog) Len() int { return len(c.Entries) }

// NumClasses is the size of the label space: the largest label plus one.
func (c *Catalog) NumClasses() int {
	n := 0
	for _, e := range c.Entries {
		if e.Label+1 > n {
			n = e.Label + 1
		}
	}
	return n
}

// FontPath resolves an entry's font file against the catalog directory.
func (c *Catalog) FontPath(e FontEntry) string {
	if filepath.IsAbs(e.Path) {
		return e.Path
	}
	return filepath.Join(c.Dir, e.Path)
}
