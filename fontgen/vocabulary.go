package fontgen

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"k8s.io/klog/v2"
)

// ErrEmptyVocabulary is returned when a vocabulary file holds no usable lines.
var ErrEmptyVocabulary = errors.New("vocabulary is empty")

// Vocabulary is the ordered list of strings the generator renders.
type Vocabulary []string

// LoadVocabulary reads one string per line from a UTF-8 file. Lines are
// trimmed; blank lines are dropped since they render to nothing.
func LoadVocabulary(path string) (Vocabulary, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open vocabulary %s: %w", path, err)
	}
	defer file.Close()

	var v Vocabulary
	blank := 0
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			blank++
			continue
		}
		v = append(v, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read vocabulary %s: %w", path, err)
	}
	if blank > 0 {
		klog.Warningf("vocabulary %s: dropped %d blank lines", path, blank)
	}
	if len(v) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrEmptyVocabulary)
	}
	klog.Infof("Got %d words from %s", len(v), path)
	return v, nil
}
