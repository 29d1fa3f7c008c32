package source

import (
	"context"
	"fmt"
	"os"

	"github.com/kailas-cloud/policyrag/internal/domain/policy"
)

// FileLoader reads the corpus from a local JSON file.
type FileLoader struct {
	path string
}

// NewFileLoader creates a loader for path.
func NewFileLoader(path string) *FileLoader {
	return &FileLoader{path: path}
}

// Load implements Loader.
func (l *FileLoader) Load(_ context.Context) (policy.Corpus, error) {
	f, err := os.Open(l.path)
	if err != nil {
		return policy.Corpus{}, fmt.Errorf("open corpus: %w", err)
	}
	defer f.Close()
	return policy.Decode(f)
}

// Name implements Loader.
func (l *FileLoader) Name() string { return l.path }

// Path returns the corpus file path.
func (l *FileLoader) Path() string { return l.path }
