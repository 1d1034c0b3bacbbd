package source

import (
	"context"
	"fmt"
	"os"
)

// FileSource reads the export from a local CSV file.
type FileSource struct {
	path     string
	maxBytes int64
}

func NewFileSource(path string, maxBytes int64) *FileSource {
	return &FileSource{path: path, maxBytes: maxBytes}
}

func (f *FileSource) Name() string { return "file" }

func (f *FileSource) Fetch(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fh, err := os.Open(f.path)
	if err != nil {
		return "", fmt.Errorf("open export: %w", err)
	}
	defer fh.Close()
	return readLimited(fh, f.maxBytes)
}
