package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrInputMissing is returned when the input directory does not exist.
var ErrInputMissing = errors.New("input directory not found")

// DirSource reads *.csv files from a local directory.
type DirSource struct {
	Dir       string
	Recursive bool
}

// Location returns the directory.
func (s DirSource) Location() string {
	return s.Dir
}

// Discover lists CSV files sorted by path.
func (s DirSource) Discover(ctx context.Context) ([]string, error) {
	info, err := os.Stat(s.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("Discover: %s: %w", s.Dir, ErrInputMissing)
		}
		return nil, fmt.Errorf("Discover: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("Discover: %s is not a directory: %w", s.Dir, ErrInputMissing)
	}

	var files []string
	err = filepath.WalkDir(s.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if path != s.Dir && !s.Recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".csv") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("Discover: walk %s: %w", s.Dir, err)
	}

	sort.Strings(files)
	return files, nil
}

// Read returns the file contents.
func (s DirSource) Read(_ context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("Read: %w", err)
	}
	return data, nil
}
