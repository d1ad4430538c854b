// Package compressor implements one compression strategy per media category.
package compressor

import (
	"context"
	"fmt"
	"math"
	"os"
	"strconv"

	"media-compressor-go/internal/media"
)

// Output is a compressed file written into the workspace. The caller owns
// Path and must register it with the resource registry.
type Output struct {
	Path      string
	Size      int64
	Extension string
	MediaType string
}

// Strategy compresses one source file at a quality tier.
type Strategy interface {
	Compress(ctx context.Context, src media.SourceFile, tier media.Quality) (*Output, error)
}

// CompressionError reports a failed compression of a single source.
type CompressionError struct {
	Category media.Category
	Source   string
	Err      error
}

func (e *CompressionError) Error() string {
	return fmt.Sprintf("compress %s %q: %v", e.Category, e.Source, e.Err)
}

func (e *CompressionError) Unwrap() error {
	return e.Err
}

func newError(cat media.Category, src media.SourceFile, err error) *CompressionError {
	return &CompressionError{Category: cat, Source: src.Name, Err: err}
}

// SavingsPercent returns (original-compressed)/original*100 rounded to one
// decimal. Negative values mean the output grew. A zero original yields 0.
func SavingsPercent(original, compressed int64) float64 {
	if original <= 0 {
		return 0
	}
	p := float64(original-compressed) / float64(original) * 100
	return math.Round(p*10) / 10
}

// FormatSavings renders a savings percentage with one decimal, e.g. "40.0".
func FormatSavings(p float64) string {
	return strconv.FormatFloat(p, 'f', 1, 64)
}

// Set selects the Strategy for a category.
type Set struct {
	strategies map[media.Category]Strategy
}

// NewSet returns an empty Set.
func NewSet() *Set {
	return &Set{strategies: make(map[media.Category]Strategy)}
}

// Register installs s for cat, replacing any previous strategy.
func (s *Set) Register(cat media.Category, strategy Strategy) *Set {
	s.strategies[cat] = strategy
	return s
}

// For returns the strategy registered for cat.
func (s *Set) For(cat media.Category) (Strategy, error) {
	st, ok := s.strategies[cat]
	if !ok {
		return nil, fmt.Errorf("no compression strategy for category %s", cat)
	}
	return st, nil
}

// finish stats a written output and builds the Output, removing the file on failure.
func finish(path, ext, mediaType string) (*Output, error) {
	info, err := os.Stat(path)
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("stat output: %w", err)
	}
	if info.Size() == 0 {
		_ = os.Remove(path)
		return nil, fmt.Errorf("output is empty")
	}
	return &Output{Path: path, Size: info.Size(), Extension: ext, MediaType: mediaType}, nil
}
