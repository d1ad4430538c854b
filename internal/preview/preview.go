// Package preview renders small previews of admitted sources.
package preview

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/webp"

	"media-compressor-go/internal/logger"
	"media-compressor-go/internal/media"
)

// ErrNoPreview is returned for categories that have no preview.
var ErrNoPreview = errors.New("no preview for this category")

// FrameExtractor grabs a single poster frame from a video.
type FrameExtractor interface {
	ExtractFrame(ctx context.Context, input, output string, width int) error
}

// FileAllocator hands out fresh preview paths.
type FileAllocator interface {
	NewFile(prefix, ext string) (string, error)
}

// Options configures a Generator.
type Options struct {
	Size         int
	VideoPreview bool
}

// Generator produces JPEG previews for images and videos.
type Generator struct {
	files  FileAllocator
	frames FrameExtractor
	opts   Options
	logger *logrus.Logger
}

// NewGenerator returns a Generator. frames may be nil to disable video posters.
func NewGenerator(files FileAllocator, frames FrameExtractor, opts Options, logger *logrus.Logger) *Generator {
	if opts.Size <= 0 {
		opts.Size = 320
	}
	return &Generator{files: files, frames: frames, opts: opts, logger: logger}
}

// Generate writes a preview for src and returns its path. The caller owns the file.
func (g *Generator) Generate(ctx context.Context, category media.Category, src media.SourceFile) (string, error) {
	switch category {
	case media.CategoryImage:
		return g.thumbnail(src)
	case media.CategoryVideo:
		if !g.opts.VideoPreview || g.frames == nil {
			return "", ErrNoPreview
		}
		return g.poster(ctx, src)
	default:
		return "", ErrNoPreview
	}
}

func (g *Generator) thumbnail(src media.SourceFile) (string, error) {
	img, err := imaging.Open(src.Path, imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("decode preview source: %w", err)
	}
	img = imaging.Fit(img, g.opts.Size, g.opts.Size, imaging.Box)

	path, err := g.files.NewFile("preview", "jpg")
	if err != nil {
		return "", err
	}
	if err := imaging.Save(img, path, imaging.JPEGQuality(75)); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("write preview: %w", err)
	}
	logger.WithFileOperation(g.logger, src.Name, "preview").Debug("Image preview rendered")
	return path, nil
}

func (g *Generator) poster(ctx context.Context, src media.SourceFile) (string, error) {
	path, err := g.files.NewFile("poster", "jpg")
	if err != nil {
		return "", err
	}
	if err := g.frames.ExtractFrame(ctx, src.Path, path, g.opts.Size); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("extract poster frame: %w", err)
	}
	if info, err := os.Stat(path); err != nil || info.Size() == 0 {
		_ = os.Remove(path)
		return "", fmt.Errorf("poster frame is empty")
	}
	logger.WithFileOperation(g.logger, src.Name, "poster").Debug("Video poster rendered")
	return path, nil
}
