package compressor

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/webp"

	"media-compressor-go/internal/media"
)

// FileAllocator hands out fresh output paths.
type FileAllocator interface {
	NewFile(prefix, ext string) (string, error)
}

// ImageTier bounds the longest side and the lossy quality factor.
type ImageTier struct {
	MaxDimension int
	Quality      float64
}

var imageTiers = map[media.Quality]ImageTier{
	media.QualityLow:    {MaxDimension: 1600, Quality: 0.6},
	media.QualityMedium: {MaxDimension: 1800, Quality: 0.8},
	media.QualityHigh:   {MaxDimension: 2000, Quality: 0.9},
}

// ImageTierFor returns the tier table entry for q (medium when unknown).
func ImageTierFor(q media.Quality) ImageTier {
	if t, ok := imageTiers[q]; ok {
		return t
	}
	return imageTiers[media.QualityMedium]
}

// ImageOptions controls PNG handling.
type ImageOptions struct {
	// ConvertPNG re-encodes PNG sources larger than ConvertSizeBytes as JPEG.
	ConvertPNG       bool
	ConvertSizeBytes int64
}

// ImageStrategy re-encodes raster images within the tier's dimension bound.
type ImageStrategy struct {
	files  FileAllocator
	opts   ImageOptions
	logger *logrus.Logger
}

// NewImageStrategy returns an ImageStrategy writing outputs through files.
func NewImageStrategy(files FileAllocator, opts ImageOptions, logger *logrus.Logger) *ImageStrategy {
	return &ImageStrategy{files: files, opts: opts, logger: logger}
}

// Compress decodes src, applies EXIF orientation, fits it inside the tier's
// bound without enlarging and encodes it as JPEG or PNG.
func (s *ImageStrategy) Compress(ctx context.Context, src media.SourceFile, tier media.Quality) (*Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t := ImageTierFor(tier)

	img, err := imaging.Open(src.Path)
	if err != nil {
		return nil, newError(media.CategoryImage, src, fmt.Errorf("decode: %w", err))
	}
	img = applyOrientation(img, readOrientation(src.Path))

	b := img.Bounds()
	if b.Dx() > t.MaxDimension || b.Dy() > t.MaxDimension {
		img = imaging.Fit(img, t.MaxDimension, t.MaxDimension, imaging.Lanczos)
	}

	keepPNG := s.keepPNG(src)
	ext, mediaType := "jpg", "image/jpeg"
	if keepPNG {
		ext, mediaType = "png", "image/png"
	}

	path, err := s.files.NewFile("compressed", ext)
	if err != nil {
		return nil, newError(media.CategoryImage, src, err)
	}
	out, err := os.Create(path)
	if err != nil {
		_ = os.Remove(path)
		return nil, newError(media.CategoryImage, src, err)
	}

	if keepPNG {
		err = imaging.Encode(out, img, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression))
	} else {
		quality := int(math.Round(t.Quality * 100))
		err = imaging.Encode(out, flatten(img), imaging.JPEG, imaging.JPEGQuality(quality))
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return nil, newError(media.CategoryImage, src, fmt.Errorf("encode: %w", err))
	}

	res, err := finish(path, ext, mediaType)
	if err != nil {
		return nil, newError(media.CategoryImage, src, err)
	}
	s.logger.WithFields(logrus.Fields{
		"file":       src.Name,
		"tier":       tier,
		"original":   src.Size,
		"compressed": res.Size,
		"width":      img.Bounds().Dx(),
		"height":     img.Bounds().Dy(),
	}).Debug("Image compressed")
	return res, nil
}

func (s *ImageStrategy) keepPNG(src media.SourceFile) bool {
	isPNG := src.Ext() == "png" || media.Normalize(src.MediaType) == "image/png"
	if !isPNG {
		return false
	}
	return !(s.opts.ConvertPNG && src.Size > s.opts.ConvertSizeBytes)
}

// flatten composites transparent pixels onto white before lossy encoding.
func flatten(img image.Image) image.Image {
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		return img
	}
	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}

// readOrientation returns the EXIF orientation tag, or 1 when absent.
func readOrientation(path string) int {
	f, err := os.Open(path)
	if err != nil {
		return 1
	}
	defer f.Close()
	x, err := exif.Decode(f)
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	o, err := tag.Int(0)
	if err != nil {
		return 1
	}
	return o
}

func applyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}
