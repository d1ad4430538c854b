package compressor

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/sirupsen/logrus"

	"media-compressor-go/internal/media"
)

var disableConfigDir sync.Once

// PDFStrategy re-serialises a document's object graph. Page content is never
// rasterised; the tier only changes how aggressively objects are shared.
type PDFStrategy struct {
	files  FileAllocator
	logger *logrus.Logger
}

// NewPDFStrategy returns a PDFStrategy writing outputs through files.
func NewPDFStrategy(files FileAllocator, logger *logrus.Logger) *PDFStrategy {
	disableConfigDir.Do(api.DisableConfigDir)
	return &PDFStrategy{files: files, logger: logger}
}

// pdfConfig returns the pdfcpu configuration for a tier. Every tier writes
// object and xref streams and deduplicates shared resources; Low also merges
// identical content streams. Page content is never re-encoded.
func pdfConfig(tier media.Quality) *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.WriteObjectStream = true
	conf.WriteXRefStream = true
	conf.OptimizeResourceDicts = true
	conf.OptimizeDuplicateContentStreams = tier == media.QualityLow
	return conf
}

// Compress optimises src into a new PDF. Unparseable input is a CompressionError.
func (s *PDFStrategy) Compress(ctx context.Context, src media.SourceFile, tier media.Quality) (*Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	in, err := os.Open(src.Path)
	if err != nil {
		return nil, newError(media.CategoryPDF, src, err)
	}
	defer in.Close()

	path, err := s.files.NewFile("compressed", "pdf")
	if err != nil {
		return nil, newError(media.CategoryPDF, src, err)
	}
	out, err := os.Create(path)
	if err != nil {
		_ = os.Remove(path)
		return nil, newError(media.CategoryPDF, src, err)
	}

	err = optimize(in, out, tier)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return nil, newError(media.CategoryPDF, src, fmt.Errorf("optimize: %w", err))
	}

	res, err := finish(path, "pdf", "application/pdf")
	if err != nil {
		return nil, newError(media.CategoryPDF, src, err)
	}
	s.logger.WithFields(logrus.Fields{
		"file":       src.Name,
		"tier":       tier,
		"original":   src.Size,
		"compressed": res.Size,
	}).Debug("PDF compressed")
	return res, nil
}

// optimize runs pdfcpu, converting its panics on malformed input into errors.
func optimize(in *os.File, out *os.File, tier media.Quality) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed document: %v", r)
		}
	}()
	return api.Optimize(in, out, pdfConfig(tier))
}
