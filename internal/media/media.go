package media

import (
	"fmt"
	"strings"

	"media-compressor-go/internal/resource"
)

// Category is the media family a batch is scoped to.
type Category string

const (
	CategoryImage Category = "image"
	CategoryPDF   Category = "pdf"
	CategoryAudio Category = "audio"
	CategoryVideo Category = "video"
)

// Categories lists every category in presentation order.
func Categories() []Category {
	return []Category{CategoryImage, CategoryPDF, CategoryAudio, CategoryVideo}
}

// ParseCategory converts user input into a Category.
func ParseCategory(s string) (Category, error) {
	switch Category(strings.ToLower(strings.TrimSpace(s))) {
	case CategoryImage, "images":
		return CategoryImage, nil
	case CategoryPDF, "pdfs":
		return CategoryPDF, nil
	case CategoryAudio:
		return CategoryAudio, nil
	case CategoryVideo, "videos":
		return CategoryVideo, nil
	default:
		return "", fmt.Errorf("unknown category: %q (valid: image, pdf, audio, video)", s)
	}
}

// String returns the string representation of the Category.
func (c Category) String() string {
	return string(c)
}

// IsTimeBased reports whether the category carries duration metadata.
func (c Category) IsTimeBased() bool {
	return c == CategoryAudio || c == CategoryVideo
}

// Quality is a named compression strength preset.
type Quality string

const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
)

// ParseQuality converts user input into a Quality tier.
func ParseQuality(s string) (Quality, error) {
	switch Quality(strings.ToLower(strings.TrimSpace(s))) {
	case QualityLow:
		return QualityLow, nil
	case "", QualityMedium:
		return QualityMedium, nil
	case QualityHigh:
		return QualityHigh, nil
	default:
		return "", fmt.Errorf("unknown quality: %q (valid: low, medium, high)", s)
	}
}

// String returns the string representation of the Quality.
func (q Quality) String() string {
	return string(q)
}

// SourceFile is an immutable reference to a submitted file.
type SourceFile struct {
	Name      string
	Path      string
	MediaType string
	Size      int64

	// Handle is set when Path is a transient copy (an upload). Ownership of the
	// handle passes to the batch only when the file is admitted.
	Handle resource.Token
}

// Stem returns the file name without its extension.
func (s SourceFile) Stem() string {
	name := s.Name
	if i := strings.LastIndex(name, "."); i > 0 {
		return name[:i]
	}
	return name
}

// Ext returns the lower-cased extension of the file name without the dot.
func (s SourceFile) Ext() string {
	name := s.Name
	if i := strings.LastIndex(name, "."); i >= 0 && i < len(name)-1 {
		return strings.ToLower(name[i+1:])
	}
	return ""
}
