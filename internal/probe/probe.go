// Package probe extracts duration, bitrate and resolution from time-based
// media. Image and PDF sources have no probe.
package probe

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/sirupsen/logrus"

	"media-compressor-go/internal/media"
)

// ErrNoMetadata is returned when a source decodes but carries nothing usable.
var ErrNoMetadata = errors.New("no usable metadata")

// Raw is what a backend reads from a file before derivation.
type Raw struct {
	DurationSeconds float64
	Width           int
	Height          int
}

// Metadata is the category-dependent metadata attached to a job.
type Metadata struct {
	DurationSeconds float64 `json:"durationSeconds"`
	BitrateKbps     int     `json:"bitrateKbps,omitempty"`
	Width           int     `json:"width,omitempty"`
	Height          int     `json:"height,omitempty"`
}

// Resolution returns "WxH", or "" when no dimensions are known.
func (m *Metadata) Resolution() string {
	if m == nil || m.Width <= 0 || m.Height <= 0 {
		return ""
	}
	return strconv.Itoa(m.Width) + "x" + strconv.Itoa(m.Height)
}

// Bitrate returns the audio bitrate rendered as "N kbps".
func (m *Metadata) Bitrate() string {
	if m == nil || m.BitrateKbps <= 0 {
		return ""
	}
	return strconv.Itoa(m.BitrateKbps) + " kbps"
}

// FormatDuration renders the duration as m:ss, rounded to whole seconds.
func (m *Metadata) FormatDuration() string {
	if m == nil {
		return ""
	}
	total := int(math.Round(m.DurationSeconds))
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

// Prober reads raw metadata from a file on disk.
type Prober interface {
	Probe(ctx context.Context, path string) (*Raw, error)
	Name() string
}

// Derive turns raw backend output into job metadata for the category.
// Audio bitrate is derived from the file size, not the container header.
func Derive(category media.Category, sizeBytes int64, raw *Raw) (*Metadata, error) {
	if raw == nil || raw.DurationSeconds <= 0 || math.IsNaN(raw.DurationSeconds) || math.IsInf(raw.DurationSeconds, 0) {
		return nil, ErrNoMetadata
	}

	md := &Metadata{DurationSeconds: raw.DurationSeconds}
	switch category {
	case media.CategoryAudio:
		md.BitrateKbps = BitrateKbps(sizeBytes, raw.DurationSeconds)
	case media.CategoryVideo:
		if raw.Width <= 0 || raw.Height <= 0 {
			return nil, fmt.Errorf("%w: missing video dimensions", ErrNoMetadata)
		}
		md.Width = raw.Width
		md.Height = raw.Height
	default:
		return nil, fmt.Errorf("category %s has no probe", category)
	}
	return md, nil
}

// BitrateKbps computes size*8 / (duration*1000), rounded to the nearest integer.
func BitrateKbps(sizeBytes int64, durationSeconds float64) int {
	if durationSeconds <= 0 {
		return 0
	}
	return int(math.Round(float64(sizeBytes) * 8 / (durationSeconds * 1000)))
}

// Service runs a prober for a source and derives its metadata.
type Service struct {
	prober Prober
	logger *logrus.Logger
}

// NewService returns a Service backed by prober.
func NewService(prober Prober, logger *logrus.Logger) *Service {
	return &Service{prober: prober, logger: logger}
}

// Probe extracts metadata for a time-based source.
func (s *Service) Probe(ctx context.Context, category media.Category, src media.SourceFile) (*Metadata, error) {
	if !category.IsTimeBased() {
		return nil, fmt.Errorf("category %s has no probe", category)
	}
	raw, err := s.prober.Probe(ctx, src.Path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.prober.Name(), err)
	}
	md, err := Derive(category, src.Size, raw)
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"file":     src.Name,
		"backend":  s.prober.Name(),
		"duration": md.DurationSeconds,
	}).Debug("Probed metadata")
	return md, nil
}
