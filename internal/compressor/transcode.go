package compressor

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"media-compressor-go/internal/ffmpeg"
	"media-compressor-go/internal/media"
)

// Transcoder is the external audio/video encoder.
type Transcoder interface {
	Transcode(ctx context.Context, req ffmpeg.Request) error
}

var audioBitrates = map[media.Quality]int{
	media.QualityLow:    128,
	media.QualityMedium: 192,
	media.QualityHigh:   320,
}

var videoHeights = map[media.Quality]int{
	media.QualityLow:    480,
	media.QualityMedium: 720,
	media.QualityHigh:   1080,
}

// AudioBitrateFor returns the target bitrate in kbps for q.
func AudioBitrateFor(q media.Quality) int {
	if b, ok := audioBitrates[q]; ok {
		return b
	}
	return audioBitrates[media.QualityMedium]
}

// VideoHeightFor returns the maximum output height for q.
func VideoHeightFor(q media.Quality) int {
	if h, ok := videoHeights[q]; ok {
		return h
	}
	return videoHeights[media.QualityMedium]
}

// containers maps source extensions and media types to the output container.
var containers = map[media.Category]map[string]string{
	media.CategoryAudio: {
		"mp3": "mp3", "audio/mpeg": "mp3",
		"ogg": "ogg", "oga": "ogg", "audio/ogg": "ogg",
		"m4a": "m4a", "aac": "m4a", "audio/m4a": "m4a", "audio/x-m4a": "m4a", "audio/mp4": "m4a",
		// PCM has no bitrate control.
		"wav": "mp3", "audio/wav": "mp3", "audio/x-wav": "mp3",
	},
	media.CategoryVideo: {
		"mp4": "mp4", "m4v": "mp4", "video/mp4": "mp4",
		"webm": "webm", "video/webm": "webm",
		"mov": "mov", "video/quicktime": "mov",
		"avi": "avi", "video/x-msvideo": "avi",
	},
}

var containerTypes = map[string]string{
	"mp3":  "audio/mpeg",
	"ogg":  "audio/ogg",
	"m4a":  "audio/mp4",
	"mp4":  "video/mp4",
	"webm": "video/webm",
	"mov":  "video/quicktime",
	"avi":  "video/x-msvideo",
}

// OutputContainer picks the output container for src, keeping the source
// container whenever the encoder supports it.
func OutputContainer(cat media.Category, src media.SourceFile) string {
	table := containers[cat]
	if c, ok := table[src.Ext()]; ok {
		return c
	}
	if c, ok := table[media.Normalize(src.MediaType)]; ok {
		return c
	}
	if cat == media.CategoryVideo {
		return "mp4"
	}
	return "mp3"
}

// MediaStrategy compresses audio or video through a Transcoder.
type MediaStrategy struct {
	category   media.Category
	transcoder Transcoder
	files      FileAllocator
	logger     *logrus.Logger
}

// NewAudioStrategy returns the audio strategy.
func NewAudioStrategy(t Transcoder, files FileAllocator, logger *logrus.Logger) *MediaStrategy {
	return &MediaStrategy{category: media.CategoryAudio, transcoder: t, files: files, logger: logger}
}

// NewVideoStrategy returns the video strategy.
func NewVideoStrategy(t Transcoder, files FileAllocator, logger *logrus.Logger) *MediaStrategy {
	return &MediaStrategy{category: media.CategoryVideo, transcoder: t, files: files, logger: logger}
}

// Compress transcodes src at the tier's bitrate or height.
func (s *MediaStrategy) Compress(ctx context.Context, src media.SourceFile, tier media.Quality) (*Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	container := OutputContainer(s.category, src)
	path, err := s.files.NewFile("compressed", container)
	if err != nil {
		return nil, newError(s.category, src, err)
	}

	req := ffmpeg.Request{
		Category:  s.category,
		Input:     src.Path,
		Output:    path,
		Container: container,
	}
	if s.category == media.CategoryAudio {
		req.BitrateKbps = AudioBitrateFor(tier)
	} else {
		req.MaxHeight = VideoHeightFor(tier)
	}

	if err := s.transcoder.Transcode(ctx, req); err != nil {
		_ = os.Remove(path)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, newError(s.category, src, fmt.Errorf("transcode: %w", err))
	}

	res, err := finish(path, container, containerTypes[container])
	if err != nil {
		return nil, newError(s.category, src, err)
	}
	s.logger.WithFields(logrus.Fields{
		"file":       src.Name,
		"category":   s.category,
		"tier":       tier,
		"original":   src.Size,
		"compressed": res.Size,
	}).Debug("Media transcoded")
	return res, nil
}
