// Package ffmpeg runs the ffmpeg binary for audio/video transcoding and
// poster-frame extraction.
package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"media-compressor-go/internal/media"
)

// stderrTailLines is how many trailing stderr lines are kept in errors.
const stderrTailLines = 8

// Request describes one transcode.
type Request struct {
	Category media.Category
	Input    string
	Output   string
	// Container is the output extension without the dot (mp3, mp4, webm...).
	Container string
	// BitrateKbps is the target audio bitrate. Audio only.
	BitrateKbps int
	// MaxHeight caps the output height; smaller sources are not enlarged. Video only.
	MaxHeight int
}

// BuildTranscodeArgs returns the ffmpeg arguments (without the binary) for req.
func BuildTranscodeArgs(req Request) ([]string, error) {
	args := []string{"-hide_banner", "-nostdin", "-y", "-i", req.Input}

	switch req.Category {
	case media.CategoryAudio:
		if req.BitrateKbps <= 0 {
			return nil, fmt.Errorf("audio transcode needs a positive bitrate")
		}
		codec, err := audioCodec(req.Container)
		if err != nil {
			return nil, err
		}
		args = append(args, "-vn", "-map_metadata", "0",
			"-c:a", codec, "-b:a", strconv.Itoa(req.BitrateKbps)+"k")

	case media.CategoryVideo:
		if req.MaxHeight <= 0 {
			return nil, fmt.Errorf("video transcode needs a positive height")
		}
		vcodec, acodec, extra, err := videoCodecs(req.Container)
		if err != nil {
			return nil, err
		}
		args = append(args,
			"-vf", fmt.Sprintf("scale=-2:'min(ih,%d)'", req.MaxHeight),
			"-c:v", vcodec)
		args = append(args, extra...)
		args = append(args, "-c:a", acodec)
		if req.Container == "mp4" || req.Container == "mov" {
			args = append(args, "-movflags", "+faststart")
		}

	default:
		return nil, fmt.Errorf("category %s is not transcoded", req.Category)
	}

	return append(args, req.Output), nil
}

func audioCodec(container string) (string, error) {
	switch container {
	case "mp3":
		return "libmp3lame", nil
	case "ogg":
		return "libvorbis", nil
	case "m4a", "aac":
		return "aac", nil
	default:
		return "", fmt.Errorf("unsupported audio container %q", container)
	}
}

func videoCodecs(container string) (vcodec, acodec string, extra []string, err error) {
	switch container {
	case "mp4", "mov":
		return "libx264", "aac", []string{"-preset", "medium", "-crf", "23", "-pix_fmt", "yuv420p"}, nil
	case "webm":
		return "libvpx-vp9", "libopus", []string{"-crf", "33", "-b:v", "0"}, nil
	case "avi":
		return "mpeg4", "libmp3lame", []string{"-q:v", "5"}, nil
	default:
		return "", "", nil, fmt.Errorf("unsupported video container %q", container)
	}
}

// Transcoder executes ffmpeg.
type Transcoder struct {
	binary string
	logger *logrus.Logger
}

// NewTranscoder returns a Transcoder running binary ("ffmpeg" when empty).
func NewTranscoder(binary string, logger *logrus.Logger) *Transcoder {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &Transcoder{binary: binary, logger: logger}
}

// Transcode runs a single transcode. Errors carry the tail of ffmpeg's stderr.
func (t *Transcoder) Transcode(ctx context.Context, req Request) error {
	args, err := BuildTranscodeArgs(req)
	if err != nil {
		return err
	}
	t.logger.WithFields(logrus.Fields{
		"input":  req.Input,
		"output": req.Output,
	}).Debugf("Running %s %s", t.binary, strings.Join(args, " "))
	return t.run(ctx, args)
}

// ExtractFrame writes a single JPEG frame from input to output, scaled to width.
func (t *Transcoder) ExtractFrame(ctx context.Context, input, output string, width int) error {
	if width <= 0 {
		width = 320
	}
	args := []string{
		"-hide_banner", "-nostdin", "-y",
		"-ss", "1", "-i", input,
		"-frames:v", "1",
		"-vf", fmt.Sprintf("thumbnail,scale='min(iw,%d)':-2", width),
		"-q:v", "4",
		output,
	}
	if err := t.run(ctx, args); err != nil {
		// Clips shorter than the seek offset yield no frame; retry from the start.
		args[4] = "0"
		return t.run(ctx, args)
	}
	return nil
}

func (t *Transcoder) run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, t.binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if tail := Tail(stderr.String(), stderrTailLines); tail != "" {
			return fmt.Errorf("%s: %w: %s", t.binary, err, tail)
		}
		return fmt.Errorf("%s: %w", t.binary, err)
	}
	return nil
}

// Tail returns the last n non-empty lines of s joined by " | ".
func Tail(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	var kept []string
	for i := len(lines) - 1; i >= 0 && len(kept) < n; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			kept = append([]string{l}, kept...)
		}
	}
	return strings.Join(kept, " | ")
}
