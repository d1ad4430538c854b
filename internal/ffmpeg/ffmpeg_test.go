package ffmpeg

import (
	"context"
	"strings"
	"testing"

	"media-compressor-go/internal/logger"
	"media-compressor-go/internal/media"
)

func TestBuildTranscodeArgsAudio(t *testing.T) {
	tests := []struct {
		container string
		codec     string
	}{
		{"mp3", "libmp3lame"},
		{"ogg", "libvorbis"},
		{"m4a", "aac"},
	}
	for _, tt := range tests {
		t.Run(tt.container, func(t *testing.T) {
			args, err := BuildTranscodeArgs(Request{
				Category:    media.CategoryAudio,
				Input:       "in",
				Output:      "out." + tt.container,
				Container:   tt.container,
				BitrateKbps: 192,
			})
			if err != nil {
				t.Fatalf("BuildTranscodeArgs: %v", err)
			}
			joined := strings.Join(args, " ")
			if !strings.Contains(joined, "-c:a "+tt.codec) {
				t.Errorf("args %q missing codec %s", joined, tt.codec)
			}
			if !strings.Contains(joined, "-b:a 192k") {
				t.Errorf("args %q missing bitrate", joined)
			}
			if args[len(args)-1] != "out."+tt.container {
				t.Errorf("output must be last, got %q", args[len(args)-1])
			}
		})
	}
}

func TestBuildTranscodeArgsVideo(t *testing.T) {
	args, err := BuildTranscodeArgs(Request{
		Category:  media.CategoryVideo,
		Input:     "in.webm",
		Output:    "out.webm",
		Container: "webm",
		MaxHeight: 720,
	})
	if err != nil {
		t.Fatalf("BuildTranscodeArgs: %v", err)
	}
	joined := strings.Join(args, " ")
	for _, want := range []string{"scale=-2:'min(ih,720)'", "-c:v libvpx-vp9", "-c:a libopus"} {
		if !strings.Contains(joined, want) {
			t.Errorf("args %q missing %q", joined, want)
		}
	}
}

func TestBuildTranscodeArgsRejects(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{"no bitrate", Request{Category: media.CategoryAudio, Container: "mp3"}},
		{"no height", Request{Category: media.CategoryVideo, Container: "mp4"}},
		{"bad audio container", Request{Category: media.CategoryAudio, Container: "flac", BitrateKbps: 128}},
		{"bad video container", Request{Category: media.CategoryVideo, Container: "mkv", MaxHeight: 480}},
		{"image", Request{Category: media.CategoryImage}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := BuildTranscodeArgs(tt.req); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestTail(t *testing.T) {
	got := Tail("a\n\nb\nc\nd\n", 2)
	if got != "c | d" {
		t.Fatalf("Tail = %q", got)
	}
	if Tail("", 3) != "" {
		t.Fatal("Tail of empty string should be empty")
	}
}

func TestTranscodeMissingBinary(t *testing.T) {
	tr := NewTranscoder("/nonexistent/ffmpeg-binary", logger.Discard())
	err := tr.Transcode(context.Background(), Request{
		Category:    media.CategoryAudio,
		Input:       "in.mp3",
		Output:      "out.mp3",
		Container:   "mp3",
		BitrateKbps: 128,
	})
	if err == nil {
		t.Fatal("expected error for missing binary")
	}
}
