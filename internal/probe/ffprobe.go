package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// FFProbe reads metadata with a single ffprobe JSON call.
type FFProbe struct {
	binary string
}

// NewFFProbe returns an FFProbe that runs binary ("ffprobe" when empty).
func NewFFProbe(binary string) *FFProbe {
	if binary == "" {
		binary = "ffprobe"
	}
	return &FFProbe{binary: binary}
}

// Name returns the backend name.
func (p *FFProbe) Name() string { return "ffprobe" }

// Probe runs ffprobe against path.
func (p *FFProbe) Probe(ctx context.Context, path string) (*Raw, error) {
	cmd := exec.CommandContext(ctx, p.binary,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format", "-show_streams",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe %q: %w", path, err)
	}
	return ParseJSON(out)
}

// ParseJSON converts raw ffprobe JSON output into Raw metadata.
// Exported for testing without a real ffprobe binary.
func ParseJSON(data []byte) (*Raw, error) {
	var out ffprobeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse ffprobe JSON: %w", err)
	}

	raw := &Raw{DurationSeconds: parseFloat(out.Format.Duration)}
	for _, s := range out.Streams {
		if s.CodecType != "video" || s.Disposition["attached_pic"] == 1 {
			continue
		}
		raw.Width, raw.Height = s.Width, s.Height
		if raw.DurationSeconds <= 0 {
			raw.DurationSeconds = parseFloat(s.Duration)
		}
		break
	}
	if raw.DurationSeconds <= 0 {
		for _, s := range out.Streams {
			if d := parseFloat(s.Duration); d > 0 {
				raw.DurationSeconds = d
				break
			}
		}
	}
	return raw, nil
}

// --- ffprobe JSON wire types ---

type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	Filename   string `json:"filename"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
}

type ffprobeStream struct {
	Index       int            `json:"index"`
	CodecName   string         `json:"codec_name"`
	CodecType   string         `json:"codec_type"`
	Width       int            `json:"width"`
	Height      int            `json:"height"`
	Duration    string         `json:"duration"`
	Disposition map[string]int `json:"disposition"`
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}
