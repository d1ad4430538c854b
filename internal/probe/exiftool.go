package probe

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/barasher/go-exiftool"
)

// ExifTool reads metadata through a stay-open exiftool process.
type ExifTool struct {
	binary string
}

// NewExifTool returns an ExifTool prober running binary ("exiftool" when empty).
func NewExifTool(binary string) *ExifTool {
	return &ExifTool{binary: binary}
}

// Name returns the backend name.
func (e *ExifTool) Name() string { return "exiftool" }

// Probe extracts Duration, ImageWidth and ImageHeight from path.
func (e *ExifTool) Probe(ctx context.Context, path string) (*Raw, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var opts []func(*exiftool.Exiftool) error
	if e.binary != "" {
		opts = append(opts, exiftool.SetExiftoolBinaryPath(e.binary))
	}
	et, err := exiftool.NewExiftool(opts...)
	if err != nil {
		return nil, fmt.Errorf("start exiftool: %w", err)
	}
	defer et.Close()

	files := et.ExtractMetadata(path)
	if len(files) == 0 {
		return nil, fmt.Errorf("exiftool returned no metadata for %s", path)
	}
	if files[0].Err != nil {
		return nil, files[0].Err
	}
	return rawFromFields(files[0].Fields)
}

func rawFromFields(fields map[string]interface{}) (*Raw, error) {
	raw := &Raw{}
	if v, ok := fields["Duration"]; ok {
		d, err := parseExifDuration(v)
		if err != nil {
			return nil, err
		}
		raw.DurationSeconds = d
	}
	raw.Width = fieldInt(fields, "ImageWidth")
	raw.Height = fieldInt(fields, "ImageHeight")
	return raw, nil
}

// parseExifDuration accepts the renderings exiftool uses for Duration:
// a bare number, "12.34 s", or "h:mm:ss" (optionally suffixed "(approx)").
func parseExifDuration(v interface{}) (float64, error) {
	switch d := v.(type) {
	case float64:
		return d, nil
	case int:
		return float64(d), nil
	case int64:
		return float64(d), nil
	case string:
		s := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(d), "(approx)"))
		s = strings.TrimSpace(strings.TrimSuffix(s, "s"))
		if !strings.Contains(s, ":") {
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return 0, fmt.Errorf("parse duration %q: %w", d, err)
			}
			return f, nil
		}
		var total float64
		for _, part := range strings.Split(s, ":") {
			f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
			if err != nil {
				return 0, fmt.Errorf("parse duration %q: %w", d, err)
			}
			total = total*60 + f
		}
		return total, nil
	default:
		return 0, fmt.Errorf("unexpected duration type %T", v)
	}
}

func fieldInt(fields map[string]interface{}, key string) int {
	switch v := fields[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(strings.TrimSpace(v))
		return n
	default:
		return 0
	}
}
