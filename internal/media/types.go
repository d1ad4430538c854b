package media

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// AcceptSet decides which declared media types a category admits.
// Entries ending in "/*" match a whole top-level type.
type AcceptSet struct {
	exact    map[string]struct{}
	prefixes []string
}

// NewAcceptSet builds an AcceptSet from configured media types.
func NewAcceptSet(types []string) AcceptSet {
	s := AcceptSet{exact: make(map[string]struct{})}
	for _, t := range types {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if strings.HasSuffix(t, "/*") {
			s.prefixes = append(s.prefixes, strings.TrimSuffix(t, "*"))
			continue
		}
		s.exact[t] = struct{}{}
	}
	return s
}

// Accepts reports whether mediaType belongs to the set.
func (s AcceptSet) Accepts(mediaType string) bool {
	mt := Normalize(mediaType)
	if mt == "" {
		return false
	}
	if _, ok := s.exact[mt]; ok {
		return true
	}
	for _, p := range s.prefixes {
		if strings.HasPrefix(mt, p) {
			return true
		}
	}
	return false
}

// Normalize lower-cases a media type and strips its parameters.
func Normalize(mediaType string) string {
	mediaType = strings.TrimSpace(mediaType)
	if mediaType == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(mediaType); err == nil {
		return mt
	}
	if i := strings.Index(mediaType, ";"); i >= 0 {
		mediaType = mediaType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mediaType))
}

// Classify returns the first category whose set accepts mediaType.
func Classify(mediaType string, sets map[Category]AcceptSet) (Category, bool) {
	for _, c := range Categories() {
		if set, ok := sets[c]; ok && set.Accepts(mediaType) {
			return c, true
		}
	}
	return "", false
}

// DetectFile sniffs the media type of a file on disk.
func DetectFile(path string) (string, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("detect media type: %w", err)
	}
	return Normalize(mt.String()), nil
}

// DetectReader sniffs the media type from the head of r.
func DetectReader(r io.Reader) (string, error) {
	mt, err := mimetype.DetectReader(r)
	if err != nil {
		return "", fmt.Errorf("detect media type: %w", err)
	}
	return Normalize(mt.String()), nil
}

// NewSourceFile describes a file on disk, declaring the sniffed media type.
func NewSourceFile(path string) (SourceFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return SourceFile{}, fmt.Errorf("stat source: %w", err)
	}
	if info.IsDir() {
		return SourceFile{}, fmt.Errorf("source is a directory: %s", path)
	}
	mt, err := DetectFile(path)
	if err != nil {
		return SourceFile{}, err
	}
	return SourceFile{
		Name:      filepath.Base(path),
		Path:      path,
		MediaType: mt,
		Size:      info.Size(),
	}, nil
}
