// Package saver persists compressed outputs to user-controlled storage.
package saver

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"media-compressor-go/internal/logger"
)

// DirSaver writes files into a directory. Existing files are never
// overwritten; a numeric suffix is added instead.
type DirSaver struct {
	dir    string
	logger *logrus.Logger

	mu    sync.Mutex
	saved []string
}

// NewDirSaver creates dir if needed and returns a DirSaver for it.
func NewDirSaver(dir string, logger *logrus.Logger) (*DirSaver, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	return &DirSaver{dir: dir, logger: logger}, nil
}

// Save copies r into the directory under name.
func (s *DirSaver) Save(ctx context.Context, name string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name = filepath.Base(name)

	s.mu.Lock()
	defer s.mu.Unlock()

	f, path, err := createUnique(s.dir, name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		_ = os.Remove(path)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return err
	}
	s.saved = append(s.saved, path)
	logger.WithFileOperation(s.logger, path, "save").Info("Saved compressed file")
	return nil
}

// Saved returns the paths written so far.
func (s *DirSaver) Saved() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.saved...)
}

func createUnique(dir, name string) (*os.File, string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 0; i < 10000; i++ {
		candidate := name
		if i > 0 {
			candidate = stem + "_" + strconv.Itoa(i) + ext
		}
		path := filepath.Join(dir, candidate)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			return f, path, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", fmt.Errorf("create %s: %w", path, err)
		}
	}
	return nil, "", fmt.Errorf("no free file name for %s in %s", name, dir)
}

// ZipSaver streams files as entries of a zip archive.
type ZipSaver struct {
	zw    *zip.Writer
	names map[string]int
}

// NewZipSaver returns a ZipSaver writing to w. Call Close to finish the archive.
func NewZipSaver(w io.Writer) *ZipSaver {
	return &ZipSaver{zw: zip.NewWriter(w), names: make(map[string]int)}
}

// Save adds r as an entry called name. Duplicate names get a numeric suffix.
func (s *ZipSaver) Save(ctx context.Context, name string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name = s.unique(filepath.Base(name))
	w, err := s.zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Store,
		Modified: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("zip entry %s: %w", name, err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("zip entry %s: %w", name, err)
	}
	return nil
}

func (s *ZipSaver) unique(name string) string {
	n := s.names[name]
	s.names[name] = n + 1
	if n == 0 {
		return name
	}
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + "_" + strconv.Itoa(n) + ext
}

// Close writes the zip central directory.
func (s *ZipSaver) Close() error {
	return s.zw.Close()
}
