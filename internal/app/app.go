// Package app wires configuration, logging and collaborators into a Session.
package app

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"media-compressor-go/internal/batch"
	"media-compressor-go/internal/compressor"
	"media-compressor-go/internal/config"
	"media-compressor-go/internal/ffmpeg"
	"media-compressor-go/internal/logger"
	"media-compressor-go/internal/media"
	"media-compressor-go/internal/preview"
	"media-compressor-go/internal/probe"
	"media-compressor-go/internal/resource"
	"media-compressor-go/internal/statistics"
)

// App is a fully wired compression session.
type App struct {
	Config     *config.Config
	Logger     *logrus.Logger
	Workspace  *resource.Workspace
	Registry   *resource.Registry
	Events     *batch.EventBus
	Stats      *statistics.Statistics
	Probe      *probe.Service
	Strategies *compressor.Set
	Session    *batch.Session
}

// New builds every collaborator from cfg.
func New(cfg *config.Config, log *logrus.Logger) (*App, error) {
	ws, err := resource.NewWorkspace(cfg.Workspace.Dir)
	if err != nil {
		return nil, err
	}
	log.WithField("dir", ws.Dir()).Debug("Workspace created")

	registry := resource.NewRegistry(log)
	events := batch.NewEventBus(1000)
	stats := statistics.NewStatistics()
	transcoder := ffmpeg.NewTranscoder(cfg.Tools.FFmpegPath, log)

	prober, err := NewProber(cfg, log)
	if err != nil {
		_ = ws.Remove()
		return nil, err
	}
	probeSvc := probe.NewService(prober, log)

	var frames preview.FrameExtractor
	if cfg.Video.Preview {
		frames = transcoder
	}
	previewer := preview.NewGenerator(ws, frames, preview.Options{
		Size:         cfg.Image.PreviewSize,
		VideoPreview: cfg.Video.Preview,
	}, log)

	strategies := NewStrategies(cfg, ws, transcoder, log)

	sets := cfg.AcceptSets()
	var controllers []*batch.Controller
	for _, cat := range media.Categories() {
		strategy, err := strategies.For(cat)
		if err != nil {
			_ = ws.Remove()
			return nil, err
		}
		c, err := batch.NewController(batch.Options{
			Category:     cat,
			Accept:       sets[cat],
			MaxSize:      cfg.Batch.MaxSize,
			Quality:      cfg.DefaultQuality(),
			JobTimeout:   cfg.Batch.CompressionTimeout,
			ProbeTimeout: cfg.Probe.Timeout,
		}, batch.Deps{
			Strategy:  strategy,
			Registry:  registry,
			Prober:    probeSvc,
			Previewer: previewer,
			Events:    events,
			Stats:     stats,
			Logger:    log,
		})
		if err != nil {
			_ = ws.Remove()
			return nil, err
		}
		controllers = append(controllers, c)
	}

	return &App{
		Config:     cfg,
		Logger:     log,
		Workspace:  ws,
		Registry:   registry,
		Events:     events,
		Stats:      stats,
		Probe:      probeSvc,
		Strategies: strategies,
		Session:    batch.NewSession(registry, events, log, controllers...),
	}, nil
}

// NewStrategies builds the compression strategy for every category.
func NewStrategies(cfg *config.Config, files compressor.FileAllocator, t compressor.Transcoder, log *logrus.Logger) *compressor.Set {
	return compressor.NewSet().
		Register(media.CategoryImage, compressor.NewImageStrategy(files, compressor.ImageOptions{
			ConvertPNG:       cfg.Image.ConvertPNG,
			ConvertSizeBytes: cfg.Image.ConvertSizeBytes,
		}, log)).
		Register(media.CategoryPDF, compressor.NewPDFStrategy(files, log)).
		Register(media.CategoryAudio, compressor.NewAudioStrategy(t, files, log)).
		Register(media.CategoryVideo, compressor.NewVideoStrategy(t, files, log))
}

// NewProber returns the metadata backend selected by probe.backend.
func NewProber(cfg *config.Config, log *logrus.Logger) (probe.Prober, error) {
	ff := probe.NewFFProbe(cfg.Tools.FFprobePath)
	et := probe.NewExifTool(cfg.Tools.ExiftoolPath)
	switch cfg.Probe.Backend {
	case config.ProbeBackendFFprobe:
		return ff, nil
	case config.ProbeBackendExiftool:
		return et, nil
	case config.ProbeBackendAuto, "":
		return probe.NewChain(log, ff, et), nil
	default:
		return nil, fmt.Errorf("unknown probe backend: %s", cfg.Probe.Backend)
	}
}

// StageFile copies a file on disk into the workspace and registers the copy
// as a handle, so releasing it never touches the caller's file.
func (a *App) StageFile(path string) (media.SourceFile, error) {
	src, err := media.NewSourceFile(path)
	if err != nil {
		return media.SourceFile{}, err
	}

	in, err := os.Open(path)
	if err != nil {
		return media.SourceFile{}, fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	staged, err := a.Workspace.NewFile("source", filepath.Ext(path))
	if err != nil {
		return media.SourceFile{}, err
	}
	token := a.Registry.Register(staged)

	out, err := os.Create(staged)
	if err != nil {
		a.Registry.Release(token)
		return media.SourceFile{}, fmt.Errorf("stage source: %w", err)
	}
	_, err = io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		a.Registry.Release(token)
		return media.SourceFile{}, fmt.Errorf("stage source: %w", err)
	}

	logger.WithFile(a.Logger, path).WithField("staged", staged).Debug("Source staged")
	src.Path = staged
	src.Handle = token
	return src, nil
}

// Close tears the session down, finalizes statistics and removes the workspace.
func (a *App) Close() error {
	stray := a.Session.Close()
	a.Stats.RecordHandles(a.Registry.Stats())
	a.Stats.Finalize()
	a.Logger.WithFields(logrus.Fields{
		"registered": a.Registry.Stats().Registered,
		"stray":      stray,
	}).Debug("Session closed")
	return a.Workspace.Remove()
}
