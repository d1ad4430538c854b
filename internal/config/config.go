package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"media-compressor-go/internal/media"
)

// Config represents the main configuration structure
type Config struct {
	Batch     BatchConfig     `mapstructure:"batch"`
	Workspace WorkspaceConfig `mapstructure:"workspace"`
	Image     ImageConfig     `mapstructure:"image"`
	PDF       PDFConfig       `mapstructure:"pdf"`
	Audio     AudioConfig     `mapstructure:"audio"`
	Video     VideoConfig     `mapstructure:"video"`
	Tools     ToolsConfig     `mapstructure:"tools"`
	Probe     ProbeConfig     `mapstructure:"probe"`
	Web       WebConfig       `mapstructure:"web"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// BatchConfig contains batch admission and sequencing settings
type BatchConfig struct {
	MaxSize            int           `mapstructure:"max_size"`
	DefaultQuality     string        `mapstructure:"default_quality"`
	CompressionTimeout time.Duration `mapstructure:"compression_timeout"`
}

// WorkspaceConfig contains the scratch directory for transient files
type WorkspaceConfig struct {
	Dir string `mapstructure:"dir"`
}

// ImageConfig contains image compression settings
type ImageConfig struct {
	AcceptedTypes    []string `mapstructure:"accepted_types"`
	ConvertPNG       bool     `mapstructure:"convert_png"`
	ConvertSizeBytes int64    `mapstructure:"convert_size_bytes"`
	PreviewSize      int      `mapstructure:"preview_size"`
}

// PDFConfig contains PDF compression settings
type PDFConfig struct {
	AcceptedTypes []string `mapstructure:"accepted_types"`
}

// AudioConfig contains audio compression settings
type AudioConfig struct {
	AcceptedTypes []string `mapstructure:"accepted_types"`
}

// VideoConfig contains video compression settings
type VideoConfig struct {
	AcceptedTypes []string `mapstructure:"accepted_types"`
	Preview       bool     `mapstructure:"preview"`
}

// ToolsConfig points at external binaries
type ToolsConfig struct {
	FFmpegPath   string `mapstructure:"ffmpeg_path"`
	FFprobePath  string `mapstructure:"ffprobe_path"`
	ExiftoolPath string `mapstructure:"exiftool_path"`
}

// ProbeConfig contains metadata probe settings
type ProbeConfig struct {
	Backend string        `mapstructure:"backend"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// WebConfig contains web interface settings
type WebConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
}

// Probe backends
const (
	ProbeBackendAuto     = "auto"
	ProbeBackendFFprobe  = "ffprobe"
	ProbeBackendExiftool = "exiftool"
)

// DefaultMaxBatchSize is the number of files a category batch may hold at once.
const DefaultMaxBatchSize = 3

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Batch: BatchConfig{
			MaxSize:            DefaultMaxBatchSize,
			DefaultQuality:     string(media.QualityMedium),
			CompressionTimeout: 30 * time.Minute,
		},
		Image: ImageConfig{
			AcceptedTypes:    []string{"image/*"},
			ConvertPNG:       false,
			ConvertSizeBytes: 5_000_000,
			PreviewSize:      320,
		},
		PDF: PDFConfig{
			AcceptedTypes: []string{"application/pdf"},
		},
		Audio: AudioConfig{
			AcceptedTypes: []string{
				"audio/mpeg", "audio/wav", "audio/ogg", "audio/m4a",
				"audio/x-wav", "audio/x-m4a", "audio/mp4",
			},
		},
		Video: VideoConfig{
			AcceptedTypes: []string{
				"video/mp4", "video/webm", "video/quicktime", "video/x-msvideo",
			},
			Preview: true,
		},
		Tools: ToolsConfig{
			FFmpegPath:   "ffmpeg",
			FFprobePath:  "ffprobe",
			ExiftoolPath: "exiftool",
		},
		Probe: ProbeConfig{
			Backend: ProbeBackendAuto,
			Timeout: 30 * time.Second,
		},
		Web: WebConfig{
			Port: 8080,
		},
		Logging: LoggingConfig{
			Level:      "info",
			FilePath:   "media-compressor.log",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
		},
	}
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	// A missing .env is fine; anything else is worth reporting.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("error loading .env: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.media-compressor")
		v.AddConfigPath("/etc/media-compressor")
	}

	v.SetEnvPrefix("MEDIA_COMPRESSOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// bindEnvKeys makes scalar keys visible to Unmarshal when they only come from
// the environment.
func bindEnvKeys(v *viper.Viper) {
	for _, key := range []string{
		"batch.max_size", "batch.default_quality", "batch.compression_timeout",
		"workspace.dir",
		"image.convert_png", "image.convert_size_bytes", "image.preview_size",
		"video.preview",
		"tools.ffmpeg_path", "tools.ffprobe_path", "tools.exiftool_path",
		"probe.backend", "probe.timeout",
		"web.port",
		"logging.level", "logging.file_path",
	} {
		_ = v.BindEnv(key)
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Batch.MaxSize <= 0 {
		return fmt.Errorf("batch.max_size must be positive (got %d)", c.Batch.MaxSize)
	}

	q, err := media.ParseQuality(c.Batch.DefaultQuality)
	if err != nil {
		return fmt.Errorf("invalid batch.default_quality: %w", err)
	}
	c.Batch.DefaultQuality = string(q)

	if c.Batch.CompressionTimeout < 0 {
		return fmt.Errorf("batch.compression_timeout must not be negative")
	}

	if c.Workspace.Dir != "" {
		c.Workspace.Dir = expandPath(c.Workspace.Dir)
	}

	c.Image.AcceptedTypes = normalizeTypes(c.Image.AcceptedTypes)
	c.PDF.AcceptedTypes = normalizeTypes(c.PDF.AcceptedTypes)
	c.Audio.AcceptedTypes = normalizeTypes(c.Audio.AcceptedTypes)
	c.Video.AcceptedTypes = normalizeTypes(c.Video.AcceptedTypes)
	for name, types := range map[string][]string{
		"image": c.Image.AcceptedTypes,
		"pdf":   c.PDF.AcceptedTypes,
		"audio": c.Audio.AcceptedTypes,
		"video": c.Video.AcceptedTypes,
	} {
		if len(types) == 0 {
			return fmt.Errorf("%s.accepted_types must not be empty", name)
		}
	}

	if c.Image.ConvertSizeBytes < 0 {
		c.Image.ConvertSizeBytes = 0
	}
	if c.Image.PreviewSize <= 0 {
		c.Image.PreviewSize = 320
	}

	validBackends := map[string]bool{
		ProbeBackendAuto:     true,
		ProbeBackendFFprobe:  true,
		ProbeBackendExiftool: true,
	}
	c.Probe.Backend = strings.ToLower(strings.TrimSpace(c.Probe.Backend))
	if c.Probe.Backend == "" {
		c.Probe.Backend = ProbeBackendAuto
	}
	if !validBackends[c.Probe.Backend] {
		return fmt.Errorf("invalid probe.backend: %s (valid: auto, ffprobe, exiftool)", c.Probe.Backend)
	}
	if c.Probe.Timeout <= 0 {
		c.Probe.Timeout = 30 * time.Second
	}

	if c.Web.Port <= 0 || c.Web.Port > 65535 {
		return fmt.Errorf("invalid web.port: %d", c.Web.Port)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	return nil
}

// DefaultQuality returns the parsed default quality tier.
func (c *Config) DefaultQuality() media.Quality {
	q, err := media.ParseQuality(c.Batch.DefaultQuality)
	if err != nil {
		return media.QualityMedium
	}
	return q
}

// AcceptedTypes returns the configured media types for a category.
func (c *Config) AcceptedTypes(category media.Category) []string {
	switch category {
	case media.CategoryImage:
		return c.Image.AcceptedTypes
	case media.CategoryPDF:
		return c.PDF.AcceptedTypes
	case media.CategoryAudio:
		return c.Audio.AcceptedTypes
	case media.CategoryVideo:
		return c.Video.AcceptedTypes
	default:
		return nil
	}
}

// AcceptSets returns an AcceptSet for every category.
func (c *Config) AcceptSets() map[media.Category]media.AcceptSet {
	sets := make(map[media.Category]media.AcceptSet, 4)
	for _, cat := range media.Categories() {
		sets[cat] = media.NewAcceptSet(c.AcceptedTypes(cat))
	}
	return sets
}

// Helper functions

func expandPath(path string) string {
	expanded := os.ExpandEnv(path)
	if strings.HasPrefix(expanded, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			expanded = filepath.Join(home, expanded[1:])
		}
	}
	return expanded
}

func normalizeTypes(types []string) []string {
	normalized := make([]string, 0, len(types))
	seen := make(map[string]bool, len(types))
	for _, t := range types {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		normalized = append(normalized, t)
	}
	return normalized
}
