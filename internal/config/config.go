package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"

	"github.com/pelletier/go-toml/v2"

	"github.com/YannKr/wmmaker/internal/watermark"
)

type Config struct {
	ListenAddr     string `toml:"listen_addr"`
	DataDir        string `toml:"data_dir"`
	BaseURL        string `toml:"base_url"`
	SessionSecret  string `toml:"session_secret"`
	MaxUploadBytes int64  `toml:"max_upload_bytes"`
	WorkerCount    int    `toml:"worker_count"`
	LogLevel       string `toml:"log_level"`

	FFmpegPath  string `toml:"ffmpeg_path"`
	FFprobePath string `toml:"ffprobe_path"`

	WatermarkImage  string `toml:"watermark_image"`
	ExportPreset    string `toml:"export_preset"`
	ExportContainer string `toml:"export_container"`
	ExportPrefix    string `toml:"export_prefix"`
	// OptimizeForNetwork moves the moov atom to the front of the file.
	OptimizeForNetwork bool `toml:"optimize_for_network"`
	RequireAudio       bool `toml:"require_audio"`

	APIKeyHash          string `toml:"api_key_hash"`
	WebhookSecret       string `toml:"webhook_secret"`
	RetentionHours      int    `toml:"retention_hours"`
	CleanupIntervalMins int    `toml:"cleanup_interval_mins"`

	Scales Scales `toml:"scales"`
}

// Scales optionally replaces the baseline placement presets.
type Scales struct {
	Horizontal *watermark.Scale `toml:"horizontal"`
	Vertical   *watermark.Scale `toml:"vertical"`
}

func (s Scales) Presets() watermark.Presets {
	return watermark.Presets{Horizontal: s.Horizontal, Vertical: s.Vertical}
}

func Default() *Config {
	return &Config{
		ListenAddr:          ":8080",
		DataDir:             "./data",
		BaseURL:             "http://localhost:8080",
		SessionSecret:       "change-me-in-production-32-bytes!",
		MaxUploadBytes:      2 * 1024 * 1024 * 1024,
		WorkerCount:         1,
		LogLevel:            "info",
		FFmpegPath:          "ffmpeg",
		FFprobePath:         "ffprobe",
		ExportPreset:        string(watermark.PresetHighest),
		ExportContainer:     string(watermark.ContainerMP4),
		ExportPrefix:        watermark.DefaultFilePrefix,
		OptimizeForNetwork:  true,
		RetentionHours:      72,
		CleanupIntervalMins: 30,
	}
}

// Load builds the configuration from defaults, the TOML file named by
// CONFIG_FILE (if any) and finally environment overrides.
func Load() (*Config, error) {
	return LoadFile(os.Getenv("CONFIG_FILE"))
}

// LoadFile is Load with an explicit config file. A missing file is an error
// only when path is non-empty.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found", path)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.ListenAddr = envOr("LISTEN_ADDR", c.ListenAddr)
	c.DataDir = envOr("DATA_DIR", c.DataDir)
	c.BaseURL = envOr("BASE_URL", c.BaseURL)
	c.SessionSecret = envOr("SESSION_SECRET", c.SessionSecret)
	c.MaxUploadBytes = envInt64Or("MAX_UPLOAD_BYTES", c.MaxUploadBytes)
	c.WorkerCount = envIntOr("WORKER_COUNT", c.WorkerCount)
	c.LogLevel = envOr("LOG_LEVEL", c.LogLevel)
	c.FFmpegPath = envOr("FFMPEG_PATH", c.FFmpegPath)
	c.FFprobePath = envOr("FFPROBE_PATH", c.FFprobePath)
	c.WatermarkImage = envOr("WATERMARK_IMAGE", c.WatermarkImage)
	c.ExportPreset = envOr("EXPORT_PRESET", c.ExportPreset)
	c.ExportContainer = envOr("EXPORT_CONTAINER", c.ExportContainer)
	c.ExportPrefix = envOr("EXPORT_PREFIX", c.ExportPrefix)
	c.OptimizeForNetwork = envBoolOr("OPTIMIZE_FOR_NETWORK", c.OptimizeForNetwork)
	c.RequireAudio = envBoolOr("REQUIRE_AUDIO", c.RequireAudio)
	c.APIKeyHash = envOr("API_KEY_HASH", c.APIKeyHash)
	c.WebhookSecret = envOr("WEBHOOK_SECRET", c.WebhookSecret)
	c.RetentionHours = envIntOr("RETENTION_HOURS", c.RetentionHours)
	c.CleanupIntervalMins = envIntOr("CLEANUP_INTERVAL_MINS", c.CleanupIntervalMins)
}

func (c *Config) Validate() error {
	if _, err := watermark.ParsePreset(c.ExportPreset); err != nil {
		return err
	}
	if _, err := watermark.ParseContainer(c.ExportContainer); err != nil {
		return err
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("worker_count must be at least 1, got %d", c.WorkerCount)
	}
	for _, s := range []*watermark.Scale{c.Scales.Horizontal, c.Scales.Vertical} {
		if s == nil {
			continue
		}
		if err := s.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) Toolchain() watermark.Toolchain {
	return watermark.Toolchain{FFmpeg: c.FFmpegPath, FFprobe: c.FFprobePath}
}

// Exporter returns an exporter writing into outputDir with the configured
// preset and container. Validate has already vetted both.
func (c *Config) Exporter(outputDir string) *watermark.Exporter {
	e := watermark.NewExporter(c.Toolchain(), outputDir)
	e.Preset, _ = watermark.ParsePreset(c.ExportPreset)
	e.Container, _ = watermark.ParseContainer(c.ExportContainer)
	e.FilePrefix = c.ExportPrefix
	e.OptimizeForNetwork = c.OptimizeForNetwork
	return e
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64Or(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// ParseLevel maps debug|info|warn|error to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
