// Package config loads worker configuration from defaults, an optional YAML
// file, and PINPOINT_-prefixed environment variables, in that precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/pinpoint-video/worker/internal/models"
)

// EnvPrefix is stripped from environment variables before mapping to keys.
// PINPOINT_GEMINI_API_KEY becomes gemini_api_key.
const EnvPrefix = "PINPOINT_"

// ConfigPathEnvVar names an explicit config file location.
const ConfigPathEnvVar = "PINPOINT_CONFIG"

// DefaultConfigPaths are searched in order when no explicit path is set.
var DefaultConfigPaths = []string{
	"pinpoint.yaml",
	"/etc/pinpoint/pinpoint.yaml",
}

// Config holds all worker settings.
type Config struct {
	// External services
	YouTubeAPIKey string `koanf:"youtube_api_key"`
	GeminiAPIKey  string `koanf:"gemini_api_key"`
	TextModelName string `koanf:"text_model_name"`
	VideoModel    string `koanf:"video_model_name"`
	RedisURL      string `koanf:"redis_url"`
	PostgresURL   string `koanf:"postgres_url"`

	// Search stage
	MaxSearchResults int    `koanf:"max_search_results"`
	MaxFinalResults  int    `koanf:"max_final_results"`
	TitleFilterMax   int    `koanf:"title_filter_max"`
	DurationMinSec   int    `koanf:"duration_min_sec"`
	DurationMaxSec   int    `koanf:"duration_max_sec"`
	PublishedAfter   string `koanf:"published_after"`
	PublishedBefore  string `koanf:"published_before"`

	// Transcript stage
	PreferredLanguages   []string `koanf:"preferred_languages"`
	MinConfidence        float64  `koanf:"min_confidence"`
	EnableURLFallback    bool     `koanf:"enable_url_fallback"`
	URLFallbackMaxSec    float64  `koanf:"url_fallback_max_duration_sec"`
	TranscriptWorkers    int      `koanf:"transcript_workers"`
	TranscriptTimeoutSec int      `koanf:"transcript_timeout_sec"`

	// Refinement stage
	EnableVLMRefinement bool    `koanf:"enable_vlm_refinement"`
	BufferRatio         float64 `koanf:"buffer_ratio"`
	RefineWorkers       int     `koanf:"refine_workers"`
	StaggerDelaySec     float64 `koanf:"stagger_delay_sec"`
	MaxRetries          int     `koanf:"max_retries"`
	RetryDelaySec       float64 `koanf:"retry_delay_sec"`

	// Media tools
	FFmpegPath  string `koanf:"ffmpeg_path"`
	FFprobePath string `koanf:"ffprobe_path"`
	YtDlpPath   string `koanf:"ytdlp_path"`
	TempDir     string `koanf:"temp_dir"`
	// ClipOutputDir enables clip saving and per-job digest concatenation
	// when non-empty.
	ClipOutputDir string `koanf:"clip_output_dir"`

	// Worker
	QueueConcurrency int    `koanf:"queue_concurrency"`
	LogLevel         string `koanf:"log_level"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		TextModelName:        "gemini-2.5-flash",
		VideoModel:           "gemini-2.5-flash",
		MaxSearchResults:     30,
		MaxFinalResults:      5,
		TitleFilterMax:       10,
		DurationMinSec:       60,
		DurationMaxSec:       7200,
		PreferredLanguages:   []string{"ja", "en"},
		MinConfidence:        0.3,
		EnableURLFallback:    true,
		URLFallbackMaxSec:    1200,
		TranscriptWorkers:    5,
		TranscriptTimeoutSec: 120,
		EnableVLMRefinement:  true,
		BufferRatio:          0.2,
		RefineWorkers:        3,
		StaggerDelaySec:      3,
		MaxRetries:           3,
		RetryDelaySec:        2,
		FFmpegPath:           "ffmpeg",
		FFprobePath:          "ffprobe",
		YtDlpPath:            "yt-dlp",
		TempDir:              os.TempDir(),
		QueueConcurrency:     2,
		LogLevel:             "info",
	}
}

// Load builds a Config from defaults, an optional YAML file, and environment
// variables, then validates it.
func Load() (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Validate checks field constraints. It returns *models.ConfigError, the only
// error kind the pipeline surfaces to callers before a run starts.
func (c Config) Validate() error {
	if c.GeminiAPIKey == "" {
		return &models.ConfigError{Field: "gemini_api_key", Msg: "must be set"}
	}
	if c.MaxSearchResults < 3 {
		return &models.ConfigError{Field: "max_search_results", Msg: "must be at least 3 (one per strategy)"}
	}
	if c.MaxFinalResults < 1 {
		return &models.ConfigError{Field: "max_final_results", Msg: "must be at least 1"}
	}
	if c.TitleFilterMax < 1 {
		return &models.ConfigError{Field: "title_filter_max", Msg: "must be at least 1"}
	}
	if c.BufferRatio < 0 || c.BufferRatio > 1 {
		return &models.ConfigError{Field: "buffer_ratio", Msg: "must be within [0, 1]"}
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return &models.ConfigError{Field: "min_confidence", Msg: "must be within [0, 1]"}
	}
	if c.DurationMinSec < 0 || c.DurationMaxSec < c.DurationMinSec {
		return &models.ConfigError{Field: "duration_min_sec", Msg: "require 0 <= min <= max"}
	}
	if c.TranscriptWorkers < 1 {
		return &models.ConfigError{Field: "transcript_workers", Msg: "must be at least 1"}
	}
	if c.RefineWorkers < 1 {
		return &models.ConfigError{Field: "refine_workers", Msg: "must be at least 1"}
	}
	if c.MaxRetries < 1 {
		return &models.ConfigError{Field: "max_retries", Msg: "must be at least 1"}
	}
	if c.EnableURLFallback && c.URLFallbackMaxSec <= 0 {
		return &models.ConfigError{Field: "url_fallback_max_duration_sec", Msg: "must be positive when fallback is enabled"}
	}
	if c.PublishedAfter != "" {
		if _, err := time.Parse(time.RFC3339, c.PublishedAfter); err != nil {
			return &models.ConfigError{Field: "published_after", Msg: "must be RFC3339"}
		}
	}
	if c.PublishedBefore != "" {
		if _, err := time.Parse(time.RFC3339, c.PublishedBefore); err != nil {
			return &models.ConfigError{Field: "published_before", Msg: "must be RFC3339"}
		}
	}
	return nil
}

// TranscriptTimeout returns the per-task wall clock bound for the transcript
// stage.
func (c Config) TranscriptTimeout() time.Duration {
	return time.Duration(c.TranscriptTimeoutSec) * time.Second
}

// StaggerDelay returns the refinement admission stagger unit.
func (c Config) StaggerDelay() time.Duration {
	return time.Duration(c.StaggerDelaySec * float64(time.Second))
}

// RetryDelay returns the linear backoff unit for video model retries.
func (c Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySec * float64(time.Second))
}
