// Package config loads mindwatch settings from a JSON file and the
// environment.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ayusman/mindwatch/internal/capture"
	"github.com/ayusman/mindwatch/internal/detector"
)

// Environment variables that override file settings.
const (
	EnvModelPath = "MODEL_PATH"
	EnvListen    = "MINDWATCH_LISTEN"
	EnvDataDir   = "MINDWATCH_DATA_DIR"
	EnvPython    = "MINDWATCH_PYTHON"
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Config holds all mindwatch settings.
type Config struct {
	ModelPath           string  `json:"model_path"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	SamplingStride      int     `json:"sampling_stride"`
	// AllowSynthetic keeps the pipeline running on random detections when
	// no model is available. Disable it in production.
	AllowSynthetic bool   `json:"allow_synthetic"`
	Python         string `json:"python,omitempty"`
	// DetectorIdle is how long a detection service may sit unused before it
	// is stopped, as a duration string like "30s".
	DetectorIdle string `json:"detector_idle"`

	Listen         string `json:"listen"`
	DataDir        string `json:"data_dir"`
	WebDir         string `json:"web_dir,omitempty"`
	MaxUploadMB    int64  `json:"max_upload_mb"`
	RetentionHours int    `json:"retention_hours"`
}

// Default returns the default configuration.
func Default() *Config {
	d := detector.DefaultConfig()
	return &Config{
		ModelPath:           d.ModelPath,
		ConfidenceThreshold: d.Confidence,
		SamplingStride:      capture.DefaultStride,
		AllowSynthetic:      d.AllowSynthetic,
		DetectorIdle:        d.IdleTimeout.String(),
		Listen:              ":8080",
		DataDir:             defaultDataDir(),
		MaxUploadMB:         500,
		RetentionHours:      24,
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mindwatch"
	}
	return filepath.Join(home, ".mindwatch")
}

// Load reads a JSON config file. Fields omitted from the file keep their
// default values. The file must have a .json extension and be under 1MB.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides settings from environment variables read via getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(EnvModelPath); v != "" {
		c.ModelPath = v
	}
	if v := getenv(EnvListen); v != "" {
		c.Listen = v
	}
	if v := getenv(EnvDataDir); v != "" {
		c.DataDir = v
	}
	if v := getenv(EnvPython); v != "" {
		c.Python = v
	}
}

// Validate checks that the configuration values are valid.
func (c *Config) Validate() error {
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be between 0 and 1, got %f", c.ConfidenceThreshold)
	}
	if c.SamplingStride < 1 {
		return fmt.Errorf("sampling_stride must be at least 1, got %d", c.SamplingStride)
	}
	if c.ModelPath == "" {
		return fmt.Errorf("model_path must not be empty")
	}
	if c.DetectorIdle != "" {
		if _, err := time.ParseDuration(c.DetectorIdle); err != nil {
			return fmt.Errorf("invalid detector_idle '%s': %w", c.DetectorIdle, err)
		}
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("max_upload_mb must be positive, got %d", c.MaxUploadMB)
	}
	if c.RetentionHours < 0 {
		return fmt.Errorf("retention_hours must be non-negative, got %d", c.RetentionHours)
	}
	return nil
}

// Detector returns the detector settings.
func (c *Config) Detector() detector.Config {
	d := detector.DefaultConfig()
	d.ModelPath = c.ModelPath
	d.Confidence = c.ConfidenceThreshold
	d.Python = c.Python
	d.AllowSynthetic = c.AllowSynthetic
	if idle, err := time.ParseDuration(c.DetectorIdle); err == nil {
		d.IdleTimeout = idle
	}
	return d
}

// MaxUploadBytes returns the upload size cap in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}

// Retention returns how long uploads and outputs are kept. Zero disables
// cleanup.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

// UploadDir returns the directory for uploaded files.
func (c *Config) UploadDir() string { return filepath.Join(c.DataDir, "uploads") }

// OutputDir returns the directory for annotated outputs and charts.
func (c *Config) OutputDir() string { return filepath.Join(c.DataDir, "outputs") }

// DBPath returns the run database path.
func (c *Config) DBPath() string { return filepath.Join(c.DataDir, "mindwatch.db") }

// String summarizes the config for startup logs.
func (c *Config) String() string {
	return "model=" + c.ModelPath +
		" conf=" + strconv.FormatFloat(c.ConfidenceThreshold, 'f', 2, 64) +
		" stride=" + strconv.Itoa(c.SamplingStride) +
		" synthetic=" + strconv.FormatBool(c.AllowSynthetic) +
		" data=" + c.DataDir
}
