// Package config loads seglog configuration from JSONC files.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
	"github.com/tailscale/hujson"
)

// Storage backends.
const (
	StorageDir = "dir"
	StorageS3  = "s3"
)

var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigFileRead     = errors.New("cannot read config file")
	ErrConfigInvalid      = errors.New("invalid config file")
	ErrDataDirEmpty       = errors.New("data_dir cannot be empty")
	ErrStorageUnknown     = errors.New("storage must be \"dir\" or \"s3\"")
	ErrS3Incomplete       = errors.New("s3 storage needs s3.bucket and s3.region")
	ErrNegativeLimit      = errors.New("cache_bytes and max_inflight_io cannot be negative")
	ErrLogLevel           = errors.New("log_level must be debug, info, warn or error")
)

// S3 configures the S3 segment backend. Credentials come from the standard
// AWS chain (env, shared config, instance role).
type S3 struct {
	Bucket         string `json:"bucket,omitempty"`
	Region         string `json:"region,omitempty"`
	Endpoint       string `json:"endpoint,omitempty"`
	Prefix         string `json:"prefix,omitempty"`
	ForcePathStyle bool   `json:"force_path_style,omitempty"`
	KMSKeyARN      string `json:"kms_key_arn,omitempty"`
}

// Config holds all configuration options.
type Config struct {
	// From config files (serialized)
	DataDir       string `json:"data_dir"`
	Storage       string `json:"storage,omitempty"`
	S3            S3     `json:"s3,omitzero"`
	CacheBytes    int64  `json:"cache_bytes,omitempty"`
	MaxInflightIO int    `json:"max_inflight_io,omitempty"`
	LogLevel      string `json:"log_level,omitempty"`
	MetricsAddr   string `json:"metrics_addr,omitempty"`

	// Resolved (computed, not serialized)
	EffectiveCwd string  `json:"-"`
	DataDirAbs   string  `json:"-"`
	Sources      Sources `json:"-"`
}

// Sources tracks which config files were loaded.
type Sources struct {
	Global  string // Path to global config if loaded, empty otherwise
	Project string // Path to project or explicit config if loaded, empty otherwise
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		DataDir:       ".seglog-data",
		Storage:       StorageDir,
		MaxInflightIO: 8,
		LogLevel:      "warn",
	}
}

// FileName is the project config file name.
const FileName = ".seglog.json"

// globalPath returns $XDG_CONFIG_HOME/seglog/config.json, falling back to
// ~/.config/seglog/config.json. Empty if neither variable is set.
func globalPath(env map[string]string) string {
	if xdg := env["XDG_CONFIG_HOME"]; xdg != "" {
		return filepath.Join(xdg, "seglog", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "seglog", "config.json")
	}

	return ""
}

// LoadInput holds the inputs for [Load].
type LoadInput struct {
	WorkDirOverride string            // -C/--cwd flag value; if empty, os.Getwd() is used
	ConfigPath      string            // -c/--config flag value
	DataDirOverride string            // --data-dir flag value; empty means no override
	Env             map[string]string // environment variables
}

// Load resolves configuration with the following precedence (highest wins):
// 1. Defaults
// 2. Global user config
// 3. Project config (.seglog.json in the work dir, if it exists)
// 4. Explicit config file via ConfigPath
// 5. CLI overrides.
//
// An explicit config file replaces the project file rather than layering on
// top of it.
func Load(input LoadInput) (Config, error) {
	workDir := input.WorkDirOverride
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	}

	cfg := Default()

	globalCfg, globalFile, err := loadOptional(globalPath(input.Env))
	if err != nil {
		return Config{}, err
	}

	cfg.Sources.Global = globalFile
	cfg = merge(cfg, globalCfg)

	projectCfg, projectFile, err := loadProject(workDir, input.ConfigPath)
	if err != nil {
		return Config{}, err
	}

	cfg.Sources.Project = projectFile
	cfg = merge(cfg, projectCfg)

	if input.DataDirOverride != "" {
		cfg.DataDir = input.DataDirOverride
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}

	cfg.EffectiveCwd = workDir

	if filepath.IsAbs(cfg.DataDir) {
		cfg.DataDirAbs = cfg.DataDir
	} else {
		cfg.DataDirAbs = filepath.Join(workDir, cfg.DataDir)
	}

	return cfg, nil
}

func loadOptional(path string) (Config, string, error) {
	if path == "" {
		return Config{}, "", nil
	}

	cfg, loaded, err := loadFile(path, false)
	if err != nil || !loaded {
		return Config{}, "", err
	}

	return cfg, path, nil
}

func loadProject(workDir, configPath string) (Config, string, error) {
	if configPath == "" {
		return loadOptional(filepath.Join(workDir, FileName))
	}

	path := configPath
	if !filepath.IsAbs(path) {
		path = filepath.Join(workDir, path)
	}

	if _, err := os.Stat(path); err != nil {
		return Config{}, "", fmt.Errorf("%w: %s", ErrConfigFileNotFound, configPath)
	}

	cfg, _, err := loadFile(path, true)
	if err != nil {
		return Config{}, "", err
	}

	return cfg, path, nil
}

// loadFile reads and parses path. Missing files are not an error unless
// mustExist is set.
func loadFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return Config{}, false, nil
		}

		return Config{}, false, fmt.Errorf("%w: %s: %w", ErrConfigFileRead, path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	return cfg, true, nil
}

// Parse decodes a JSONC document. Unknown fields are rejected. An explicit
// empty data_dir is an error rather than "use the default".
func Parse(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config

	dec := json.NewDecoder(bytes.NewReader(standardized))
	dec.DisallowUnknownFields()

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}

	var raw map[string]any

	_ = json.Unmarshal(standardized, &raw)

	if val, ok := raw["data_dir"]; ok {
		if str, ok := val.(string); ok && str == "" {
			return Config{}, ErrDataDirEmpty
		}
	}

	return cfg, nil
}

func merge(base, overlay Config) Config {
	if overlay.DataDir != "" {
		base.DataDir = overlay.DataDir
	}

	if overlay.Storage != "" {
		base.Storage = overlay.Storage
	}

	if overlay.S3.Bucket != "" {
		base.S3.Bucket = overlay.S3.Bucket
	}

	if overlay.S3.Region != "" {
		base.S3.Region = overlay.S3.Region
	}

	if overlay.S3.Endpoint != "" {
		base.S3.Endpoint = overlay.S3.Endpoint
	}

	if overlay.S3.Prefix != "" {
		base.S3.Prefix = overlay.S3.Prefix
	}

	if overlay.S3.ForcePathStyle {
		base.S3.ForcePathStyle = true
	}

	if overlay.S3.KMSKeyARN != "" {
		base.S3.KMSKeyARN = overlay.S3.KMSKeyARN
	}

	if overlay.CacheBytes != 0 {
		base.CacheBytes = overlay.CacheBytes
	}

	if overlay.MaxInflightIO != 0 {
		base.MaxInflightIO = overlay.MaxInflightIO
	}

	if overlay.LogLevel != "" {
		base.LogLevel = overlay.LogLevel
	}

	if overlay.MetricsAddr != "" {
		base.MetricsAddr = overlay.MetricsAddr
	}

	return base
}

func validate(cfg Config) error {
	if cfg.DataDir == "" {
		return ErrDataDirEmpty
	}

	switch cfg.Storage {
	case StorageDir:
	case StorageS3:
		if cfg.S3.Bucket == "" || cfg.S3.Region == "" {
			return ErrS3Incomplete
		}
	default:
		return fmt.Errorf("%w, got %q", ErrStorageUnknown, cfg.Storage)
	}

	if cfg.CacheBytes < 0 || cfg.MaxInflightIO < 0 {
		return ErrNegativeLimit
	}

	if _, err := ParseLevel(cfg.LogLevel); err != nil {
		return err
	}

	return nil
}

// ParseLevel maps a log_level value to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("%w, got %q", ErrLogLevel, s)
	}
}

// Level returns the configured slog level. Call after [Load] validated it.
func (c Config) Level() slog.Level {
	lvl, _ := ParseLevel(c.LogLevel)

	return lvl
}

// Write stores cfg as indented JSON at path, atomically.
func Write(path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	data = append(data, '\n')

	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	return nil
}
