// Package config loads mdboard configuration from JSONC files, the
// environment and command line overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tailscale/hujson"
)

// Errors returned by [Load].
var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigFileRead     = errors.New("cannot read config file")
	ErrConfigInvalid      = errors.New("invalid config file")
	ErrDataDirEmpty       = errors.New("data_dir cannot be empty")
)

// FileName is the project config file looked up in the working directory.
const FileName = ".mdboard.json"

// EnvDataDir overrides data_dir from config files.
const EnvDataDir = "MDBOARD_DATA_DIR"

// Config holds all configuration options.
type Config struct {
	DataDir              string      `json:"data_dir"`
	CacheTTL             Duration    `json:"cache_ttl"`
	CacheCleanupInterval Duration    `json:"cache_cleanup_interval"`
	Lock                 LockConfig  `json:"lock"`
	Redis                RedisConfig `json:"redis"`
	Watch                bool        `json:"watch"`
	LogLevel             string      `json:"log_level"`

	// Resolved (not serialized)
	EffectiveCwd string  `json:"-"`
	DataDirAbs   string  `json:"-"`
	Sources      Sources `json:"-"`
}

// LockConfig is the lock retry policy.
type LockConfig struct {
	MaxRetries int      `json:"max_retries"`
	RetryDelay Duration `json:"retry_delay"`
	Timeout    Duration `json:"timeout"`
	StaleAfter Duration `json:"stale_after"`
}

// RedisConfig enables the shared cache tier when Addr is set.
type RedisConfig struct {
	Addr   string `json:"addr,omitempty"`
	Prefix string `json:"prefix"`
}

// Sources tracks which config files were loaded.
type Sources struct {
	Global  string
	Project string
	Env     bool
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		DataDir:  "data",
		CacheTTL: Duration(30 * time.Second),
		Lock: LockConfig{
			MaxRetries: 10,
			RetryDelay: Duration(50 * time.Millisecond),
			Timeout:    Duration(5 * time.Second),
			StaleAfter: Duration(30 * time.Second),
		},
		Redis:    RedisConfig{Prefix: "mdboard"},
		LogLevel: "warn",
	}
}

// Input holds the inputs for [Load].
type Input struct {
	WorkDirOverride string            // -C/--cwd; empty means os.Getwd
	ConfigPath      string            // -c/--config
	DataDirOverride string            // --data-dir
	Env             map[string]string // environment variables
}

// Load resolves configuration with the following precedence (highest wins):
//  1. Defaults
//  2. Global config ($XDG_CONFIG_HOME/mdboard/config.json or ~/.config/mdboard/config.json)
//  3. Project config (.mdboard.json in the working directory, if present)
//  4. Explicit config file (ConfigPath)
//  5. MDBOARD_DATA_DIR
//  6. DataDirOverride
func Load(in Input) (Config, error) {
	workDir := in.WorkDirOverride
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}

		workDir = wd
	} else if !filepath.IsAbs(workDir) {
		abs, err := filepath.Abs(workDir)
		if err != nil {
			return Config{}, fmt.Errorf("resolve working directory: %w", err)
		}

		workDir = abs
	}

	cfg := Default()

	if path := globalPath(in.Env); path != "" {
		fc, loaded, err := loadFile(path, false)
		if err != nil {
			return Config{}, err
		}

		if loaded {
			cfg = merge(cfg, fc)
			cfg.Sources.Global = path
		}
	}

	projectPath, mustExist := filepath.Join(workDir, FileName), false
	if in.ConfigPath != "" {
		projectPath, mustExist = in.ConfigPath, true
		if !filepath.IsAbs(projectPath) {
			projectPath = filepath.Join(workDir, projectPath)
		}
	}

	fc, loaded, err := loadFile(projectPath, mustExist)
	if err != nil {
		return Config{}, err
	}

	if loaded {
		cfg = merge(cfg, fc)
		cfg.Sources.Project = projectPath
	}

	if dir := in.Env[EnvDataDir]; dir != "" {
		cfg.DataDir = dir
		cfg.Sources.Env = true
	}

	if in.DataDirOverride != "" {
		cfg.DataDir = in.DataDirOverride
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}

	cfg.EffectiveCwd = workDir

	if filepath.IsAbs(cfg.DataDir) {
		cfg.DataDirAbs = filepath.Clean(cfg.DataDir)
	} else {
		cfg.DataDirAbs = filepath.Join(workDir, cfg.DataDir)
	}

	return cfg, nil
}

// Format renders the serializable part of cfg as indented JSON.
func Format(cfg Config) (string, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("format config: %w", err)
	}

	return string(data), nil
}

// Level returns the logrus level for cfg.LogLevel.
func (c Config) Level() log.Level {
	lvl, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.WarnLevel
	}

	return lvl
}

func globalPath(env map[string]string) string {
	if xdg := env["XDG_CONFIG_HOME"]; xdg != "" {
		return filepath.Join(xdg, "mdboard", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "mdboard", "config.json")
	}

	return ""
}

// fileConfig is one config file. Pointers distinguish unset keys from zero
// values.
type fileConfig struct {
	DataDir              *string   `json:"data_dir"`
	CacheTTL             *Duration `json:"cache_ttl"`
	CacheCleanupInterval *Duration `json:"cache_cleanup_interval"`
	Lock                 *struct {
		MaxRetries *int      `json:"max_retries"`
		RetryDelay *Duration `json:"retry_delay"`
		Timeout    *Duration `json:"timeout"`
		StaleAfter *Duration `json:"stale_after"`
	} `json:"lock"`
	Redis *struct {
		Addr   *string `json:"addr"`
		Prefix *string `json:"prefix"`
	} `json:"redis"`
	Watch    *bool   `json:"watch"`
	LogLevel *string `json:"log_level"`
}

func loadFile(path string, mustExist bool) (fileConfig, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if mustExist {
				return fileConfig{}, false, fmt.Errorf("%w: %s", ErrConfigFileNotFound, path)
			}

			return fileConfig{}, false, nil
		}

		return fileConfig{}, false, fmt.Errorf("%w: %s: %w", ErrConfigFileRead, path, err)
	}

	fc, err := parse(data)
	if err != nil {
		return fileConfig{}, false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	if fc.DataDir != nil && *fc.DataDir == "" {
		return fileConfig{}, false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, ErrDataDirEmpty)
	}

	return fc, true, nil
}

func parse(data []byte) (fileConfig, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return fileConfig{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var fc fileConfig
	if err := json.Unmarshal(standardized, &fc); err != nil {
		return fileConfig{}, fmt.Errorf("invalid JSON: %w", err)
	}

	return fc, nil
}

func merge(base Config, fc fileConfig) Config {
	if fc.DataDir != nil {
		base.DataDir = *fc.DataDir
	}

	if fc.CacheTTL != nil {
		base.CacheTTL = *fc.CacheTTL
	}

	if fc.CacheCleanupInterval != nil {
		base.CacheCleanupInterval = *fc.CacheCleanupInterval
	}

	if l := fc.Lock; l != nil {
		if l.MaxRetries != nil {
			base.Lock.MaxRetries = *l.MaxRetries
		}

		if l.RetryDelay != nil {
			base.Lock.RetryDelay = *l.RetryDelay
		}

		if l.Timeout != nil {
			base.Lock.Timeout = *l.Timeout
		}

		if l.StaleAfter != nil {
			base.Lock.StaleAfter = *l.StaleAfter
		}
	}

	if r := fc.Redis; r != nil {
		if r.Addr != nil {
			base.Redis.Addr = *r.Addr
		}

		if r.Prefix != nil {
			base.Redis.Prefix = *r.Prefix
		}
	}

	if fc.Watch != nil {
		base.Watch = *fc.Watch
	}

	if fc.LogLevel != nil {
		base.LogLevel = *fc.LogLevel
	}

	return base
}

func validate(cfg Config) error {
	if cfg.DataDir == "" {
		return ErrDataDirEmpty
	}

	if cfg.CacheTTL <= 0 {
		return fmt.Errorf("%w: cache_ttl must be positive", ErrConfigInvalid)
	}

	if cfg.CacheCleanupInterval < 0 {
		return fmt.Errorf("%w: cache_cleanup_interval cannot be negative", ErrConfigInvalid)
	}

	if cfg.Lock.MaxRetries < 1 {
		return fmt.Errorf("%w: lock.max_retries must be at least 1", ErrConfigInvalid)
	}

	if cfg.Lock.RetryDelay <= 0 || cfg.Lock.Timeout <= 0 || cfg.Lock.StaleAfter <= 0 {
		return fmt.Errorf("%w: lock durations must be positive", ErrConfigInvalid)
	}

	if _, err := log.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("%w: log_level: %w", ErrConfigInvalid, err)
	}

	return nil
}
