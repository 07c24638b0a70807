package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment variables that override file
// configuration, e.g. PSBRIDGE_LOG_LEVEL.
const EnvPrefix = "PSBRIDGE_"

// ParseError reports a malformed configuration file.
type ParseError struct {
	Path    string
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error in %s: %s", e.Path, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Load reads the configuration file at path, applies environment
// overrides, and validates the result. An empty path or a missing file
// yields the defaults (still subject to environment overrides).
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}

	applyEnv(&cfg, os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// loadFile unmarshals one file into cfg, dispatching on extension.
func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return &ParseError{Path: path, Message: err.Error(), Err: err}
		}
	default:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return &ParseError{Path: path, Message: err.Error(), Err: err}
		}
	}
	return nil
}

// applyEnv overrides individual settings from the environment. lookup
// is injectable for tests.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvPrefix + "LOG_LEVEL"); ok {
		cfg.Log.Level = v
	}
	if v, ok := lookup(EnvPrefix + "LOG_FILE"); ok {
		cfg.Log.File = v
	}
	if v, ok := lookup(EnvPrefix + "LOG_DEVELOPMENT"); ok {
		cfg.Log.Development = parseBool(v, cfg.Log.Development)
	}
	if v, ok := lookup(EnvPrefix + "TRANSPORT_STDIO"); ok {
		cfg.Transport.Stdio = parseBool(v, cfg.Transport.Stdio)
	}
	if v, ok := lookup(EnvPrefix + "TRANSPORT_LISTEN"); ok {
		cfg.Transport.Listen = v
		if v != "" {
			cfg.Transport.Stdio = false
		}
	}
	if v, ok := lookup(EnvPrefix + "TRANSPORT_PATH"); ok {
		cfg.Transport.Path = v
	}
	if v, ok := lookup(EnvPrefix + "POWERSHELL_EXECUTABLE"); ok {
		cfg.PowerShell.Executable = v
	}
	if v, ok := lookup(EnvPrefix + "POWERSHELL_STARTUP_TIMEOUT"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.PowerShell.StartupTimeout = Duration(d)
		}
	}
	if v, ok := lookup(EnvPrefix + "DEBUG_SNAPSHOT_DEPTH"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Debug.SnapshotDepth = n
		}
	}
}

func parseBool(s string, fallback bool) bool {
	switch strings.ToLower(s) {
	case "true", "yes", "on", "1":
		return true
	case "false", "no", "off", "0":
		return false
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return fallback
}
