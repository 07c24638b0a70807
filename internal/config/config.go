// Package config loads and watches the backend's configuration. Files
// may be TOML or YAML, selected by extension; PSBRIDGE_-prefixed
// environment variables override file values.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from strings like "30s"
// in both TOML and YAML files.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for TOML.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the backend configuration.
type Config struct {
	Log        Log        `toml:"log" yaml:"log"`
	Transport  Transport  `toml:"transport" yaml:"transport"`
	PowerShell PowerShell `toml:"powershell" yaml:"powershell"`
	Debug      Debug      `toml:"debug" yaml:"debug"`
}

// Log configures logging. Output goes to stderr or a file, never
// stdout, which carries protocol frames in stdio mode.
type Log struct {
	// Level is one of debug, info, warn, error.
	Level string `toml:"level" yaml:"level"`

	// File is the log file path; empty logs to stderr.
	File string `toml:"file" yaml:"file"`

	// Development enables console encoding and stack traces.
	Development bool `toml:"development" yaml:"development"`
}

// Transport selects how the editor connects.
type Transport struct {
	// Stdio serves the protocol over stdin/stdout.
	Stdio bool `toml:"stdio" yaml:"stdio"`

	// Listen is the websocket listen address, e.g. "127.0.0.1:7310".
	// Ignored when Stdio is set.
	Listen string `toml:"listen" yaml:"listen"`

	// Path is the websocket upgrade path.
	Path string `toml:"path" yaml:"path"`
}

// PowerShell configures the engine host process.
type PowerShell struct {
	// Executable is the engine binary to launch.
	Executable string `toml:"executable" yaml:"executable"`

	// Args are extra arguments passed before the host script.
	Args []string `toml:"args" yaml:"args"`

	// StartupTimeout bounds how long to wait for the host to report
	// ready.
	StartupTimeout Duration `toml:"startupTimeout" yaml:"startupTimeout"`
}

// Debug configures debug-session behavior.
type Debug struct {
	// SnapshotDepth is how many levels deep the engine host serializes
	// variable trees per query; remote values below this depth never
	// expand.
	SnapshotDepth int `toml:"snapshotDepth" yaml:"snapshotDepth"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Log: Log{
			Level: "info",
		},
		Transport: Transport{
			Stdio: true,
			Path:  "/debug",
		},
		PowerShell: PowerShell{
			Executable:     "pwsh",
			StartupTimeout: Duration(30 * time.Second),
		},
		Debug: Debug{
			SnapshotDepth: 3,
		},
	}
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Log.Level)
	}

	if !c.Transport.Stdio && c.Transport.Listen == "" {
		return fmt.Errorf("transport requires stdio or a listen address")
	}
	if c.PowerShell.Executable == "" {
		return fmt.Errorf("powershell executable must be set")
	}
	if c.PowerShell.StartupTimeout <= 0 {
		return fmt.Errorf("powershell startup timeout must be positive")
	}
	if c.Debug.SnapshotDepth <= 0 {
		return fmt.Errorf("debug snapshot depth must be positive")
	}
	return nil
}
