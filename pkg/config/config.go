// Package config provides configuration loading, device profiles and
// binding storage
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap/zapcore"

	"padlink/pkg/dispatch"
	"padlink/pkg/serial"
)

// AppName names the configuration directory
const AppName = "padlink"

// Duration is a time.Duration written as text ("150ms", "2.5s") in config files
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the complete padlink configuration
type Config struct {
	Serial   SerialSection   `toml:"serial" yaml:"serial" json:"serial"`
	Device   DeviceSection   `toml:"device" yaml:"device" json:"device"`
	Dispatch DispatchSection `toml:"dispatch" yaml:"dispatch" json:"dispatch"`
	Executor ExecutorSection `toml:"executor" yaml:"executor" json:"executor"`
	Bindings BindingsSection `toml:"bindings" yaml:"bindings" json:"bindings"`
	Catalog  CatalogSection  `toml:"catalog" yaml:"catalog" json:"catalog"`
	Log      LogSection      `toml:"log" yaml:"log" json:"log"`
}

// SerialSection configures the port and device discovery
type SerialSection struct {
	// Port skips discovery when set
	Port         string   `toml:"port" yaml:"port" json:"port"`
	BaudRate     int      `toml:"baud_rate" yaml:"baud_rate" json:"baud_rate"`
	ReadTimeout  Duration `toml:"read_timeout" yaml:"read_timeout" json:"read_timeout"`
	ProbeTimeout Duration `toml:"probe_timeout" yaml:"probe_timeout" json:"probe_timeout"`
	JoinTimeout  Duration `toml:"join_timeout" yaml:"join_timeout" json:"join_timeout"`
	StrictProbe  bool     `toml:"strict_probe" yaml:"strict_probe" json:"strict_probe"`
}

// DispatchSection configures cooldowns and encoder quantization
type DispatchSection struct {
	KeyCooldown           Duration `toml:"key_cooldown" yaml:"key_cooldown" json:"key_cooldown"`
	EncoderCooldown       Duration `toml:"encoder_cooldown" yaml:"encoder_cooldown" json:"encoder_cooldown"`
	ButtonCooldown        Duration `toml:"button_cooldown" yaml:"button_cooldown" json:"button_cooldown"`
	EncoderStepsPerAction int      `toml:"encoder_steps_per_action" yaml:"encoder_steps_per_action" json:"encoder_steps_per_action"`
}

// ExecutorSection configures the macro worker pool
type ExecutorSection struct {
	Workers int  `toml:"workers" yaml:"workers" json:"workers"`
	DryRun  bool `toml:"dry_run" yaml:"dry_run" json:"dry_run"`
}

// BindingsSection selects where profile bindings are stored
type BindingsSection struct {
	Backend string `toml:"backend" yaml:"backend" json:"backend"`
	Path    string `toml:"path" yaml:"path" json:"path"`
	Profile string `toml:"profile" yaml:"profile" json:"profile"`
	Watch   bool   `toml:"watch" yaml:"watch" json:"watch"`
}

// CatalogSection points at a user macro catalog. Empty uses the built-in one.
type CatalogSection struct {
	Path string `toml:"path" yaml:"path" json:"path"`
}

// LogSection configures zap
type LogSection struct {
	Level  string `toml:"level" yaml:"level" json:"level"`
	Format string `toml:"format" yaml:"format" json:"format"`
	File   string `toml:"file" yaml:"file" json:"file"`
}

// Binding store back ends
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// DefaultConfig returns the built-in configuration
func DefaultConfig() *Config {
	timing := dispatch.DefaultTiming()
	return &Config{
		Serial: SerialSection{
			BaudRate:     serial.DefaultBaudRate,
			ReadTimeout:  Duration(serial.DefaultReadTimeout),
			ProbeTimeout: Duration(2500 * time.Millisecond),
			JoinTimeout:  Duration(time.Second),
		},
		Device: DefaultDeviceSection(),
		Dispatch: DispatchSection{
			KeyCooldown:           Duration(timing.KeyCooldown),
			EncoderCooldown:       Duration(timing.EncoderCooldown),
			ButtonCooldown:        Duration(timing.ButtonCooldown),
			EncoderStepsPerAction: timing.StepsPerAction,
		},
		Executor: ExecutorSection{Workers: 2},
		Bindings: BindingsSection{
			Backend: BackendJSON,
			Profile: "Default",
			Watch:   true,
		},
		Log: LogSection{Level: "info", Format: "console"},
	}
}

// Validate checks the configuration for values the pipeline cannot run with
func (c *Config) Validate() error {
	if c.Serial.BaudRate <= 0 {
		return fmt.Errorf("serial.baud_rate must be positive, got: %d", c.Serial.BaudRate)
	}
	if c.Serial.ReadTimeout <= 0 {
		return fmt.Errorf("serial.read_timeout must be positive")
	}
	if c.Serial.ProbeTimeout <= 0 {
		return fmt.Errorf("serial.probe_timeout must be positive")
	}
	if c.Serial.JoinTimeout <= 0 {
		return fmt.Errorf("serial.join_timeout must be positive")
	}

	if c.Dispatch.KeyCooldown < 0 || c.Dispatch.EncoderCooldown < 0 || c.Dispatch.ButtonCooldown < 0 {
		return fmt.Errorf("dispatch cooldowns cannot be negative")
	}

	if c.Executor.Workers < 1 {
		return fmt.Errorf("executor.workers must be at least 1, got: %d", c.Executor.Workers)
	}

	switch c.Bindings.Backend {
	case BackendJSON, BackendSQLite:
	default:
		return fmt.Errorf("invalid bindings.backend: %s", c.Bindings.Backend)
	}

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log.level: %w", err)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log.format: %s", c.Log.Format)
	}

	if err := c.Device.Validate(); err != nil {
		return fmt.Errorf("invalid device section: %w", err)
	}

	return nil
}

// ApplyEnvOverrides applies PADLINK_* environment variables
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("PADLINK_PORT"); v != "" {
		c.Serial.Port = v
	}
	if v := os.Getenv("PADLINK_PROFILE"); v != "" {
		c.Bindings.Profile = v
	}
	if v := os.Getenv("PADLINK_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("PADLINK_DRY_RUN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Executor.DryRun = b
		}
	}
}

// SerialConfig returns the port settings for go.bug.st/serial. Port is left
// as configured, which may be empty.
func (c *Config) SerialConfig() serial.SerialConfig {
	sc := serial.DefaultConfig()
	sc.Port = c.Serial.Port
	sc.BaudRate = c.Serial.BaudRate
	sc.ReadTimeout = c.Serial.ReadTimeout.Std()
	return sc
}

// Timing returns the dispatcher timing
func (c *Config) Timing() dispatch.Timing {
	return dispatch.Timing{
		KeyCooldown:     c.Dispatch.KeyCooldown.Std(),
		EncoderCooldown: c.Dispatch.EncoderCooldown.Std(),
		ButtonCooldown:  c.Dispatch.ButtonCooldown.Std(),
		StepsPerAction:  c.Dispatch.EncoderStepsPerAction,
	}
}

// BindingsPath returns the configured store path, or the default file in
// DefaultDir for the backend
func (c *Config) BindingsPath() string {
	if c.Bindings.Path != "" {
		return c.Bindings.Path
	}
	name := "bindings.json"
	if c.Bindings.Backend == BackendSQLite {
		name = "bindings.db"
	}
	return filepath.Join(DefaultDir(), name)
}

// DefaultDir returns the per-user configuration directory
func DefaultDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "." + AppName
	}
	return filepath.Join(dir, AppName)
}

// DefaultPath returns the default configuration file
func DefaultPath() string {
	return filepath.Join(DefaultDir(), "config.toml")
}
