package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/codefionn/intentest/internal/consts"
	"github.com/codefionn/intentest/internal/logger"
)

// Environment variables overriding file values.
const (
	EnvConfigPath = "INTENTEST_CONFIG"
	EnvLogLevel   = "INTENTEST_LOG_LEVEL"
	EnvLogPath    = "INTENTEST_LOG_PATH"
	EnvPort       = "INTENTEST_PORT"
)

// BackendConfig describes how to launch a local tester service when no port
// is configured.
type BackendConfig struct {
	Command               []string          `json:"command,omitempty"`
	WorkingDir            string            `json:"working_dir,omitempty"`
	Env                   map[string]string `json:"env,omitempty"`
	StartupTimeoutSeconds int               `json:"startup_timeout_seconds"`
}

// WebConfig controls the browser view of running sessions
type WebConfig struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address"` // host:port the web view listens on
}

// RenderConfig controls terminal output
type RenderConfig struct {
	Markdown bool   `json:"markdown"`
	Width    int    `json:"width"`           // 0 = terminal width
	Style    string `json:"style,omitempty"` // glamour style name, empty = auto
}

// Config represents application configuration
type Config struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"` // 0 = launch the backend command
	JUnitVersion   string        `json:"junit_version"`
	ConnectTimeout int           `json:"connect_timeout_seconds"`
	RequestTimeout int           `json:"request_timeout_seconds"`
	IdleTimeout    int           `json:"idle_timeout_seconds"` // 0 disables the idle timeout
	LogLevel       string        `json:"log_level"`            // debug, info, warn, error, none
	LogPath        string        `json:"log_path,omitempty"`
	Backend        BackendConfig `json:"backend"`
	Web            WebConfig     `json:"web"`
	Render         RenderConfig  `json:"render"`
}

func defaultConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, "intentest")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Roaming", "intentest")
	default:
		if configHome := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); configHome != "" {
			return filepath.Join(configHome, "intentest")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", "intentest")
	}
}

func defaultStateDir() string {
	switch runtime.GOOS {
	case "linux":
		if stateHome := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); stateHome != "" {
			return filepath.Join(stateHome, "intentest")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".local", "state", "intentest")
	case "windows":
		if localAppData := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); localAppData != "" {
			return filepath.Join(localAppData, "intentest")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Local", "intentest")
	default:
		return defaultConfigDir()
	}
}

// DefaultLogPath returns the log file used when log_path is not set
func DefaultLogPath() string {
	return filepath.Join(defaultStateDir(), "intentest.log")
}

// DefaultPidPath returns where the pid of a launched backend is recorded
func DefaultPidPath() string {
	return filepath.Join(defaultStateDir(), "backend.pid")
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Host:           "localhost",
		Port:           consts.DefaultServicePort,
		JUnitVersion:   consts.DefaultJUnitVersion,
		ConnectTimeout: int(consts.Timeout10Seconds / time.Second),
		RequestTimeout: int(consts.Timeout30Seconds / time.Second),
		IdleTimeout:    int(consts.DefaultIdleTimeout / time.Second),
		LogLevel:       "info",
		Backend: BackendConfig{
			StartupTimeoutSeconds: 60,
		},
		Web: WebConfig{
			Address: "127.0.0.1:8765",
		},
		Render: RenderConfig{
			Markdown: true,
		},
	}
}

// Load loads configuration from file. A missing file yields the defaults.
// Environment overrides are applied on top of the file.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		// Unmarshal into default config (overrides only provided fields)
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		logger.Debug("config: %s not found, using defaults", path)
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}

	if config.Host == "" {
		config.Host = "localhost"
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	if config.JUnitVersion == "" {
		config.JUnitVersion = consts.DefaultJUnitVersion
	}

	return config, nil
}

func (c *Config) applyEnv() error {
	if level := strings.TrimSpace(os.Getenv(EnvLogLevel)); level != "" {
		c.LogLevel = level
	}
	if path := strings.TrimSpace(os.Getenv(EnvLogPath)); path != "" {
		c.LogPath = path
	}
	if port := strings.TrimSpace(os.Getenv(EnvPort)); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvPort, port, err)
		}
		c.Port = p
	}
	return nil
}

// Validate reports every invalid field at once
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Host) == "" {
		errs = append(errs, errors.New("host must not be empty"))
	}
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Port == 0 && len(c.Backend.Command) == 0 {
		errs = append(errs, errors.New("port 0 requires backend.command"))
	}
	if strings.TrimSpace(c.JUnitVersion) == "" {
		errs = append(errs, errors.New("junit_version must not be empty"))
	}
	if c.ConnectTimeout < 0 || c.RequestTimeout < 0 || c.IdleTimeout < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	if c.Backend.StartupTimeoutSeconds < 0 {
		errs = append(errs, errors.New("backend.startup_timeout_seconds must not be negative"))
	}
	if _, err := logger.ParseLevelStrict(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.Web.Enabled && strings.TrimSpace(c.Web.Address) == "" {
		errs = append(errs, errors.New("web.address is required when the web view is enabled"))
	}
	if c.Render.Width < 0 {
		errs = append(errs, errors.New("render.width must not be negative"))
	}

	return errors.Join(errs...)
}

// ConnectTimeoutDuration returns connect_timeout_seconds as a duration
func (c *Config) ConnectTimeoutDuration() time.Duration {
	return time.Duration(c.ConnectTimeout) * time.Second
}

// RequestTimeoutDuration returns request_timeout_seconds as a duration
func (c *Config) RequestTimeoutDuration() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// IdleTimeoutDuration returns idle_timeout_seconds as a duration
func (c *Config) IdleTimeoutDuration() time.Duration {
	return time.Duration(c.IdleTimeout) * time.Second
}

// StartupTimeout returns the backend startup timeout
func (b BackendConfig) StartupTimeout() time.Duration {
	if b.StartupTimeoutSeconds <= 0 {
		return consts.Timeout30Seconds
	}
	return time.Duration(b.StartupTimeoutSeconds) * time.Second
}

// Save saves configuration to file
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	// Write next to the target and rename so watchers never see a partial file
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// GetConfigPath returns the config path, honoring INTENTEST_CONFIG
func GetConfigPath() string {
	if path := strings.TrimSpace(os.Getenv(EnvConfigPath)); path != "" {
		return path
	}
	return filepath.Join(defaultConfigDir(), "config.json")
}
