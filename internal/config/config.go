// Package config provides configuration management for loom using Viper
// for loading from files, environment variables and command-line flags.
//
// The configuration is read from a .loom.yml file with LOOM_ prefixed
// environment overrides. It covers the live server, template rendering and
// logging.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/conneroisu/loom/internal/logging"
	"github.com/conneroisu/loom/internal/validation"
)

// Defaults.
const (
	DefaultPort    = 7331
	DefaultHost    = "localhost"
	DefaultSubject = "app"
	DefaultTick    = 10 * time.Millisecond
)

type Config struct {
	Server      ServerConfig `yaml:"server" mapstructure:"server"`
	Render      RenderConfig `yaml:"render" mapstructure:"render"`
	Log         LogConfig    `yaml:"log" mapstructure:"log"`
	TargetFiles []string     `yaml:"-" mapstructure:"-"` // CLI arguments, not from config file
}

type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	Host           string   `yaml:"host" mapstructure:"host"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	// Subject is the id of the element the template renders into.
	Subject string `yaml:"subject" mapstructure:"subject"`
	// Peers maps invocation signatures of other loom processes to their
	// websocket endpoints.
	Peers map[string]string `yaml:"peers" mapstructure:"peers"`
}

type RenderConfig struct {
	TemplateDirs []string      `yaml:"template_dirs" mapstructure:"template_dirs"`
	Extensions   []string      `yaml:"extensions" mapstructure:"extensions"`
	Tick         time.Duration `yaml:"tick" mapstructure:"tick"`
	DebugIR      bool          `yaml:"debug_ir" mapstructure:"debug_ir"`
	// Signature identifies this process's invokables; invocations signed
	// for another context are relayed.
	Signature string `yaml:"signature" mapstructure:"signature"`
}

type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads the configuration viper has collected, applies defaults and
// validates it.
func Load() (*Config, error) {
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Handle slices set via viper as comma separated strings
	if viper.IsSet("render.template_dirs") && len(config.Render.TemplateDirs) == 0 {
		config.Render.TemplateDirs = viper.GetStringSlice("render.template_dirs")
	}
	if viper.IsSet("server.allowed_origins") && len(config.Server.AllowedOrigins) == 0 {
		config.Server.AllowedOrigins = viper.GetStringSlice("server.allowed_origins")
	}

	if config.Server.Host == "" {
		config.Server.Host = DefaultHost
	}
	if !viper.IsSet("server.port") {
		config.Server.Port = DefaultPort
	}
	if config.Server.Subject == "" {
		config.Server.Subject = DefaultSubject
	}

	if len(config.Render.TemplateDirs) == 0 {
		config.Render.TemplateDirs = []string{"./templates"}
	}
	if len(config.Render.Extensions) == 0 {
		config.Render.Extensions = []string{".loom", ".html"}
	}
	if config.Render.Tick == 0 {
		config.Render.Tick = DefaultTick
	}

	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "text"
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &config, nil
}

// Logger builds the logger the configuration describes.
func (c *Config) Logger() *logging.LoomLogger {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.ParseLevel(c.Log.Level)
	cfg.Format = c.Log.Format
	return logging.NewLogger(cfg)
}

// Addr returns the listen address of the live server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// validateConfig validates configuration values for security and correctness
func validateConfig(config *Config) error {
	if err := validateServerConfig(&config.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := validateRenderConfig(&config.Render); err != nil {
		return fmt.Errorf("render config: %w", err)
	}
	if err := validateLogConfig(&config.Log); err != nil {
		return fmt.Errorf("log config: %w", err)
	}
	return nil
}

func validateServerConfig(config *ServerConfig) error {
	// Allow 0 for system-assigned ports in testing
	if config.Port < 0 || config.Port > 65535 {
		return fmt.Errorf("port %d is not in valid range 0-65535", config.Port)
	}
	if err := validateHostname(config.Host); err != nil {
		return fmt.Errorf("host %q: %w", config.Host, err)
	}
	if strings.ContainsAny(config.Subject, " \t\n\"'<>") {
		return fmt.Errorf("subject %q is not a valid element id", config.Subject)
	}
	for signature, endpoint := range config.Peers {
		if err := validation.ValidateEndpoint(endpoint); err != nil {
			return fmt.Errorf("peer %q: %w", signature, err)
		}
	}
	return nil
}

func validateRenderConfig(config *RenderConfig) error {
	for _, dir := range config.TemplateDirs {
		if err := validatePath(dir); err != nil {
			return fmt.Errorf("invalid template dir '%s': %w", dir, err)
		}
	}
	for _, ext := range config.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("extension %q must start with a dot", ext)
		}
	}
	if config.Tick < 0 {
		return fmt.Errorf("tick %s is negative", config.Tick)
	}
	return nil
}

func validateLogConfig(config *LogConfig) error {
	switch strings.ToLower(config.Level) {
	case "debug", "info", "warn", "warning", "error", "fatal":
	default:
		return fmt.Errorf("unknown level %q", config.Level)
	}
	if config.Format != "text" && config.Format != "json" {
		return fmt.Errorf("unknown format %q", config.Format)
	}
	return nil
}

// validatePath validates a file path for security
func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}

	cleanPath := filepath.Clean(path)

	// Reject path traversal attempts
	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("path contains traversal: %s", path)
	}

	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'"}
	for _, char := range dangerousChars {
		if strings.Contains(cleanPath, char) {
			return fmt.Errorf("path contains dangerous character: %s", char)
		}
	}

	return nil
}
