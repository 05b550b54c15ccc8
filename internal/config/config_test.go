package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		setup       func()
		expectError bool
		check       func(t *testing.T, c *Config)
	}{
		{
			name:  "defaults",
			setup: func() {},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, DefaultPort, c.Server.Port)
				assert.Equal(t, DefaultHost, c.Server.Host)
				assert.Equal(t, DefaultSubject, c.Server.Subject)
				assert.Equal(t, []string{"./templates"}, c.Render.TemplateDirs)
				assert.Equal(t, []string{".loom", ".html"}, c.Render.Extensions)
				assert.Equal(t, DefaultTick, c.Render.Tick)
				assert.Equal(t, "info", c.Log.Level)
				assert.Equal(t, "text", c.Log.Format)
				assert.Empty(t, c.TargetFiles)
			},
		},
		{
			name: "explicit values",
			setup: func() {
				viper.Set("server.port", 0)
				viper.Set("server.host", "0.0.0.0")
				viper.Set("server.subject", "root")
				viper.Set("render.template_dirs", []string{"./views", "./partials"})
				viper.Set("render.tick", "25ms")
				viper.Set("render.debug_ir", true)
				viper.Set("log.level", "debug")
				viper.Set("log.format", "json")
			},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, 0, c.Server.Port)
				assert.Equal(t, "0.0.0.0", c.Server.Host)
				assert.Equal(t, "root", c.Server.Subject)
				assert.Equal(t, []string{"./views", "./partials"}, c.Render.TemplateDirs)
				assert.Equal(t, 25*time.Millisecond, c.Render.Tick)
				assert.True(t, c.Render.DebugIR)
				assert.Equal(t, "json", c.Log.Format)
			},
		},
		{
			name:        "invalid port type",
			setup:       func() { viper.Set("server.port", "invalid_port") },
			expectError: true,
		},
		{
			name:        "port out of range",
			setup:       func() { viper.Set("server.port", 70000) },
			expectError: true,
		},
		{
			name:        "dangerous host",
			setup:       func() { viper.Set("server.host", "localhost; rm -rf /") },
			expectError: true,
		},
		{
			name:        "template dir traversal",
			setup:       func() { viper.Set("render.template_dirs", []string{"../../etc"}) },
			expectError: true,
		},
		{
			name:        "extension without dot",
			setup:       func() { viper.Set("render.extensions", []string{"loom"}) },
			expectError: true,
		},
		{
			name: "peers",
			setup: func() {
				viper.Set("render.signature", "edge")
				viper.Set("server.peers", map[string]string{"core": "ws://core.internal:7331/ws"})
			},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, "edge", c.Render.Signature)
				assert.Equal(t, map[string]string{"core": "ws://core.internal:7331/ws"}, c.Server.Peers)
			},
		},
		{
			name:        "peer without websocket scheme",
			setup:       func() { viper.Set("server.peers", map[string]string{"core": "http://core/ws"}) },
			expectError: true,
		},
		{
			name:        "unknown log format",
			setup:       func() { viper.Set("log.format", "xml") },
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			viper.Reset()
			tt.setup()

			config, err := Load()
			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, config)
				return
			}
			require.NoError(t, err)
			tt.check(t, config)
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	viper.Reset()
	path := filepath.Join(t.TempDir(), ".loom.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
  allowed_origins:
    - http://localhost:9090
render:
  template_dirs: [./site]
  tick: 50ms
log:
  level: warn
`), 0o644))

	viper.SetConfigFile(path)
	require.NoError(t, viper.ReadInConfig())

	config, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, config.Server.Port)
	assert.Equal(t, []string{"http://localhost:9090"}, config.Server.AllowedOrigins)
	assert.Equal(t, []string{"./site"}, config.Render.TemplateDirs)
	assert.Equal(t, 50*time.Millisecond, config.Render.Tick)
	assert.Equal(t, "warn", config.Log.Level)
	assert.Equal(t, "localhost:9090", config.Addr())
}

func TestLoadWithEnvironment(t *testing.T) {
	viper.Reset()
	t.Setenv("LOOM_SERVER_PORT", "9999")
	t.Setenv("LOOM_SERVER_HOST", "127.0.0.1")

	viper.SetEnvPrefix("LOOM")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	require.NoError(t, viper.BindEnv("server.port"))
	require.NoError(t, viper.BindEnv("server.host"))

	config, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9999, config.Server.Port)
	assert.Equal(t, "127.0.0.1", config.Server.Host)
}

func TestLogger(t *testing.T) {
	viper.Reset()
	viper.Set("log.level", "debug")
	config, err := Load()
	require.NoError(t, err)
	assert.NotNil(t, config.Logger())
}

func TestValidateConfigWithDetails(t *testing.T) {
	viper.Reset()
	config, err := Load()
	require.NoError(t, err)

	config.Server.Port = 80
	config.Server.AllowedOrigins = []string{"*"}
	config.Render.TemplateDirs = []string{t.TempDir(), "./does-not-exist"}
	config.Render.Tick = 2 * time.Second

	result := ValidateConfigWithDetails(config)
	assert.True(t, result.Valid)
	assert.False(t, result.HasErrors())
	require.True(t, result.HasWarnings())

	var fields []string
	for _, w := range result.Warnings {
		fields = append(fields, w.Field)
	}
	assert.ElementsMatch(t, []string{"server.port", "server.allowed_origins", "render.template_dirs", "render.tick"}, fields)
	assert.Contains(t, result.String(), "Validation warnings")

	config.Server.Host = "bad host!"
	config.Log.Level = "loud"
	result = ValidateConfigWithDetails(config)
	assert.False(t, result.Valid)
	assert.Len(t, result.Errors, 2)
	assert.Contains(t, result.String(), "server.host")
}

func TestValidateHostname(t *testing.T) {
	for _, host := range []string{"", "localhost", "127.0.0.1", "::1", "example.com", "a-b.c"} {
		assert.NoError(t, validateHostname(host), host)
	}
	for _, host := range []string{"a;b", "$(x)", "-bad", "spa ce"} {
		assert.Error(t, validateHostname(host), host)
	}
}
