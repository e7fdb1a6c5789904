package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(lookupFrom(nil))
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, slog.LevelInfo, cfg.Level)
}

func TestLoadConfig_ValidValues(t *testing.T) {
	cfg, err := LoadConfig(lookupFrom(map[string]string{EnvFormat: "TEXT", EnvLevel: " debug "}))
	require.NoError(t, err)
	assert.Equal(t, "text", cfg.Format)
	assert.Equal(t, slog.LevelDebug, cfg.Level)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "format", env: map[string]string{EnvFormat: "yaml"}, want: EnvFormat},
		{name: "level", env: map[string]string{EnvLevel: "trace"}, want: EnvLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(lookupFrom(tt.env))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNewLogger_JSONIncludesStaticAttrs(t *testing.T) {
	var out bytes.Buffer
	logger := NewLogger(DefaultConfig(), &out, "serve")
	logger.Info("hello", "component", "registry")

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(out.String())), &payload))
	assert.Equal(t, appName, payload["app"])
	assert.Equal(t, "serve", payload["command"])
	assert.Equal(t, "registry", payload["component"])
	assert.Equal(t, "hello", payload["msg"])
}

func TestNewLogger_TextRespectsLevel(t *testing.T) {
	var out bytes.Buffer
	logger := NewLogger(Config{Format: "text", Level: slog.LevelWarn}, &out, "")
	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, out.String(), "hidden")
	assert.Contains(t, out.String(), "msg=shown")
	assert.Contains(t, out.String(), "command="+appName)
}

func TestBootstrap_SetsDefault(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var out bytes.Buffer
	logger, err := Bootstrap(BootstrapOptions{
		Command: "broker-version",
		Writer:  &out,
		Lookup:  lookupFrom(map[string]string{EnvFormat: "json"}),
	})
	require.NoError(t, err)
	require.NotNil(t, logger)

	slog.Info("via default")
	assert.Contains(t, out.String(), `"command":"broker-version"`)
}

func TestBootstrap_InvalidConfig(t *testing.T) {
	_, err := Bootstrap(BootstrapOptions{Lookup: lookupFrom(map[string]string{EnvLevel: "loud"})})
	assert.Error(t, err)
}
