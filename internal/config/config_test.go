package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromEnv_Success(t *testing.T) {
	t.Setenv("APP_HOST", "127.0.0.1")
	t.Setenv("APP_PORT", "9090")
	t.Setenv("QUEUE_PROVIDER", "RABBITMQ")

	got, err := LoadFromEnv(os.LookupEnv)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.AppHost != "127.0.0.1" || got.AppPort != "9090" {
		t.Fatalf("unexpected config values: %+v", got)
	}
	if got.Addr() != "127.0.0.1:9090" {
		t.Fatalf("unexpected addr: %s", got.Addr())
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	env := map[string]string{"APP_HOST": "0.0.0.0", "APP_PORT": "8080"}
	got, err := LoadFromEnv(mapLookup(env))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.QueueProvider != "RABBITMQ" {
		t.Fatalf("unexpected provider: %s", got.QueueProvider)
	}
	if got.ListenExchange != DefaultListenExchange || got.PushExchange != DefaultPushExchange {
		t.Fatalf("unexpected exchanges: %s %s", got.ListenExchange, got.PushExchange)
	}
	if got.BrokerTimeout != DefaultBrokerTimeout {
		t.Fatalf("unexpected timeout: %s", got.BrokerTimeout)
	}
	if got.BrokerConnectRetries != DefaultConnectRetries {
		t.Fatalf("unexpected retries: %d", got.BrokerConnectRetries)
	}
	if got.HealthSchedule != DefaultSchedule || got.MetricsSchedule != DefaultSchedule {
		t.Fatalf("unexpected schedules: %s %s", got.HealthSchedule, got.MetricsSchedule)
	}
	if got.EventsSubject != DefaultEventsSubject || got.ExpectedBrokerVersion != DefaultBrokerVersion {
		t.Fatalf("unexpected defaults: %+v", got)
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	env := map[string]string{
		"APP_HOST":                "0.0.0.0",
		"APP_PORT":                "8080",
		"BROKER_TIMEOUT":          "3s",
		"BROKER_CONNECT_RETRIES":  "0",
		"CONNECTOR_PUSH_EXCHANGE": "custom.push",
		"NATS_URL":                "nats://localhost:4222",
	}
	got, err := LoadFromEnv(mapLookup(env))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.BrokerTimeout != 3*time.Second {
		t.Fatalf("unexpected timeout: %s", got.BrokerTimeout)
	}
	if got.BrokerConnectRetries != 0 {
		t.Fatalf("unexpected retries: %d", got.BrokerConnectRetries)
	}
	if got.PushExchange != "custom.push" || got.NATSURL != "nats://localhost:4222" {
		t.Fatalf("unexpected overrides: %+v", got)
	}
}

func TestLoadFromEnv_Invalid(t *testing.T) {
	base := func() map[string]string {
		return map[string]string{"APP_HOST": "0.0.0.0", "APP_PORT": "8080"}
	}
	cases := map[string]map[string]string{
		"bad timeout":      {"BROKER_TIMEOUT": "soon"},
		"negative timeout": {"BROKER_TIMEOUT": "-1s"},
		"bad retries":      {"BROKER_CONNECT_RETRIES": "many"},
		"negative retries": {"BROKER_CONNECT_RETRIES": "-2"},
		"same exchanges":   {"CONNECTOR_LISTEN_EXCHANGE": "x", "CONNECTOR_PUSH_EXCHANGE": "x"},
	}
	for name, extra := range cases {
		t.Run(name, func(t *testing.T) {
			env := base()
			for k, v := range extra {
				env[k] = v
			}
			if _, err := LoadFromEnv(mapLookup(env)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadFromEnv_MissingHost(t *testing.T) {
	t.Setenv("APP_HOST", "")
	t.Setenv("APP_PORT", "8080")
	_, err := LoadFromEnv(os.LookupEnv)
	if err == nil {
		t.Fatalf("expected error for missing APP_HOST")
	}
}

func TestLoadFromEnv_MissingPort(t *testing.T) {
	t.Setenv("APP_HOST", "0.0.0.0")
	t.Setenv("APP_PORT", "")
	_, err := LoadFromEnv(os.LookupEnv)
	if err == nil {
		t.Fatalf("expected error for missing APP_PORT")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("CQM_DOTENV_TEST=loaded\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("CQM_DOTENV_TEST") })

	got := LoadDotEnv(filepath.Join(dir, "missing.env"), path)
	if got != path {
		t.Fatalf("expected %s, got %q", path, got)
	}
	if os.Getenv("CQM_DOTENV_TEST") != "loaded" {
		t.Fatalf("expected variable to be loaded")
	}
}

func TestLoadDotEnv_NoFile(t *testing.T) {
	if got := LoadDotEnv(filepath.Join(t.TempDir(), "nope.env")); got != "" {
		t.Fatalf("expected no file, got %q", got)
	}
}

func mapLookup(m map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}
