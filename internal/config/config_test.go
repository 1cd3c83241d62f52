package config

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvConfigPath, EnvLogLevel, EnvLogPath, EnvPort} {
		t.Setenv(key, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 12580, cfg.Port)
	assert.Equal(t, "5", cfg.JUnitVersion)
	assert.Equal(t, 10*time.Minute, cfg.IdleTimeoutDuration())
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeoutDuration())
	assert.Equal(t, 30*time.Second, cfg.RequestTimeoutDuration())
	assert.True(t, cfg.Render.Markdown)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadOverridesOnlyProvidedFields(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"port": 9000, "junit_version": "4", "idle_timeout_seconds": 0}`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "4", cfg.JUnitVersion)
	assert.Equal(t, time.Duration(0), cfg.IdleTimeoutDuration())
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadInvalidJSON(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"port": `), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvLogLevel, "debug")
	t.Setenv(EnvLogPath, "/tmp/intentest-test.log")
	t.Setenv(EnvPort, "4242")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/tmp/intentest-test.log", cfg.LogPath)
	assert.Equal(t, 4242, cfg.Port)

	t.Setenv(EnvPort, "not-a-port")
	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "empty host", mutate: func(c *Config) { c.Host = " " }, wantErr: true},
		{name: "port out of range", mutate: func(c *Config) { c.Port = 70000 }, wantErr: true},
		{name: "port zero without backend", mutate: func(c *Config) { c.Port = 0 }, wantErr: true},
		{name: "port zero with backend", mutate: func(c *Config) {
			c.Port = 0
			c.Backend.Command = []string{"python", "main.py"}
		}},
		{name: "negative timeout", mutate: func(c *Config) { c.IdleTimeout = -1 }, wantErr: true},
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "loud" }, wantErr: true},
		{name: "web without address", mutate: func(c *Config) {
			c.Web.Enabled = true
			c.Web.Address = ""
		}, wantErr: true},
		{name: "empty junit version", mutate: func(c *Config) { c.JUnitVersion = "" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	cfg := DefaultConfig()
	cfg.JUnitVersion = "4"
	cfg.Backend.Command = []string{"python", "backend/main.py"}
	cfg.Backend.Env = map[string]string{"MODEL": "gpt"}
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv(EnvConfigPath, "/etc/intentest.json")
	assert.Equal(t, "/etc/intentest.json", GetConfigPath())

	t.Setenv(EnvConfigPath, "")
	assert.Equal(t, "config.json", filepath.Base(GetConfigPath()))
}

func TestBackendStartupTimeout(t *testing.T) {
	assert.Equal(t, 30*time.Second, BackendConfig{}.StartupTimeout())
	assert.Equal(t, 5*time.Second, BackendConfig{StartupTimeoutSeconds: 5}.StartupTimeout())
}

func TestWatch(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, DefaultConfig().Save(path))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 8)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(cfg *Config, err error) {
			if err == nil {
				changes <- cfg
			}
		})
	}()

	// give the watcher time to register before writing
	time.Sleep(200 * time.Millisecond)

	cfg := DefaultConfig()
	cfg.JUnitVersion = "4"
	require.NoError(t, cfg.Save(path))

	select {
	case got := <-changes:
		assert.Equal(t, "4", got.JUnitVersion)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestStatePaths(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("XDG_STATE_HOME is only honored on linux")
	}
	dir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", dir)

	assert.Equal(t, filepath.Join(dir, "intentest", "intentest.log"), DefaultLogPath())
	assert.Equal(t, filepath.Join(dir, "intentest", "backend.pid"), DefaultPidPath())
}
