package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
server:
  http_port: 9090
bus:
  url: nats://nats:4222
  stream_name: CHORUS_TEST
session:
  dm_ttl: 1h
  guild_ttl: 15m
dispatch:
  blackout_duration: 5m
  default_model_path: local/llama3
router:
  mention_marker: "@"
  proxy_username_patterns:
    - "| chorus"
security:
  enable_auth: true
  jwt_secret: ${CHORUS_TEST_SECRET}
providers:
  - id: local
    type: ollama
    endpoint: http://localhost:11434
    model: llama3
    enabled: true
personas:
  problematic:
    - name: Glitch
      fallbacks:
        - "Give me a moment."
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chorus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFromFile(t *testing.T) {
	t.Setenv("CHORUS_TEST_SECRET", "s3cret")

	cfg, err := LoadFromFile(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.HTTPPort)
	assert.Equal(t, "CHORUS_TEST", cfg.Bus.StreamName)
	assert.Equal(t, time.Hour, cfg.Session.DMTTL)
	assert.Equal(t, 15*time.Minute, cfg.Session.GuildTTL)
	assert.Equal(t, 5*time.Minute, cfg.Dispatch.BlackoutDuration)
	assert.Equal(t, "local/llama3", cfg.Dispatch.DefaultModelPath)
	assert.Equal(t, "s3cret", cfg.Security.JWTSecret, "env vars expand before parsing")
	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, "ollama", cfg.Providers[0].Type)
	require.Len(t, cfg.Personas.Problematic, 1)
	assert.Equal(t, "Glitch", cfg.Personas.Problematic[0].Name)

	// Unset fields keep their defaults.
	assert.Equal(t, 45*time.Second, cfg.Dispatch.CallTimeout)
	assert.Equal(t, 5*time.Second, cfg.Dispatch.PendingGrace)
}

func TestLoadFromFile_MissingFile(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults without auth pass",
			mutate: func(c *Config) { c.Security.EnableAuth = false },
		},
		{
			name:    "auth without secret fails",
			mutate:  func(c *Config) { c.Security.EnableAuth = true; c.Security.JWTSecret = "" },
			wantErr: "jwt_secret",
		},
		{
			name: "duplicate provider ids fail",
			mutate: func(c *Config) {
				c.Security.EnableAuth = false
				c.Providers = []Provider{{ID: "a"}, {ID: "a"}}
			},
			wantErr: "duplicate provider id",
		},
		{
			name: "provider without id fails",
			mutate: func(c *Config) {
				c.Security.EnableAuth = false
				c.Providers = []Provider{{Type: "ollama"}}
			},
			wantErr: "must have an id",
		},
		{
			name: "negative ttl fails",
			mutate: func(c *Config) {
				c.Security.EnableAuth = false
				c.Session.GuildTTL = -time.Minute
			},
			wantErr: "must not be negative",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, "server:\n  http_port: 1000\nsecurity:\n  enable_auth: false\n")

	var mu sync.Mutex
	var got []*Config
	w := NewWatcher(path, func(cfg *Config) {
		mu.Lock()
		got = append(got, cfg)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher time to register before mutating the file.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("server:\n  http_port: 2000\nsecurity:\n  enable_auth: false\n"), 0o644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) >= 1
	}, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	assert.Equal(t, 2000, got[len(got)-1].Server.HTTPPort)
	mu.Unlock()

	cancel()
	require.NoError(t, <-done)
}

func TestWatcherKeepsPreviousConfigOnBadYAML(t *testing.T) {
	path := writeConfig(t, "server:\n  http_port: 1000\nsecurity:\n  enable_auth: false\n")

	var mu sync.Mutex
	calls := 0
	w := NewWatcher(path, func(cfg *Config) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("{{nonsense"), 0o644))

	// The bad write must never reach the callback.
	time.Sleep(600 * time.Millisecond)
	mu.Lock()
	assert.Zero(t, calls)
	mu.Unlock()
}
