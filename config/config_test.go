package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, ":8091", cfg.ListenAddress)
	assert.Equal(t, "/_p", cfg.UIPrefix)
	assert.Equal(t, "ns-server-auth-token", cfg.IdentityHeader)
	assert.Equal(t, 60*time.Second, cfg.ProxyTimeout())
	assert.Equal(t, 25*time.Second, cfg.MaxWait())
	require.NoError(t, cfg.Validate())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.json")
	payload := `{
		"listen_address": ":9000",
		"ui_prefix": "/_p",
		"plugin_dir": "/etc/nsgateway/plugins",
		"proxy_timeout": "30s",
		"max_wait": "10s",
		"rate_limit": 100,
		"nats": {"url": "nats://localhost:4222"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.ListenAddress)
	assert.Equal(t, "/etc/nsgateway/plugins", cfg.PluginDir)
	assert.Equal(t, 30*time.Second, cfg.ProxyTimeout())
	assert.Equal(t, 10*time.Second, cfg.MaxWait())
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, 100, cfg.RateBurst, "burst defaults from rate limit")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty listen address", func(c *Config) { c.ListenAddress = "" }},
		{"relative ui prefix", func(c *Config) { c.UIPrefix = "_p" }},
		{"zero max request size", func(c *Config) { c.MaxRequestSize = 0 }},
		{"negative rate limit", func(c *Config) { c.RateLimit = -1 }},
		{"bad proxy timeout", func(c *Config) { c.ProxyTimeoutStr = "fast" }},
		{"negative max wait", func(c *Config) { c.MaxWaitStr = "-5s" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSafeConfig(t *testing.T) {
	sc := NewSafeConfig(nil)
	require.NotNil(t, sc.Get())

	updated := Default()
	updated.ListenAddress = ":9999"
	require.NoError(t, sc.Update(updated))
	assert.Equal(t, ":9999", sc.Get().ListenAddress)

	bad := Default()
	bad.ListenAddress = ""
	assert.Error(t, sc.Update(bad))
	assert.Equal(t, ":9999", sc.Get().ListenAddress, "failed update must not apply")

	assert.Error(t, sc.Update(nil))
}
