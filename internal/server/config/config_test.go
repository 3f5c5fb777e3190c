package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.LoadDefaults()

	assert.Equal(t, ":8080", cfg.EndpointAddrHTTP)
	assert.Equal(t, 30*time.Minute, cfg.AccessTokenValidity)
	assert.Equal(t, 7*24*time.Hour, cfg.RefreshTokenValidity)
	assert.Zero(t, cfg.ReuseGraceWindow)
}

func TestParseJSONOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf.json")
	body, err := json.Marshal(map[string]any{
		"endpoint_addr_http":         ":9999",
		"access_token_minutes":       5,
		"refresh_token_days":         14,
		"reuse_grace_window_seconds": 2,
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, body, 0o600))

	oldArgs := os.Args
	os.Args = []string{"server", "-c", path}
	defer func() { os.Args = oldArgs }()

	cfg := &Config{}
	cfg.LoadDefaults()
	parseJSON(cfg)

	assert.Equal(t, ":9999", cfg.EndpointAddrHTTP)
	assert.Equal(t, 5*time.Minute, cfg.AccessTokenValidity)
	assert.Equal(t, 14*24*time.Hour, cfg.RefreshTokenValidity)
	assert.Equal(t, 2*time.Second, cfg.ReuseGraceWindow)
	// untouched fields keep their defaults
	assert.Equal(t, "secretKey", cfg.SecretKey)
}
