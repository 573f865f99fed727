package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("PORT", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, MirrorRedis, cfg.PresenceMirror)
	assert.Equal(t, 30*time.Second, cfg.Call.RingTimeout)
	assert.Equal(t, time.Second, cfg.Call.DuplicateWindow)
	assert.Equal(t, []string{"http://localhost:3000", "http://localhost:5173"}, cfg.AllowedOrigins)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "9000"
presenceMirror: none
call:
  ringTimeout: 45s
  iceServers:
    - stun:stun.example.org:3478
`), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "9100")
	t.Setenv("CALL_ENDED_GRACE", "500ms")
	t.Setenv("ALLOWED_ORIGINS", "https://chat.example.org, https://app.example.org")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9100", cfg.Port)
	assert.Equal(t, MirrorNone, cfg.PresenceMirror)
	assert.Equal(t, 45*time.Second, cfg.Call.RingTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Call.EndedGrace)
	assert.Equal(t, []string{"stun:stun.example.org:3478"}, cfg.Call.ICEServers)
	assert.Equal(t, []string{"https://chat.example.org", "https://app.example.org"}, cfg.AllowedOrigins)
}

func TestLoad_InvalidMirror(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("PRESENCE_MIRROR", "memcached")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_RequireAuth(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	t.Setenv("REQUIRE_AUTH", "true")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.RequireAuth)

	t.Setenv("REQUIRE_AUTH", "yes")
	_, err = Load()
	assert.ErrorContains(t, err, "REQUIRE_AUTH")
}
