package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("ENVOY_HOME_DIR", home)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, defaultServerURL, cfg.ServerURL)
	require.Equal(t, defaultSocketURL, cfg.SocketURL)
	require.Equal(t, TokenStoreFile, cfg.TokenStore)
	require.Equal(t, 5, cfg.ReconnectAttempts)
	require.Equal(t, time.Second, cfg.ReconnectDelay)
	require.Equal(t, filepath.Join(home, "token"), cfg.TokenPath())
}

func TestLoadFileThenEnv(t *testing.T) {
	home := t.TempDir()
	t.Setenv("ENVOY_HOME_DIR", home)

	file := []byte(`
server_url: https://file.example/api
socket_url: https://file.example
token_store: sqlite
reconnect_delay: 250ms
news_feeds:
  - https://a.example/rss
`)
	require.NoError(t, os.WriteFile(filepath.Join(home, configFileName), file, 0600))
	t.Setenv("ENVOY_SERVER_URL", "https://env.example/api")
	t.Setenv("ENVOY_DEBUG", "1")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "https://env.example/api", cfg.ServerURL)
	require.Equal(t, "https://file.example", cfg.SocketURL)
	require.Equal(t, TokenStoreSQLite, cfg.TokenStore)
	require.Equal(t, 250*time.Millisecond, cfg.ReconnectDelay)
	require.Equal(t, []string{"https://a.example/rss"}, cfg.NewsFeeds)
	require.True(t, cfg.Debug)
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("ENVOY_HOME_DIR", t.TempDir())

	t.Setenv("ENVOY_TOKEN_STORE", "cookie")
	_, err := Load()
	require.ErrorContains(t, err, "invalid token store")

	t.Setenv("ENVOY_TOKEN_STORE", "")
	t.Setenv("ENVOY_RECONNECT_ATTEMPTS", "many")
	_, err = Load()
	require.ErrorContains(t, err, "ENVOY_RECONNECT_ATTEMPTS")
}

func TestSplitList(t *testing.T) {
	require.Equal(t, []string{"a", "b"}, splitList(" a, ,b ,"))
	require.Nil(t, splitList(" , "))
}
