package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old, had := os.LookupEnv(key)
	require.NoError(t, os.Setenv(key, value))
	t.Cleanup(func() {
		if had {
			_ = os.Setenv(key, old)
		} else {
			_ = os.Unsetenv(key)
		}
	})
}

func TestLoadFromEnv(t *testing.T) {
	setEnv(t, "CONFIG_PATH", "/nonexistent/path/to/streamgate.yaml")
	setEnv(t, "STREAMGATE_SERVER_ADDRESS", "http://localhost:8080")
	setEnv(t, "STREAMGATE_REDIS_URL", "redis://localhost:6379")
	setEnv(t, "STREAMGATE_API_KEY", "test-api-key")
	setEnv(t, "STREAMGATE_SECRET_KEY", "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "http://localhost:8080", cfg.ServerAddress)
	require.Equal(t, "redis://localhost:6379", cfg.RedisURL)
	require.Equal(t, 4, cfg.RedisPool)
	require.Equal(t, 20, cfg.MaxClients)
}

func TestValidateRejectsBadSecretKeyLength(t *testing.T) {
	c := &Config{
		ServerAddress: "http://localhost",
		RedisURL:      "redis://localhost",
		APIKey:        "key",
		SecretKey:     "tooshort",
		RedisPool:     4,
		MaxClients:    20,
	}
	require.Error(t, c.Validate())
}

func TestValidateRejectsNonHexSecretKey(t *testing.T) {
	c := &Config{
		ServerAddress: "http://localhost",
		RedisURL:      "redis://localhost",
		APIKey:        "key",
		SecretKey:     "zz112233445566778899aabbccddeeff00112233445566778899aabbccddeeff",
		RedisPool:     4,
		MaxClients:    20,
	}
	require.Error(t, c.Validate())
}

func TestSecretKeyBytesLength(t *testing.T) {
	c := &Config{SecretKey: "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"}
	require.Len(t, c.SecretKeyBytes(), 32)
}
