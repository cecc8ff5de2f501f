package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "")
	t.Setenv("STORAGE_BACKEND", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("CONFIG_FILE", "")

	cfg, err := LoadConfig()

	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.ServerAddress)
	assert.Equal(t, StorageMemory, cfg.StorageBackend)
	assert.True(t, cfg.IsDevelopment())
	assert.True(t, cfg.DevIdentityAllowed())
	assert.Equal(t, int64(4<<20), cfg.WSMaxMessageBytes)
}

func TestLoadConfig_Env(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("STORAGE_BACKEND", "dynamodb")
	t.Setenv("TABLE_NAME", "prod-diagrams")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("WS_MESSAGES_PER_SECOND", "20")
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := LoadConfig()

	require.NoError(t, err)
	assert.Equal(t, "prod-diagrams", cfg.TableName)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 20, cfg.WSMessagesPerSecond)
	assert.False(t, cfg.DevIdentityAllowed())
}

func TestLoadConfig_YAMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
serverAddress: ":9090"
wsSendBuffer: 64
allowedOrigins:
  - https://editor.example
`), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("STORAGE_BACKEND", "")
	t.Setenv("WS_MESSAGES_PER_SECOND", "33")

	cfg, err := LoadConfig()

	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.ServerAddress)
	assert.Equal(t, 64, cfg.WSSendBuffer)
	assert.Equal(t, []string{"https://editor.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 33, cfg.WSMessagesPerSecond, "keys missing from the file keep env values")
}

func TestLoadConfig_YAMLUnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("serverAdress: \":1\"\n"), 0o600))
	t.Setenv("CONFIG_FILE", path)

	_, err := LoadConfig()

	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Environment:         "development",
			StorageBackend:      StorageMemory,
			WSMaxMessageBytes:   1024,
			WSSendBuffer:        8,
			WSMessagesPerSecond: 10,
			RequestsPerMinute:   60,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"unknown backend", func(c *Config) { c.StorageBackend = "postgres" }, "unknown STORAGE_BACKEND"},
		{"dynamodb without table", func(c *Config) { c.StorageBackend = StorageDynamoDB }, "TABLE_NAME"},
		{"production without secret", func(c *Config) {
			c.Environment = "production"
			c.StorageBackend = StorageDynamoDB
			c.TableName = "t"
		}, "JWT_SECRET"},
		{"production on memory", func(c *Config) {
			c.Environment = "production"
			c.JWTSecret = "x"
		}, "memory backend"},
		{"zero send buffer", func(c *Config) { c.WSSendBuffer = 0 }, "websocket limits"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
