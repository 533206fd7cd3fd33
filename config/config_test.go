package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig_FileAndDefaults(t *testing.T) {
	path := writeConfig(t, `
[server]
port = 9090

[postgres]
host = "db"
dbname = "chat"

[jwt]
secret = "s3cret"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "release", cfg.Server.Mode)
	assert.Equal(t, "db", cfg.Postgres.Host)
	assert.Equal(t, "5432", cfg.Postgres.Port)
	assert.Equal(t, "chat", cfg.Postgres.DBName)
	assert.Equal(t, "s3cret", cfg.JWT.Secret)
	assert.Equal(t, 24*7, cfg.JWT.ExpireHours)
	assert.Equal(t, int64(60), cfg.RateLimit.MessagePerMinute)
	assert.Equal(t, "kaif.chat.events", cfg.Kafka.Topics.Events)
	assert.False(t, cfg.Kafka.Enabled)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	path := writeConfig(t, `
[jwt]
secret = "from-file"
`)
	t.Setenv("KAIF_JWT_SECRET", "from-env")
	t.Setenv("KAIF_SERVER_PORT", "7000")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.JWT.Secret)
	assert.Equal(t, 7000, cfg.Server.Port)
}

func TestLoadConfig_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
		assert.Error(t, err)
	})

	t.Run("missing secret", func(t *testing.T) {
		path := writeConfig(t, "[server]\nport = 8080\n")
		_, err := LoadConfig(path)
		assert.Error(t, err)
	})

	t.Run("kafka without brokers", func(t *testing.T) {
		path := writeConfig(t, `
[jwt]
secret = "x"

[kafka]
enabled = true
brokers = []
`)
		_, err := LoadConfig(path)
		assert.Error(t, err)
	})
}

func TestDSNAndAddr(t *testing.T) {
	p := PostgresConfig{Host: "h", Port: "1", User: "u", Password: "p", DBName: "d", SSLMode: "disable"}
	assert.Equal(t, "host=h port=1 user=u password=p dbname=d sslmode=disable TimeZone=UTC", p.DSN())

	r := RedisConfig{Host: "localhost", Port: "6379"}
	assert.Equal(t, "localhost:6379", r.Addr())
}
