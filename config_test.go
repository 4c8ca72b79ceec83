package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mysql:
  host: 127.0.0.1
  port: 3306
  user: repl
  password: secret
  server_id: 42
source:
  start_at_end: true
  include_schema:
    shop: []
    crm: [leads, accounts]
  include_events: [insert, update, delete, tablemeta]
nats:
  url: nats://127.0.0.1:4222
logging:
  level: debug
`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.MySQL.Host)
	assert.Equal(t, uint32(42), cfg.MySQL.ServerID)
	assert.Equal(t, "mysql", cfg.MySQL.Flavor) // default
	assert.True(t, cfg.Source.StartAtEnd)
	assert.Empty(t, cfg.Source.IncludeSchema["shop"])
	assert.Equal(t, []string{"leads", "accounts"}, cfg.Source.IncludeSchema["crm"])
	assert.Equal(t, []string{"insert", "update", "delete", "tablemeta"}, cfg.Source.IncludeEvents)
	assert.Equal(t, 2*time.Second, cfg.NATS.ReconnectWait) // default
	assert.Equal(t, "binlog", cfg.NATS.SubjectPrefix)      // default
	assert.Equal(t, "*.*.*", cfg.NATS.Pattern)             // default
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mysql: [not a map"), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}
