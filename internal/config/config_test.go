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
	c, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:4410", c.ServerURL)
	assert.Equal(t, TransportWebSocket, c.Transport)
	assert.Equal(t, 10*time.Second, c.MessagePollInterval)
	assert.Equal(t, 60*time.Second, c.CountPollInterval)
	assert.False(t, c.H2C)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "claimsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server_url: https://claims.example.com
agent_id: agent-a
message_poll_interval: 5s
h2c: true
`), 0o600))

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://claims.example.com", c.ServerURL)
	assert.Equal(t, "agent-a", c.AgentID)
	assert.Equal(t, 5*time.Second, c.MessagePollInterval)
	assert.True(t, c.H2C)
	assert.Equal(t, 60*time.Second, c.CountPollInterval, "unset keys keep defaults")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "claimsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agent_id: from-file\n"), 0o600))

	t.Setenv("CLAIMSYNC_AGENT_ID", "from-env")
	t.Setenv("CLAIMSYNC_COUNT_POLL_INTERVAL", "2m")

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", c.AgentID)
	assert.Equal(t, 2*time.Minute, c.CountPollInterval)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	c, err := Load("")
	require.NoError(t, err)
	c.DataDir = t.TempDir()
	return c
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"no server", func(c *Config) { c.ServerURL = "" }, "server_url"},
		{"unknown transport", func(c *Config) { c.Transport = "carrier-pigeon" }, "unknown transport"},
		{"amqp without url", func(c *Config) { c.Transport = TransportAMQP; c.AMQPURL = "" }, "amqp_url"},
		{"websocket without url", func(c *Config) { c.EventsURL = "" }, "events_url"},
		{"zero poll", func(c *Config) { c.MessagePollInterval = 0 }, "message_poll_interval"},
		{"count shorter than message", func(c *Config) { c.CountPollInterval = time.Second }, "must not be shorter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig(t)
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_CreatesDataDir(t *testing.T) {
	c := validConfig(t)
	c.DataDir = filepath.Join(t.TempDir(), "nested", "dir")
	require.NoError(t, c.Validate())

	info, err := os.Stat(c.DataDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, filepath.Join(c.DataDir, "claimsync.db"), c.DBPath())
}

func TestValidateAgent(t *testing.T) {
	c := validConfig(t)
	assert.ErrorContains(t, c.ValidateAgent(), "agent_id")

	c.AgentID = "agent-a"
	assert.ErrorContains(t, c.ValidateAgent(), "token")

	c.Token = "secret"
	assert.NoError(t, c.ValidateAgent())
}
