package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 6*time.Second, cfg.Client.HandshakeTimeout)
	assert.Equal(t, 5, cfg.Client.ReconnectAttempts)
	assert.Equal(t, 2*time.Second, cfg.Client.ReconnectBackoff)
	assert.Equal(t, 1280, cfg.Client.Media.Width)
	assert.True(t, cfg.Client.Media.EchoCancellation)
	assert.Equal(t, "memory", cfg.Server.Store)
	require.NoError(t, cfg.Validate())
}

func TestLoadFlagsOverride(t *testing.T) {
	t.Setenv("CONFIG_ENV", "missing-for-test")
	t.Setenv("CHAINCAST_CLIENT_RECONNECT_ATTEMPTS", "2")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("port", 0, "")
	flags.Bool("synthetic", false, "")
	require.NoError(t, flags.Parse([]string{"--port=9999", "--synthetic"}))

	cfg, err := Load(flags)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.True(t, cfg.Client.Media.Synthetic)
	assert.Equal(t, 2, cfg.Client.ReconnectAttempts)
}

func TestValidateRejectsUnknownStore(t *testing.T) {
	cfg := Default()
	cfg.Server.Store = "etcd"
	assert.Error(t, cfg.Validate())
}
