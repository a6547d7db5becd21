package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFlagsAndEnv(t *testing.T) {
	cmd := newRootCmd()
	require.NoError(t, cmd.Flags().Parse([]string{"--db", "/tmp/clinic.db", "--auth"}))
	t.Setenv("PEPPER_AUTH_PASSWORD", "pepper")
	t.Setenv("PEPPER_AUTH_JWT_EXPIRY", "2h")

	v := viper.New()
	require.NoError(t, bindFlags(v, cmd.Flags()))

	cfg, err := loadConfig(v, "")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:5001", cfg.Addr)
	assert.Equal(t, "/tmp/clinic.db", cfg.DB)
	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, "admin", cfg.Auth.Username)
	assert.Equal(t, "pepper", cfg.Auth.Password)
	assert.Equal(t, 2*time.Hour, cfg.Auth.Expiry)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "appointments.yaml")
	require.NoError(t, os.WriteFile(path, []byte("addr: 127.0.0.1:6000\nseed: true\nauth:\n  username: reception\n"), 0o644))

	cfg, err := loadConfig(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:6000", cfg.Addr)
	assert.True(t, cfg.Seed)
	assert.Equal(t, "reception", cfg.Auth.Username)
	assert.Equal(t, 24*time.Hour, cfg.Auth.Expiry)
}
