package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		raw string
		ok  bool
	}{
		{"local-only", true},
		{"cloud-sync", true},
		{"hybrid", true},
		{"bogus", false},
		{"", false},
	}
	for _, tt := range tests {
		mode, ok := ParseMode(tt.raw)
		assert.Equal(t, tt.ok, ok, tt.raw)
		if ok {
			assert.Equal(t, Mode(tt.raw), mode)
		}
	}
}

func TestModeGates(t *testing.T) {
	assert.False(t, ModeLocalOnly.OutboxActive())
	assert.True(t, ModeCloudSync.OutboxActive())
	assert.True(t, ModeHybrid.OutboxActive())

	assert.True(t, ModeLocalOnly.LocalAuthoritative())
	assert.False(t, ModeCloudSync.LocalAuthoritative())
	assert.True(t, ModeHybrid.LocalAuthoritative())
}

func TestDefaultPersistencePolicy(t *testing.T) {
	p := DefaultPersistencePolicy()
	require.Equal(t, ModeCloudSync, p.Mode)
	assert.Equal(t, 5*time.Second, p.SyncInterval)
	assert.True(t, p.CloudBackupEnabled)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SYNCENGINE_PERSISTENCE_MODE", "")
	t.Setenv("SYNCENGINE_SYNC_INTERVAL", "")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ModeCloudSync, cfg.Policy.Mode)
	assert.Equal(t, 5*time.Second, cfg.Policy.SyncInterval)
}

func TestLoadInvalidMode(t *testing.T) {
	t.Setenv("SYNCENGINE_PERSISTENCE_MODE", "bogus")
	_, err := Load()
	require.Error(t, err)
}
