package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("BOOKING_STORE", "memory")
	t.Setenv("LOCK_BACKEND", "local")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.AppPort)
	assert.Equal(t, "memory", cfg.BookingStore)
	assert.Equal(t, "local", cfg.LockBackend)
	assert.Equal(t, 20*time.Minute, cfg.ConfirmTimeout())
	assert.Equal(t, 30*time.Minute, cfg.ConversationTTL())
	assert.InDelta(t, 0.6, cfg.MinConfidence, 1e-9)
	assert.Equal(t, "ticker", cfg.SweepMode)
}

func TestValidate(t *testing.T) {
	base := Config{BookingStore: "mongo", LockBackend: "redis", SweepMode: "ticker", MinConfidence: 0.6}
	require.NoError(t, base.Validate())

	bad := base
	bad.BookingStore = "sqlite"
	assert.Error(t, bad.Validate())

	bad = base
	bad.LockBackend = "postgres"
	assert.Error(t, bad.Validate(), "postgres lock needs the postgres store")

	bad = base
	bad.SweepMode = "cron"
	assert.Error(t, bad.Validate())

	bad = base
	bad.MinConfidence = 1.5
	assert.Error(t, bad.Validate())
}

func TestConversationTTL_Clamped(t *testing.T) {
	assert.Equal(t, 5*time.Minute, Config{ConversationTTLSeconds: 10}.ConversationTTL())
	assert.Equal(t, time.Hour, Config{ConversationTTLSeconds: 7200}.ConversationTTL())
	assert.Equal(t, 15*time.Minute, Config{ConversationTTLSeconds: 900}.ConversationTTL())
}
