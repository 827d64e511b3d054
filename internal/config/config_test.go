package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, 30*time.Second, cfg.PingInterval)
	assert.Equal(t, 256, cfg.OutboundQueueCap)
	assert.Equal(t, "collab:", cfg.BusPrefix)
	assert.Equal(t, "8090", cfg.HTTPAdminPort)
	assert.Equal(t, 50, cfg.MaxClientsPerHub)
	assert.True(t, cfg.DefaultOpenPolicy)
}

func TestLoadReadsOverrides(t *testing.T) {
	os.Setenv("PING_INTERVAL", "15s")
	os.Setenv("MAX_HUBS", "100")
	os.Setenv("REDIS_ENABLED", "true")
	defer os.Unsetenv("PING_INTERVAL")
	defer os.Unsetenv("MAX_HUBS")
	defer os.Unsetenv("REDIS_ENABLED")

	cfg := Load()
	assert.Equal(t, 15*time.Second, cfg.PingInterval)
	assert.Equal(t, 100, cfg.MaxHubs)
	assert.True(t, cfg.RedisEnabled)
}
