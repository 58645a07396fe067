package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDatabaseConfig_DSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "db.internal",
		Port:     5432,
		User:     "scheduler",
		Password: "secret",
		Name:     "streamfleet",
		SSLMode:  "require",
	}
	assert.Equal(t, "host=db.internal port=5432 user=scheduler password=secret dbname=streamfleet sslmode=require", cfg.DSN())
}

func TestRedisConfig_Addr(t *testing.T) {
	cfg := RedisConfig{Host: "cache.internal", Port: 6380}
	assert.Equal(t, "cache.internal:6380", cfg.Addr())
}

func TestEtcdConfig_DialTimeout(t *testing.T) {
	cfg := EtcdConfig{DialTimeoutMillis: 2500}
	assert.Equal(t, 2500*time.Millisecond, cfg.DialTimeout())
}

func TestEtcdConfig_SessionTTL(t *testing.T) {
	cfg := EtcdConfig{SessionTTLSeconds: 45}
	assert.Equal(t, 45*time.Second, cfg.SessionTTL())
}

func TestDefaultIdentity_IsHostColonPID(t *testing.T) {
	id := defaultIdentity()
	assert.Contains(t, id, ":")
	assert.NotEmpty(t, id)
}
