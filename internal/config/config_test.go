package config

import (
	"context"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kkkkikiki/couponhub/internal/apperrors"
)

func TestLoadWith_Defaults(t *testing.T) {
	cfg, err := LoadWith(context.Background(), envconfig.MapLookuper(map[string]string{}))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.GetServerAddr())
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 1000, cfg.Generation.ChunkSize)
	assert.Equal(t, 8760*time.Hour, cfg.Generation.DefaultExpiry)
	assert.Equal(t, time.Minute, cfg.Redis.CampaignTTL)
	assert.False(t, cfg.Redis.Enabled())
	assert.False(t, cfg.Kafka.Enabled())
	assert.True(t, cfg.App.IsDevelopment())
	assert.Equal(t, "coupon-service", cfg.App.ServiceName)
}

func TestLoadWith_Overrides(t *testing.T) {
	cfg, err := LoadWith(context.Background(), envconfig.MapLookuper(map[string]string{
		"DB_DRIVER":             "memory",
		"REDIS_ADDR":            "localhost:6379",
		"KAFKA_BROKERS":         "k1:9092,k2:9092",
		"GENERATION_CHUNK_SIZE": "500",
		"APP_ENVIRONMENT":       "staging",
		"APP_DEBUG":             "true",
	}))
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 500, cfg.Generation.ChunkSize)
	assert.False(t, cfg.App.IsDevelopment())
	assert.False(t, cfg.App.IsProduction())
	assert.Equal(t, "debug", cfg.App.EffectiveLogLevel())
}

func TestLoadWith_Production(t *testing.T) {
	cfg, err := LoadWith(context.Background(), envconfig.MapLookuper(map[string]string{
		"APP_ENVIRONMENT": "production",
		"APP_LOG_LEVEL":   "warn",
	}))
	require.NoError(t, err)

	assert.True(t, cfg.App.IsProduction())
	assert.Equal(t, "warn", cfg.App.EffectiveLogLevel())
}

func TestLoadWith_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown driver", map[string]string{"DB_DRIVER": "mongo"}},
		{"zero workers", map[string]string{"GENERATION_WORKERS": "0"}},
		{"huge chunk", map[string]string{"GENERATION_CHUNK_SIZE": "9000"}},
		{"negative expiry", map[string]string{"GENERATION_DEFAULT_EXPIRY": "-1h"}},
		{"malformed int", map[string]string{"GENERATION_WORKERS": "many"}},
		{"memory store in production", map[string]string{"DB_DRIVER": "memory", "APP_ENVIRONMENT": "production"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadWith(context.Background(), envconfig.MapLookuper(tt.env))
			require.Error(t, err)
			assert.True(t, apperrors.Is(err, apperrors.KindConfiguration))
		})
	}
}

func TestGetDatabaseURL(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: "5432", User: "u", Password: "p", Name: "coupons", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=coupons sslmode=disable", c.GetDatabaseURL())
}
