package internal

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_Defaults(t *testing.T) {
	t.Setenv("ENV", "dev")
	t.Setenv("STORE", "memory")

	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, uint16(3000), cfg.Port)
	assert.InDelta(t, 0.10, cfg.Workflow.PlatformFeeRate, 1e-9)
	assert.Equal(t, 7*24*time.Hour, cfg.Workflow.TokenTTL)
	assert.Equal(t, time.Hour, cfg.Rates.TTL)
	assert.Empty(t, cfg.Kafka.Brokers)
}

func TestNewConfig_Overrides(t *testing.T) {
	t.Setenv("ENV", "dev")
	t.Setenv("KAFKA_BROKERS", "k1:9092, ,k2:9092")
	t.Setenv("CONFIRMATION_TOKEN_TTL", "48h")
	t.Setenv("PLATFORM_FEE_RATE", "0.15")

	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 48*time.Hour, cfg.Workflow.TokenTTL)
	assert.InDelta(t, 0.15, cfg.Workflow.PlatformFeeRate, 1e-9)
}

func TestNewConfig_Rejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown store", map[string]string{"ENV": "dev", "STORE": "sqlite"}},
		{"fee out of range", map[string]string{"ENV": "dev", "PLATFORM_FEE_RATE": "1.5"}},
		{"mocks in prod", map[string]string{"ENV": "prod", "STRIPE_MOCK": "true"}},
		{"missing stripe in prod", map[string]string{"ENV": "prod"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := NewConfig()
			assert.Error(t, err)
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "prod", "warn", "chandlery-worker")

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"service":"chandlery-worker"`)
}

func TestNewLogger_MasksTokens(t *testing.T) {
	for _, env := range []string{"prod", "dev"} {
		t.Run(env, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(&buf, env, "info", "chandlery-server")

			logger.Info("token claimed", "token", "3f9a1c", "order_id", "ord-1")
			logger.Info("nothing to hide", "token", "")

			out := buf.String()
			assert.NotContains(t, out, "3f9a1c")
			assert.Contains(t, out, "[redacted]")
			assert.Contains(t, out, "ord-1")
		})
	}
}
