package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults valid",
			mutate: func(*Config) {},
		},
		{
			name: "disabled skips checks",
			mutate: func(c *Config) {
				c.Enabled = false
				c.Endpoint = ""
				c.Protocol = "bogus"
			},
		},
		{
			name: "enabled requires endpoint",
			mutate: func(c *Config) {
				c.Enabled = true
				c.Endpoint = ""
			},
			wantErr: "endpoint is required",
		},
		{
			name: "enabled rejects unknown protocol",
			mutate: func(c *Config) {
				c.Enabled = true
				c.Protocol = "udp"
			},
			wantErr: "protocol must be",
		},
		{
			name: "sampling rate above one",
			mutate: func(c *Config) {
				c.Enabled = true
				c.SamplingRate = 1.5
			},
			wantErr: "sampling rate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewDisabledIsNoop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false

	tel, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, tel)

	// No-op providers still hand out usable tracers and meters.
	tracer := tel.Tracer("test")
	_, span := tracer.Start(context.Background(), "op")
	span.End()

	meter := tel.Meter("test")
	counter, err := meter.Int64Counter("test.counter")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)

	require.NoError(t, tel.Shutdown(context.Background()))
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.SamplingRate = -1

	_, err := New(context.Background(), cfg, nil)
	require.Error(t, err)
}

func TestNewNilConfigUsesDefaults(t *testing.T) {
	tel, err := New(context.Background(), nil, nil)
	require.NoError(t, err)
	require.NotNil(t, tel)
	require.NoError(t, tel.Shutdown(context.Background()))
}

func TestNilTelemetryIsSafe(t *testing.T) {
	var tel *Telemetry

	_, span := tel.Tracer("test").Start(context.Background(), "op")
	span.End()

	assert.NoError(t, tel.Shutdown(context.Background()))
	assert.NoError(t, tel.ForceFlush(context.Background()))
}

func TestStripScheme(t *testing.T) {
	assert.Equal(t, "collector:4318", stripScheme("https://collector:4318"))
	assert.Equal(t, "collector:4318", stripScheme("http://collector:4318"))
	assert.Equal(t, "collector:4318", stripScheme("collector:4318"))
}

func TestShutdownAppliesDefaultTimeout(t *testing.T) {
	cfg := DefaultConfig()
	tel, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, tel.Shutdown(context.Background()))
	assert.Less(t, time.Since(start), 10*time.Second)
}
