package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/tokmz/relay/pkg/config"
	"github.com/tokmz/relay/pkg/errors"
)

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Exporter = "zipkin"
	assert.True(t, errors.Is(cfg.Validate(), ErrInvalidConfig))

	cfg = DefaultConfig()
	cfg.SamplingRate = 2
	assert.True(t, errors.Is(cfg.Validate(), ErrInvalidConfig))
}

func TestFromSettings(t *testing.T) {
	cfg := FromSettings(config.TracingSettings{
		Enabled:  true,
		Exporter: ExporterOTLPGRPC,
		Endpoint: "collector:4317",
		Insecure: true,
	})
	assert.True(t, cfg.Enabled)
	assert.Equal(t, "relay", cfg.ServiceName)
	assert.Equal(t, ExporterOTLPGRPC, cfg.Exporter)
	assert.Equal(t, "collector:4317", cfg.Endpoint)
	assert.Equal(t, 1.0, cfg.SamplingRate)
}

func TestSetupDisabledStillProducesTraceIDs(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	_, err := Setup(context.Background(), DefaultConfig())
	require.NoError(t, err)
	defer Shutdown(context.Background())

	ctx, span := StartSpan(context.Background(), "test")
	defer span.End()
	assert.Len(t, TraceID(ctx), 32)
	assert.Empty(t, TraceID(context.Background()))
}

func TestBuildResource(t *testing.T) {
	t.Setenv("OTEL_RESOURCE_ATTRIBUTES", "region=eu")
	cfg := DefaultConfig()
	cfg.ServiceVersion = "0.3.0"
	cfg.ResourceAttributes = map[string]string{"team": "infra"}

	res, err := buildResource(context.Background(), cfg)
	require.NoError(t, err)

	got := map[string]string{}
	for _, kv := range res.Attributes() {
		got[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "relay", got["service.name"])
	assert.Equal(t, "0.3.0", got["service.version"])
	assert.Equal(t, "infra", got["team"])
	assert.Equal(t, "eu", got["region"])
}

func TestSetupReplacesPreviousProvider(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	first, err := Setup(context.Background(), DefaultConfig())
	require.NoError(t, err)
	second, err := Setup(context.Background(), DefaultConfig())
	require.NoError(t, err)
	assert.NotSame(t, first, second)

	require.NoError(t, Shutdown(context.Background()))
	assert.NoError(t, Shutdown(context.Background()), "second shutdown is a no-op")
}
