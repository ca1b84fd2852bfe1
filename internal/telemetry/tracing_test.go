package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSetupTracingDisabled(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), TraceConfig{ServiceName: "pixelforge-test", Exporter: "none"}, zap.NewNop())
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetupTracingRejectsUnknownExporter(t *testing.T) {
	_, err := SetupTracing(context.Background(), TraceConfig{ServiceName: "pixelforge-test", Exporter: "carrier-pigeon"}, nil)
	assert.ErrorContains(t, err, "unsupported trace exporter")
}

func TestSetupTracingOTLPRequiresEndpoint(t *testing.T) {
	_, err := SetupTracing(context.Background(), TraceConfig{ServiceName: "pixelforge-test", Exporter: "otlp"}, nil)
	assert.ErrorContains(t, err, "requires endpoint")
}

func TestSetupTracingStdout(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), TraceConfig{ServiceName: "pixelforge-test", Exporter: "stdout", SampleRatio: 0.5}, nil)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
