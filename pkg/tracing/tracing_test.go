package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestProviderExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	p, err := New(Config{ServiceName: "renewal-test", Version: "dev", Writer: &buf, Sync: true})
	require.NoError(t, err)

	_, span := p.Tracer().Start(context.Background(), "renewal.renew")
	span.SetAttributes(attribute.String("renewal.subscriber", "14523678"))
	span.End()

	require.NoError(t, p.Shutdown(context.Background()))
	out := buf.String()
	assert.Contains(t, out, "renewal.renew")
	assert.Contains(t, out, "14523678")
	assert.Contains(t, out, "renewal-test")
}

func TestNilProviderShutdown(t *testing.T) {
	var p *Provider
	assert.NoError(t, p.Shutdown(context.Background()))
}
