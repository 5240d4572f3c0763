package logger

import (
	"context"
	"testing"

	obscontext "github.com/marquee/catalog/internal/observability/context"
	"github.com/marquee/catalog/pkg/telemetry/correlation"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithContextAddsIdentifiers(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	base := zap.New(core)

	ctx := obscontext.WithRequestID(context.Background(), "req-1")
	ctx = correlation.ContextWithCorrelationID(ctx, "cid-1")
	ctx = obscontext.WithJob(ctx, obscontext.JobInfo{Type: "rating:persist", ID: "job-1", Attempt: 2})

	WithContext(ctx, base).Info("hello")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, "req-1", fields["request_id"])
		assert.Equal(t, "cid-1", fields["correlation_id"])
		assert.Equal(t, "rating:persist", fields["job_type"])
		assert.Equal(t, int64(2), fields["job_attempt"])
		assert.NotContains(t, fields, "trace_id")
	}
}

func TestNormalizeFormat(t *testing.T) {
	assert.Equal(t, "console", normalizeFormat(" Console "))
	assert.Equal(t, "json", normalizeFormat(""))
	assert.Equal(t, "json", normalizeFormat("logfmt"))
}
