package opentracing_test

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/featurebasedb/jql/tracing"
	jqlot "github.com/featurebasedb/jql/tracing/opentracing"
	"github.com/opentracing/opentracing-go/mocktracer"
	"github.com/stretchr/testify/require"
)

func TestTracer(t *testing.T) {
	mock := mocktracer.New()
	tracer := jqlot.NewTracer(mock)

	parent, ctx := tracer.StartSpanFromContext(context.Background(), "Engine.CreateTable")
	child, _ := tracer.StartSpanFromContext(ctx, "Sandbox.Commit")
	child.LogKV("session", "s1")
	child.Finish()
	parent.Finish()

	spans := mock.FinishedSpans()
	require.Len(t, spans, 2)
	require.Equal(t, "Sandbox.Commit", spans[0].OperationName)
	require.Equal(t, spans[1].SpanContext.SpanID, spans[0].ParentID)
	require.Len(t, spans[0].Logs(), 1)
}

func TestTracer_ExtractHTTPHeaders(t *testing.T) {
	mock := mocktracer.New()
	var tracer tracing.Tracer = jqlot.NewTracer(mock)

	r := httptest.NewRequest("GET", "/catalog", nil)
	span, ctx := tracer.ExtractHTTPHeaders(r)
	require.NotNil(t, ctx)
	span.Finish()

	spans := mock.FinishedSpans()
	require.Len(t, spans, 1)
	require.Equal(t, "HTTP", spans[0].OperationName)
	require.Equal(t, "GET", spans[0].Tag("http.method"))
	require.Equal(t, "/catalog", spans[0].Tag("http.url"))
}
