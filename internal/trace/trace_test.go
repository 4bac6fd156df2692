package trace

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewContext(t *testing.T) {
	tc := New()
	if len(tc.TraceID) != 32 {
		t.Errorf("trace ID should be 32 hex chars, got %d", len(tc.TraceID))
	}
	if len(tc.SpanID) != 16 {
		t.Errorf("span ID should be 16 hex chars, got %d", len(tc.SpanID))
	}
	if tc.ParentSpanID != "" {
		t.Error("fresh context should have no parent")
	}
}

func TestNewChild(t *testing.T) {
	parent := New()
	child := NewChild(parent)

	if child.TraceID != parent.TraceID {
		t.Error("child should share trace ID")
	}
	if child.SpanID == parent.SpanID {
		t.Error("child should get a new span ID")
	}
	if child.ParentSpanID != parent.SpanID {
		t.Error("child parent should be parent's span")
	}
}

func TestContextRoundTrip(t *testing.T) {
	tc := New()
	ctx := WithContext(context.Background(), tc)

	got, ok := FromContext(ctx)
	if !ok {
		t.Fatal("trace context not found")
	}
	if got.TraceID != tc.TraceID {
		t.Error("trace ID mismatch")
	}
}

func TestEnsureContext(t *testing.T) {
	ctx, tc := EnsureContext(context.Background())
	if tc.TraceID == "" {
		t.Error("should create trace context")
	}

	ctx2, tc2 := EnsureContext(ctx)
	if tc2.TraceID != tc.TraceID {
		t.Error("should reuse existing context")
	}
	if ctx2 != ctx {
		t.Error("should not wrap context again")
	}
}

func TestStartSpan(t *testing.T) {
	ctx, parent := EnsureContext(context.Background())
	_, span := StartSpan(ctx, "test_op")

	if span.Ctx.TraceID != parent.TraceID {
		t.Error("span should inherit trace ID")
	}
	if span.Ctx.ParentSpanID != parent.SpanID {
		t.Error("span should be parented to ctx span")
	}

	span.SetAttr("key", "value")
	if span.Attrs["key"] != "value" {
		t.Error("attribute not set")
	}

	if span.Duration() != 0 {
		t.Error("unended span should report zero duration")
	}
	time.Sleep(time.Millisecond)
	span.End()
	if span.Duration() <= 0 {
		t.Error("ended span should have positive duration")
	}
}

func TestMiddleware(t *testing.T) {
	var seen Context
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(TraceIDHeader, "abc123")
	req.Header.Set(SpanIDHeader, "def456")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen.TraceID != "abc123" {
		t.Errorf("expected propagated trace ID, got %q", seen.TraceID)
	}
	if seen.ParentSpanID != "def456" {
		t.Errorf("caller span should become parent, got %q", seen.ParentSpanID)
	}
	if rec.Header().Get(TraceIDHeader) != "abc123" {
		t.Error("trace ID should be echoed in response")
	}
}

func TestMiddlewareGeneratesIDs(t *testing.T) {
	var seen Context
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if seen.TraceID == "" {
		t.Error("middleware should generate a trace ID when absent")
	}
}

func TestLogger(t *testing.T) {
	if Logger(context.Background()) == nil {
		t.Error("logger should never be nil")
	}
	ctx, _ := EnsureContext(context.Background())
	if Logger(ctx) == nil {
		t.Error("logger with trace context should never be nil")
	}
}
