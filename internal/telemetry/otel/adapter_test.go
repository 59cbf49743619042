package otel

import (
	"context"
	"testing"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/svenmapprio/menuet/internal/telemetry/domain"
)

func TestNewEventEmitter_NilProvider_ReturnsNoop(t *testing.T) {
	em := NewEventEmitter(nil)
	if em == nil {
		t.Fatal("NewEventEmitter(nil) returned nil")
	}
	if err := em.Emit(context.Background(), &domain.Event{Type: domain.EventConnectionOpened}); err != nil {
		t.Errorf("noop Emit: %v", err)
	}
}

func TestEmit_NilEvent_ReturnsNil(t *testing.T) {
	provider := sdklog.NewLoggerProvider()
	defer func() { _ = provider.Shutdown(context.Background()) }()
	if err := NewEventEmitter(provider).Emit(context.Background(), nil); err != nil {
		t.Errorf("Emit(ctx, nil): %v", err)
	}
}

// recordCapture stores the last Record passed to Emit for assertion.
type recordCapture struct {
	rec otellog.Record
}

func (r *recordCapture) Emit(_ context.Context, rec otellog.Record) {
	r.rec = rec
}

func attributes(rec otellog.Record) map[string]string {
	attrs := make(map[string]string)
	rec.WalkAttributes(func(kv otellog.KeyValue) bool {
		attrs[kv.Key] = kv.Value.AsString()
		return true
	})
	return attrs
}

func TestEmit_AttributeAndBodyMapping(t *testing.T) {
	capture := &recordCapture{}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	err := NewEventEmitterWithLogger(capture).Emit(context.Background(), &domain.Event{
		Type:         domain.EventConnectionBound,
		ConnectionID: "conn-1",
		UserID:       42,
		Source:       "gateway",
		Metadata:     []byte(`{"provider":"google"}`),
		CreatedAt:    at,
	})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	rec := capture.rec
	if got := string(rec.Body().AsBytes()); got != `{"provider":"google"}` {
		t.Errorf("body = %q", got)
	}
	if !rec.Timestamp().Equal(at) {
		t.Errorf("timestamp = %v, want %v", rec.Timestamp(), at)
	}
	want := map[string]string{
		"event_type": "connection_bound", "connection_id": "conn-1", "user_id": "42", "source": "gateway",
	}
	attrs := attributes(rec)
	for k, v := range want {
		if attrs[k] != v {
			t.Errorf("attr %q = %q, want %q", k, attrs[k], v)
		}
	}
}

func TestEmit_AnonymousOmitsUser(t *testing.T) {
	capture := &recordCapture{}
	before := time.Now().UTC()
	if err := NewEventEmitterWithLogger(capture).Emit(context.Background(), &domain.Event{
		Type:         domain.EventConnectionOpened,
		ConnectionID: "conn-2",
	}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	rec := capture.rec
	if !rec.Body().Empty() {
		t.Error("body should be empty without metadata")
	}
	if _, ok := attributes(rec)["user_id"]; ok {
		t.Error("user_id should be omitted for anonymous connections")
	}
	if rec.Timestamp().Before(before) {
		t.Errorf("timestamp = %v, want now", rec.Timestamp())
	}
}
