package flowscope

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRouteThroughPublicAPI(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ContextName = "api"
	svc := NewService(cfg, nil, context.Background(), ServiceDependencies{
		MetricsRegisterer: prometheus.NewRegistry(),
		ErrorHandler:      NoErrorHandler(),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Stop(ctx)
	})

	if err := svc.AddRoutes(context.Background(), From("direct:in").RouteID("api").To("mock:out")); err != nil {
		t.Fatalf("add routes: %v", err)
	}
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if svc.Status() != StatusStarted {
		t.Fatalf("expected status %s, got %s", StatusStarted, svc.Status())
	}

	if _, err := svc.Template().SendBody(context.Background(), "direct:in", "hello"); err != nil {
		t.Fatalf("send body: %v", err)
	}
	mock, err := svc.MockEndpoint("mock:out")
	if err != nil {
		t.Fatalf("mock endpoint: %v", err)
	}
	if got := mock.ReceivedCounter(); got != 1 {
		t.Fatalf("expected 1 exchange, got %d", got)
	}

	name, err := ParseObjectName(`flowscope:context=api,type=routes,name="api"`)
	if err != nil {
		t.Fatalf("parse object name: %v", err)
	}
	state, err := svc.Registry().Attribute(name, "State")
	if err != nil {
		t.Fatalf("route attribute: %v", err)
	}
	if state != "Started" {
		t.Fatalf("expected route state Started, got %v", state)
	}
}

func TestErrorExports(t *testing.T) {
	_, err := ParseObjectName("no-domain")
	if !errors.Is(err, ErrInvalidObjectName) {
		t.Fatalf("expected invalid object name error, got %v", err)
	}
	if _, err := NormalizeEndpointURI(""); err == nil {
		t.Fatal("expected error for empty uri")
	}
}

func TestCloudEventTypeExport(t *testing.T) {
	ex := NewExchange("body")
	if ex.ID == "" {
		t.Fatal("expected exchange id")
	}
	evt := NewCloudEvent("flowscope.exchange.completed", "/flowscope/api", nil)
	if IsDeadLetter(evt) {
		t.Fatal("fresh event must not be dead lettered")
	}
}

func TestLoggerExports(t *testing.T) {
	logger := NewEntryServiceLogger(&stubEntry{})
	logger.Info("boot", LogFields{"component": "test"})
}

func TestEncodingExportAliases(t *testing.T) {
	payload := map[string]string{"hello": "world"}
	if _, err := Marshal(payload); err != nil {
		t.Fatalf("marshal alias failed: %v", err)
	}
	if _, err := MarshalIndent(payload, "", "  "); err != nil {
		t.Fatalf("marshal indent alias failed: %v", err)
	}
	if err := Unmarshal([]byte(`{"hello":"world"}`), &payload); err != nil {
		t.Fatalf("unmarshal alias failed: %v", err)
	}
}

func TestMetadataExport(t *testing.T) {
	md := NewMetadata(MetadataKeyCorrelationID, "value")
	if md[MetadataKeyCorrelationID] != "value" {
		t.Fatalf("expected metadata to contain key, got %#v", md)
	}
}

type stubEntry struct {
	fields LogFields
	err    error
}

func (s *stubEntry) Error(args ...any) {}
func (s *stubEntry) Info(args ...any)  {}
func (s *stubEntry) Debug(args ...any) {}
func (s *stubEntry) Trace(args ...any) {}

func (s *stubEntry) WithError(err error) *stubEntry {
	clone := *s
	clone.err = err
	return &clone
}

func (s *stubEntry) WithField(key string, value any) *stubEntry {
	clone := *s
	if clone.fields == nil {
		clone.fields = make(LogFields)
	}
	clone.fields[key] = value
	return &clone
}
