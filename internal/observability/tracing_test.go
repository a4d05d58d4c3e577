package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestTracingConfigFromEnvDefaults(t *testing.T) {
	for _, k := range []string{
		"ONBOARD_TRACING_ENABLED",
		"ONBOARD_TRACING_EXPORTER",
		"ONBOARD_TRACING_SERVICE",
		"ONBOARD_TRACING_SAMPLE_RATIO",
		"ONBOARD_OTLP_ENDPOINT",
	} {
		t.Setenv(k, "")
	}

	cfg := TracingConfigFromEnv()
	if cfg.Enabled {
		t.Fatalf("Enabled = true, want false")
	}
	if cfg.Exporter != "stdout" || cfg.ServiceName != "flight-software" || cfg.SampleRatio != 1 {
		t.Fatalf("defaults = %+v", cfg)
	}
}

func TestTracingConfigFromEnvOverrides(t *testing.T) {
	t.Setenv("ONBOARD_TRACING_ENABLED", "TRUE")
	t.Setenv("ONBOARD_TRACING_EXPORTER", "OTLP")
	t.Setenv("ONBOARD_TRACING_SERVICE", "sat-7")
	t.Setenv("ONBOARD_TRACING_SAMPLE_RATIO", "0.25")
	t.Setenv("ONBOARD_OTLP_ENDPOINT", "collector:4317")

	cfg := TracingConfigFromEnv()
	if !cfg.Enabled || cfg.Exporter != "otlp" || cfg.ServiceName != "sat-7" || cfg.SampleRatio != 0.25 || cfg.Endpoint != "collector:4317" {
		t.Fatalf("config = %+v", cfg)
	}

	t.Setenv("ONBOARD_TRACING_SAMPLE_RATIO", "7")
	if got := TracingConfigFromEnv().SampleRatio; got != 1 {
		t.Fatalf("out-of-range ratio = %v, want fallback 1", got)
	}
}

func TestInitTracingDisabledIsNoop(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	_, span := Tracer("test").Start(context.Background(), "noop")
	if span.SpanContext().IsValid() {
		t.Fatalf("noop tracer produced a valid span context")
	}
	span.End()
}

func TestStageSpansNestUnderTheCycleSpan(t *testing.T) {
	var out bytes.Buffer
	shutdown, err := InitTracing(context.Background(), TracingConfig{
		Enabled:     true,
		ServiceName: "sat-test",
		Exporter:    "stdout",
		SampleRatio: 1,
		Writer:      &out,
	}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	t.Cleanup(func() { _, _ = InitTracing(context.Background(), TracingConfig{}, nil) })

	ctx, cycle := Tracer("test").Start(context.Background(), CycleSpan)
	_, stage := Tracer("test").Start(ctx, StageSpan(StageInfer))
	stage.End()
	cycle.End()
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	type span struct {
		Name        string
		SpanContext struct{ SpanID string }
		Parent      struct{ SpanID string }
	}
	spans := map[string]span{}
	dec := json.NewDecoder(&out)
	for dec.More() {
		var s span
		if err := dec.Decode(&s); err != nil {
			t.Fatalf("decode exported span: %v", err)
		}
		spans[s.Name] = s
	}
	c, ok := spans["pipeline.cycle"]
	if !ok {
		t.Fatalf("no pipeline.cycle span in %v", spans)
	}
	s, ok := spans["pipeline.infer"]
	if !ok {
		t.Fatalf("no pipeline.infer span in %v", spans)
	}
	if s.Parent.SpanID != c.SpanContext.SpanID {
		t.Fatalf("infer parent = %s, want cycle %s", s.Parent.SpanID, c.SpanContext.SpanID)
	}
}

func TestInitTracingRejectsUnknownExporter(t *testing.T) {
	_, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin"}, nil)
	if err == nil {
		t.Fatalf("InitTracing accepted unknown exporter")
	}
}

func TestShutdownWithTimeoutSwallowsErrors(t *testing.T) {
	called := false
	ShutdownWithTimeout(context.Background(), func(ctx context.Context) error {
		called = true
		if _, ok := ctx.Deadline(); !ok {
			t.Errorf("shutdown context has no deadline")
		}
		return errors.New("flush failed")
	}, nil)
	if !called {
		t.Fatalf("shutdown not invoked")
	}
	ShutdownWithTimeout(context.Background(), nil, nil)
}
