package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// traceOutput prints every finished RPC span as one line on stderr. It
// backs the --trace flag; without it the library's tracer stays no-op.
type traceOutput struct {
	provider *sdktrace.TracerProvider
}

func installTraceOutput() *traceOutput {
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(&lineSpanProcessor{}),
	)
	otel.SetTracerProvider(provider)
	return &traceOutput{provider: provider}
}

func (o *traceOutput) Close() {
	if o == nil {
		return
	}
	_ = o.provider.Shutdown(context.Background())
}

type lineSpanProcessor struct{}

func (p *lineSpanProcessor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (p *lineSpanProcessor) OnEnd(span sdktrace.ReadOnlySpan) {
	took := span.EndTime().Sub(span.StartTime()).Round(time.Microsecond)
	line := mutedStyle.Render("trace") + " " + accentStyle.Render(span.Name()) +
		mutedStyle.Render(" "+took.String())
	for _, attr := range span.Attributes() {
		line += fmt.Sprintf(" %s=%s", attr.Key, attr.Value.Emit())
	}
	fmt.Fprintln(os.Stderr, line)
}

func (p *lineSpanProcessor) Shutdown(context.Context) error   { return nil }
func (p *lineSpanProcessor) ForceFlush(context.Context) error { return nil }
