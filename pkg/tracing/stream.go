package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Stream entries carry trace context in their field map alongside the
// envelope fields (traceparent/tracestate keys, W3C format).

func InjectTraceContext(ctx context.Context, fields map[string]interface{}) map[string]interface{} {
	propagator := otel.GetTextMapPropagator()
	if propagator == nil {
		return fields
	}

	carrier := streamFieldCarrier{fields: fields}
	propagator.Inject(ctx, carrier)

	return carrier.fields
}

func ExtractTraceContext(ctx context.Context, fields map[string]interface{}) context.Context {
	propagator := otel.GetTextMapPropagator()
	if propagator == nil {
		return ctx
	}

	carrier := streamFieldCarrier{fields: fields}
	return propagator.Extract(ctx, carrier)
}

type streamFieldCarrier struct {
	fields map[string]interface{}
}

func (c streamFieldCarrier) Get(key string) string {
	if v, ok := c.fields[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func (c streamFieldCarrier) Set(key, value string) {
	c.fields[key] = value
}

func (c streamFieldCarrier) Keys() []string {
	keys := make([]string, 0, len(c.fields))
	for k := range c.fields {
		keys = append(keys, k)
	}
	return keys
}

func StartSpanFromStreamEntry(ctx context.Context, operationName string, fields map[string]interface{}) (context.Context, trace.Span) {
	ctx = ExtractTraceContext(ctx, fields)

	tracer := GetTracer("ally-stream")
	return tracer.Start(ctx, operationName)
}
