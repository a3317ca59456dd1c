package logging

import (
	"context"
	"fmt"
	"regexp"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 8)

	// Trace correlation (from OpenTelemetry)
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}

	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request.id", requestID))
	}

	if pipeline := PipelineFromContext(ctx); pipeline != "" {
		fields = append(fields, zap.String("pipeline", pipeline))
	}

	if connectorID := ConnectorIDFromContext(ctx); connectorID != "" {
		fields = append(fields, zap.String("connector.id", connectorID))
	}

	if modelID := ModelIDFromContext(ctx); modelID != "" {
		fields = append(fields, zap.String("model.id", modelID))
	}

	return fields
}

// Context key types
type requestCtxKey struct{}
type pipelineCtxKey struct{}
type connectorCtxKey struct{}
type modelCtxKey struct{}

const maxIDLen = 128

// idPattern allows alphanumeric, hyphen, underscore, dot
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// validateID validates a correlation identifier.
func validateID(id, name string) error {
	if id == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("%s contains invalid UTF-8", name)
	}
	if len(id) > maxIDLen {
		return fmt.Errorf("%s exceeds max length %d", name, maxIDLen)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters (must be alphanumeric, hyphen, underscore, dot)", name)
	}
	return nil
}

// RequestIDFromContext extracts request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if r, ok := ctx.Value(requestCtxKey{}).(string); ok {
		return r
	}
	return ""
}

// WithRequestID adds request ID to context.
// Panics if requestID is empty or contains invalid characters.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if err := validateID(requestID, "requestID"); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// PipelineFromContext extracts the pipeline name from context.
func PipelineFromContext(ctx context.Context) string {
	if p, ok := ctx.Value(pipelineCtxKey{}).(string); ok {
		return p
	}
	return ""
}

// WithPipeline adds the pipeline name to context.
// Panics if name is empty or contains invalid characters.
func WithPipeline(ctx context.Context, name string) context.Context {
	if err := validateID(name, "pipeline"); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	return context.WithValue(ctx, pipelineCtxKey{}, name)
}

// ConnectorIDFromContext extracts the connector ID from context.
func ConnectorIDFromContext(ctx context.Context) string {
	if c, ok := ctx.Value(connectorCtxKey{}).(string); ok {
		return c
	}
	return ""
}

// WithConnectorID adds the connector ID to context.
// Panics if connectorID is empty or contains invalid characters.
func WithConnectorID(ctx context.Context, connectorID string) context.Context {
	if err := validateID(connectorID, "connectorID"); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	return context.WithValue(ctx, connectorCtxKey{}, connectorID)
}

// ModelIDFromContext extracts the model ID from context.
func ModelIDFromContext(ctx context.Context) string {
	if m, ok := ctx.Value(modelCtxKey{}).(string); ok {
		return m
	}
	return ""
}

// WithModelID adds the model ID to context.
// Panics if modelID is empty or contains invalid characters.
func WithModelID(ctx context.Context, modelID string) context.Context {
	if err := validateID(modelID, "modelID"); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	return context.WithValue(ctx, modelCtxKey{}, modelID)
}

// loggerCtxKey is the context key for Logger.
type loggerCtxKey struct{}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a default nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return &Logger{zap: zap.NewNop(), config: NewDefaultConfig()}
}
