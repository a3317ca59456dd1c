package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/rerankd/internal/config"
)

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		input   string
		want    zapcore.Level
		wantErr bool
	}{
		{"trace", TraceLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{"info", zapcore.InfoLevel, false},
		{"warn", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"bogus", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := LevelFromString(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDefaultConfigValidates(t *testing.T) {
	require.NoError(t, NewDefaultConfig().Validate())
}

func TestConfigValidateRejectsBadInput(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"
	require.Error(t, cfg.Validate())

	cfg = NewDefaultConfig()
	cfg.Output = OutputConfig{}
	require.Error(t, cfg.Validate())

	cfg = NewDefaultConfig()
	cfg.Redaction.Patterns = append(cfg.Redaction.Patterns, `([unclosed`)
	require.Error(t, cfg.Validate())
}

func TestContextFieldsCarryCorrelationIDs(t *testing.T) {
	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithPipeline(ctx, "search-default")
	ctx = WithConnectorID(ctx, "conn-1")
	ctx = WithModelID(ctx, "model-1")

	tl := NewTestLogger()
	tl.Info(ctx, "scoring started")

	tl.AssertField(t, "scoring started", "request.id", "req-1")
	tl.AssertField(t, "scoring started", "pipeline", "search-default")
	tl.AssertField(t, "scoring started", "connector.id", "conn-1")
	tl.AssertField(t, "scoring started", "model.id", "model-1")
}

func TestWithRequestIDRejectsInvalidIDs(t *testing.T) {
	for _, id := range []string{"", "has space", "semi;colon", "new\nline"} {
		assert.Panics(t, func() {
			WithRequestID(context.Background(), id)
		}, "id %q", id)
	}
}

func TestFromContextFallsBackToNop(t *testing.T) {
	logger := FromContext(context.Background())
	require.NotNil(t, logger)
	// Must not panic.
	logger.Info(context.Background(), "into the void")
}

func TestWithLoggerRoundTrip(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)

	FromContext(ctx).Info(ctx, "via context")
	tl.AssertLogged(t, zapcore.InfoLevel, "via context")
}

func TestTraceLevelBelowDebug(t *testing.T) {
	tl := NewTestLogger()
	tl.Trace(context.Background(), "wire payload")
	tl.AssertLogged(t, TraceLevel, "wire payload")
	assert.True(t, TraceLevel < zapcore.DebugLevel)
}

func TestRedactingEncoderCompilesRules(t *testing.T) {
	cfg := NewDefaultConfig()
	enc, err := NewRedactingEncoder(newEncoder("json"), cfg.Redaction)
	require.NoError(t, err)
	assert.Len(t, enc.redactFields, len(cfg.Redaction.Fields))
	assert.Len(t, enc.redactRegex, len(cfg.Redaction.Patterns))

	assert.True(t, enc.shouldRedactKey("api_key"))
	assert.True(t, enc.shouldRedactKey("API_KEY"))
	assert.False(t, enc.shouldRedactKey("query"))
}

func TestRedactingEncoderDisabled(t *testing.T) {
	enc, err := NewRedactingEncoder(newEncoder("json"), RedactionConfig{Enabled: false})
	require.NoError(t, err)
	assert.False(t, enc.shouldRedactKey("api_key"))
}

func TestRedactingEncoderRejectsBadPattern(t *testing.T) {
	enc, err := NewRedactingEncoder(newEncoder("json"), RedactionConfig{
		Enabled:  true,
		Patterns: []string{`([unclosed`},
	})
	require.Error(t, err)
	assert.Nil(t, enc)
	assert.Contains(t, err.Error(), "invalid redaction pattern")
}

func TestSecretField(t *testing.T) {
	tl := NewTestLogger()
	tl.Info(context.Background(), "connector registered",
		Secret("api_key", config.Secret("sk-live-12345")),
	)

	entries := tl.FilterMessage("connector registered").All()
	require.Len(t, entries, 1)
	tl.AssertNoSecrets(t)
}

func TestRedactedString(t *testing.T) {
	field := RedactedString("token", "abcdef")
	assert.Equal(t, "[REDACTED:6]", field.String)
}

func TestLoggerWithAndNamed(t *testing.T) {
	tl := NewTestLogger()
	tl.Logger.With(zap.String("component", "scoring")).Named("adapter").
		Info(context.Background(), "ready")

	entries := tl.FilterMessage("ready").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "adapter", entries[0].LoggerName)
}
