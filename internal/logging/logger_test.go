package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &out))
	return out
}

func TestLoggerKeyValuePairs(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, &Config{Level: "DEBUG", JSONFormat: true}).WithComponent("scanner")

	l.Info("candidate evaluated", "symbol", "SOLUSDT", "rsi", 21.5)

	line := decodeLine(t, &buf)
	assert.Equal(t, "candidate evaluated", line["message"])
	assert.Equal(t, "scanner", line["component"])
	assert.Equal(t, "SOLUSDT", line["symbol"])
	assert.Equal(t, 21.5, line["rsi"])
}

func TestLoggerPrintfStyle(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, &Config{Level: "INFO", JSONFormat: true})

	l.Warn("skipping %s after %d attempts", "ETHUSDT", 2)

	line := decodeLine(t, &buf)
	assert.Equal(t, "skipping ETHUSDT after 2 attempts", line["message"])
	assert.Equal(t, "warn", line["level"])
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, &Config{Level: "WARN", JSONFormat: true})

	l.Info("hidden")
	l.Debug("hidden too")
	assert.Zero(t, buf.Len())

	l.WithError(errors.New("boom")).Error("visible")
	line := decodeLine(t, &buf)
	assert.Equal(t, "boom", line["error"])
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", DEBUG},
		{"WARNING", WARN},
		{"error", ERROR},
		{"nonsense", INFO},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestWithTraceContext(t *testing.T) {
	var buf bytes.Buffer
	base := NewWithWriter(&buf, &Config{Level: "INFO", JSONFormat: true})

	ctx, l := WithTraceContext(context.Background(), base)
	id := TraceIDFromContext(ctx)
	require.NotEmpty(t, id)
	assert.Same(t, l, FromContext(ctx))

	l.Info("cycle started")
	line := decodeLine(t, &buf)
	assert.Equal(t, id, line["trace_id"])
}

func TestLoggerPercentInMessage(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, &Config{Level: "INFO", JSONFormat: true})

	l.Info("Sold SOLUSDT, PnL +1.50% after ladder stop", "symbol", "SOLUSDT")

	line := decodeLine(t, &buf)
	assert.Equal(t, "Sold SOLUSDT, PnL +1.50% after ladder stop", line["message"])
	assert.Equal(t, "SOLUSDT", line["symbol"])
}

func TestLoggerSingleComponentKey(t *testing.T) {
	var buf bytes.Buffer
	base := NewWithWriter(&buf, &Config{Level: "INFO", Component: "app", JSONFormat: true})

	base.Info("root")
	assert.Equal(t, "app", decodeLine(t, &buf)["component"])
	buf.Reset()

	l := base.WithComponent("paper_exchange").WithTraceID("t-1").WithTraceID("t-2")
	l.Info("order filled", "symbol", "SOLUSDT")

	raw := buf.String()
	assert.Equal(t, 1, strings.Count(raw, `"component"`), raw)
	assert.Equal(t, 1, strings.Count(raw, `"trace_id"`), raw)
	line := decodeLine(t, &buf)
	assert.Equal(t, "paper_exchange", line["component"])
	assert.Equal(t, "t-2", line["trace_id"])
}
