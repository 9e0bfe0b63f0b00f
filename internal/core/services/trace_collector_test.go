package services

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manthysbr/techscout/internal/core/domain"
)

func TestTruncate_KeepsRunesWhole(t *testing.T) {
	// "é" occupies bytes 9 and 10; a cut at 10 must not split it.
	s := strings.Repeat("a", 9) + "é" + "bc"
	got := truncate(s, 10)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("a", 9)+"...[truncated]", got)

	assert.Equal(t, s, truncate(s, len(s)))
	assert.Equal(t, "a�b", truncate("a\xffb", 10))
}

func TestTailBytes(t *testing.T) {
	s := "ab" + "日本"
	assert.Equal(t, "本", tailBytes(s, 4))
	assert.Equal(t, "日本", tailBytes(s, 6))
	assert.Equal(t, s, tailBytes(s, 100))
}

func TestTraceName_MultiByte(t *testing.T) {
	task := strings.Repeat("a", 74) + "é" + strings.Repeat("b", 10)
	name := traceName("run", task)
	assert.True(t, utf8.ValidString(name))
	assert.Equal(t, "run: "+strings.Repeat("a", 74)+"...", name)

	assert.Equal(t, "run: short", traceName("run", "short"))
}

func TestTraceCollector_SpanTextIsValidUTF8(t *testing.T) {
	tc := NewTraceCollector(testLogger(), nil, nil, nil)
	ctx, traceID := tc.StartTrace(context.Background(), "run-1", "run: caf\xe9", nil)
	_, spanID := tc.StartSpan(ctx, "tool.lookup", domain.SpanKindTool, nil)

	long := strings.Repeat("x", maxInputOutput-1) + "ü"
	tc.SetSpanInput(spanID, long)
	tc.EndSpan(spanID, domain.SpanStatusError, long, "bad \xff byte")
	tc.EndTrace(traceID, domain.SpanStatusOK, "")

	trace, err := tc.GetTrace(context.Background(), traceID)
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(trace.Name))
	for _, s := range trace.Spans {
		assert.True(t, utf8.ValidString(s.Name), s.Name)
		assert.True(t, utf8.ValidString(s.Input))
		assert.True(t, utf8.ValidString(s.Output))
		assert.True(t, utf8.ValidString(s.Error))
	}
}
