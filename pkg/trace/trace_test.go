package trace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestContextRoundTrip(t *testing.T) {
	ctx := WithContext(context.Background(), "run-1")
	assert.Equal(t, "run-1", FromContext(ctx))
	assert.Empty(t, FromContext(context.Background()))
}

func TestFromHeader(t *testing.T) {
	assert.Equal(t, "abc", FromHeader("abc"))
	assert.Len(t, FromHeader(""), 36)
}

func TestTraceFieldOnLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	l := zap.New(core).With(zap.String("trace_id", FromContext(WithContext(context.Background(), "t-9"))))
	l.Info("hello")
	assert.Equal(t, "t-9", logs.All()[0].ContextMap()["trace_id"])
}
