package ctxkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestRequestID(t *testing.T) {
	_, ok := RequestID(context.Background())
	assert.False(t, ok)

	_, ok = RequestID(WithRequestID(context.Background(), ""))
	assert.False(t, ok)

	id, ok := RequestID(WithRequestID(context.Background(), "req-1"))
	assert.True(t, ok)
	assert.Equal(t, "req-1", id)
}

func TestLogFields(t *testing.T) {
	assert.Empty(t, LogFields(context.Background()))

	ctx := WithRunID(WithRequestID(context.Background(), "req-1"), "run-1")
	assert.Equal(t, []zap.Field{
		zap.String("request_id", "req-1"),
		zap.String("run_id", "run-1"),
	}, LogFields(ctx))
}
