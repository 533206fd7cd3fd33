package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTraceID(t *testing.T) {
	t.Run("keeps provided id", func(t *testing.T) {
		ctx := WithTraceID(context.Background(), "abc")
		assert.Equal(t, "abc", GetTraceID(ctx))
	})

	t.Run("generates uuid when empty", func(t *testing.T) {
		ctx := WithTraceID(context.Background(), "")
		assert.Len(t, GetTraceID(ctx), 36)
	})

	t.Run("missing", func(t *testing.T) {
		assert.Empty(t, GetTraceID(context.Background()))
	})

	t.Run("unique", func(t *testing.T) {
		assert.NotEqual(t, NewTraceID(), NewTraceID())
	})
}
