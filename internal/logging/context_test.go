package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestContextFields_Empty(t *testing.T) {
	fields := ContextFields(context.Background())
	assert.Empty(t, fields)
}

func TestContextFields_Correlation(t *testing.T) {
	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithSessionID(ctx, "sess-2")
	ctx = WithUserID(ctx, "user-3")

	fields := ContextFields(ctx)
	assert.Contains(t, fields, zap.String("request.id", "req-1"))
	assert.Contains(t, fields, zap.String("session.id", "sess-2"))
	assert.Contains(t, fields, zap.String("user.id", "user-3"))
}

func TestFromContext_Absent(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "", RequestIDFromContext(ctx))
	assert.Equal(t, "", SessionIDFromContext(ctx))
	assert.Equal(t, "", UserIDFromContext(ctx))
}
