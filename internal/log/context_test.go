// SPDX-License-Identifier: MIT

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	ctx = ContextWithRequestID(ctx, "req-1")
	ctx = ContextWithTenant(ctx, "guild-42", "user-7")
	ctx = ContextWithCommand(ctx, "play")

	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.Equal(t, "guild-42", TenantIDFromContext(ctx))
	assert.Equal(t, "user-7", UserIDFromContext(ctx))
	assert.Equal(t, "play", CommandFromContext(ctx))
}

func TestContextNilSafety(t *testing.T) {
	assert.Equal(t, "", RequestIDFromContext(nil)) //nolint:staticcheck // nil-tolerance is the contract under test
	assert.Equal(t, "", TenantIDFromContext(context.Background()))
}

func TestWithContextEmitsCorrelationFields(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	ctx := ContextWithTenant(context.Background(), "guild-42", "user-7")
	ctx = ContextWithCommand(ctx, "skip")

	l := WithContext(ctx, logger)
	l.Info().Msg("handled")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "guild-42", entry[FieldTenantID])
	assert.Equal(t, "user-7", entry[FieldUserID])
	assert.Equal(t, "skip", entry[FieldCommand])
}

func TestWithContextNoFieldsReturnsSame(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	l := WithContext(context.Background(), logger)
	l.Info().Msg("plain")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	_, ok := entry[FieldTenantID]
	assert.False(t, ok)
}
