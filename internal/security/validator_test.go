package security

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/videogen/internal/apierr"
	"github.com/ocx/videogen/internal/fabric"
)

func TestValidator_ValidToken(t *testing.T) {
	gw := fabric.NewMemoryGateway()
	v := NewValidator("test-secret", gw, 5*time.Minute)

	token, err := MintToken("test-secret", "user-123", time.Hour)
	require.NoError(t, err)

	userID, err := v.Validate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-123", userID)
}

func TestValidator_InvalidSignature(t *testing.T) {
	gw := fabric.NewMemoryGateway()
	v := NewValidator("test-secret", gw, 5*time.Minute)

	token, err := MintToken("wrong-secret", "user-123", time.Hour)
	require.NoError(t, err)

	_, err = v.Validate(context.Background(), token)
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindAuth, apiErr.Kind)
}

func TestValidator_ExpiredToken(t *testing.T) {
	gw := fabric.NewMemoryGateway()
	v := NewValidator("test-secret", gw, 5*time.Minute)

	token, err := MintToken("test-secret", "user-123", -time.Minute)
	require.NoError(t, err)

	_, err = v.Validate(context.Background(), token)
	require.Error(t, err)
}

func TestValidator_MissingSubject(t *testing.T) {
	gw := fabric.NewMemoryGateway()
	v := NewValidator("test-secret", gw, 5*time.Minute)

	token, err := MintToken("test-secret", "", time.Hour)
	require.NoError(t, err)

	_, err = v.Validate(context.Background(), token)
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, "AUTH_MISSING_SUBJECT", apiErr.Code)
}

func TestValidator_CachesPositiveResult(t *testing.T) {
	gw := fabric.NewMemoryGateway()
	v := NewValidator("test-secret", gw, 5*time.Minute)

	token, err := MintToken("test-secret", "user-123", time.Hour)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = v.Validate(ctx, token)
	require.NoError(t, err)

	cached, ok, err := gw.Get(ctx, v.cacheKey(token))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "user-123", string(cached))
}

func TestValidator_EmptyToken(t *testing.T) {
	gw := fabric.NewMemoryGateway()
	v := NewValidator("test-secret", gw, 5*time.Minute)

	_, err := v.Validate(context.Background(), "")
	require.Error(t, err)
}
