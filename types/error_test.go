package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Format(t *testing.T) {
	err := NewError(ErrServiceCallFailed, "risk service rejected order")
	assert.Equal(t, "[SERVICE_CALL_FAILED] risk service rejected order", err.Error())

	wrapped := Wrap(ErrStoreUnavailable, "put portfolio", errors.New("dial tcp: connection refused"))
	assert.Contains(t, wrapped.Error(), "STORE_UNAVAILABLE")
	assert.Contains(t, wrapped.Error(), "connection refused")
}

func TestError_RetryableDefaults(t *testing.T) {
	assert.True(t, NewError(ErrStoreUnavailable, "down").Retryable)
	assert.True(t, NewError(ErrTimeout, "slow").Retryable)
	assert.False(t, NewError(ErrValidation, "bad input").Retryable)
	assert.False(t, NewError(ErrServiceCallFailed, "app error").Retryable)
}

func TestError_UnwrapChain(t *testing.T) {
	cause := errors.New("socket closed")
	err := Wrap(ErrServiceUnreachable, "invoke market-data", cause)

	require.ErrorIs(t, err, cause)

	var e *Error
	require.ErrorAs(t, fmt.Errorf("step failed: %w", err), &e)
	assert.Equal(t, ErrServiceUnreachable, e.Code)
}

func TestError_IsMatchesByCode(t *testing.T) {
	a := NewError(ErrRiskLimitExceeded, "exposure over limit")
	b := NewError(ErrRiskLimitExceeded, "different message")
	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, NewError(ErrValidation, "exposure over limit")))
}

func TestCodeOf(t *testing.T) {
	err := fmt.Errorf("outer: %w", NewError(ErrCircuitOpen, "cooling down"))
	assert.Equal(t, ErrCircuitOpen, CodeOf(err))
	assert.True(t, HasCode(err, ErrCircuitOpen))
	assert.Equal(t, ErrorCode(""), CodeOf(errors.New("plain")))
}

func TestRetentionScore(t *testing.T) {
	m := &MemoryItem{Importance: 0.5, DecayFactor: 0.5, AccessCount: 3}
	assert.InDelta(t, 1.0, m.RetentionScore(), 1e-9)
}
