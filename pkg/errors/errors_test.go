package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorIsByCode(t *testing.T) {
	custom := ErrRateLimited.WithMessage("too many messages")
	assert.True(t, Is(custom, ErrRateLimited))
	assert.False(t, Is(custom, ErrRoomFull))
	assert.Equal(t, "Rate limit exceeded", ErrRateLimited.Message, "shared sentinel must stay untouched")
}

func TestWrappedSentinel(t *testing.T) {
	cause := stderrors.New("dial tcp: connection refused")
	err := fmt.Errorf("%w: %w", ErrStoreUnavailable, cause)

	assert.True(t, Is(err, ErrStoreUnavailable))
	assert.True(t, Is(err, cause))

	e := FromError(err)
	require.NotNil(t, e)
	assert.Equal(t, 2006, e.Code)
	assert.Equal(t, 503, e.HttpCode)
}

func TestWithError(t *testing.T) {
	cause := stderrors.New("boom")
	err := ErrHandler.WithError(cause)

	assert.Equal(t, "Internal error: boom", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Nil(t, ErrHandler.Err)
}

func TestFromErrorPlain(t *testing.T) {
	assert.Nil(t, FromError(nil))
	assert.Nil(t, FromError(stderrors.New("plain")))
}

func TestNewDefaultHTTPCode(t *testing.T) {
	assert.Equal(t, 500, New(1, "x").HttpCode)
	assert.Equal(t, 418, New(1, "x", 418).HttpCode)
}
