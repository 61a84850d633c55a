package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestServerErrorFallsBackToStatusText(t *testing.T) {
	err := NewServerError(http.StatusServiceUnavailable, "")
	assert.Equal(t, "Service Unavailable", err.Message)
	assert.Equal(t, "server error 503: Service Unavailable", err.Error())
}

func TestPredicatesSeeThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("fetch account: %w", NewServerError(500, "boom"))
	assert.True(t, IsServerError(wrapped))
	assert.False(t, IsUnauthenticated(wrapped))

	code, ok := ServerCode(wrapped)
	assert.True(t, ok)
	assert.Equal(t, 500, code)
	assert.Equal(t, "boom", Message(wrapped))

	auth := fmt.Errorf("call: %w", NewUnauthenticatedError("no token", nil))
	assert.True(t, IsUnauthenticated(auth))
	_, ok = ServerCode(auth)
	assert.False(t, ok)
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	err := NewInvalidResponseError("transport failure", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "caused by: connection reset")
	assert.True(t, IsInvalidResponse(err))
	assert.True(t, IsInvalidPayload(NewInvalidPayloadError("missing networks", nil)))
}
