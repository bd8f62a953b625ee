package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"testing"

	"github.com/openai/openai-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("boom"), false},
		{"canceled is a user abort", context.Canceled, false},
		{"refused connection", fmt.Errorf("post: %w", syscall.ECONNREFUSED), true},
		{"reset mid-stream", &net.OpError{Op: "read", Err: syscall.ECONNRESET}, true},
		{"dns failure", &net.DNSError{Err: "no such host", Name: "llm.localdomain"}, true},
		{"io deadline", os.ErrDeadlineExceeded, true},
		{"context deadline", fmt.Errorf("chat: %w", context.DeadlineExceeded), true},
		{"provider 400", &StatusError{Provider: "openai", Code: 400}, false},
		{"provider 404", &StatusError{Provider: "openai", Code: 404}, false},
		{"provider 429", &StatusError{Provider: "openai", Code: 429}, true},
		{"provider 503", &StatusError{Provider: "openai", Code: 503}, true},
		{"api 400", &openai.Error{StatusCode: 400}, false},
		{"api 429", &openai.Error{StatusCode: 429}, true},
		{"api 500", &openai.Error{StatusCode: 500}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestWrapProviderError(t *testing.T) {
	assert.NoError(t, WrapProviderError("openai", nil))

	// Terminal client errors normalize to StatusError.
	wrapped := WrapProviderError("openai", &openai.Error{StatusCode: 404, Message: "no such model"})
	var statusErr *StatusError
	require.ErrorAs(t, wrapped, &statusErr)
	assert.Equal(t, 404, statusErr.Code)
	assert.Equal(t, "openai", statusErr.Provider)
	assert.True(t, statusErr.IsClientError())
	assert.Contains(t, wrapped.Error(), "no such model")

	// Rate limits and server errors pass through for the transient path.
	rateLimited := &openai.Error{StatusCode: 429}
	assert.Equal(t, error(rateLimited), WrapProviderError("openai", rateLimited))
	serverErr := &openai.Error{StatusCode: 502}
	assert.Equal(t, error(serverErr), WrapProviderError("openai", serverErr))

	plain := errors.New("dial tcp: timeout")
	assert.Equal(t, plain, WrapProviderError("openai", plain))
}
