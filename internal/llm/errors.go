package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/openai/openai-go"
)

// StatusError carries a provider HTTP status. 4xx codes are terminal:
// the request itself is wrong and retrying or falling back cannot fix it.
type StatusError struct {
	Provider string
	Code     int
	Message  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider %s returned status %d: %s", e.Provider, e.Code, e.Message)
}

// IsClientError reports whether the status is 4xx.
func (e *StatusError) IsClientError() bool {
	return e.Code >= 400 && e.Code < 500
}

// IsTransient classifies an error as transient connectivity: refused
// connection, DNS failure, or a network timeout. Transient errors trigger
// provider fallback; everything else surfaces as a failed session.
// A provider 4xx is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	// 5xx and 429 are provider-side trouble worth failing over for;
	// other 4xx means our request is malformed.
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code >= 500 || statusErr.Code == 429
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == 429
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	// Deadline expiry on the HTTP call itself (read timeout).
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	return false
}

// WrapProviderError normalizes an openai-go API error into a StatusError
// so callers classify on one type. Non-API errors pass through.
func WrapProviderError(provider string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 && apiErr.StatusCode != 429 {
		return &StatusError{Provider: provider, Code: apiErr.StatusCode, Message: apiErr.Message}
	}
	return err
}
