package commerce

import (
	"errors"
	"fmt"
	"strings"
)

// ErrAuthFailure reports that the client-credentials exchange did not yield a token.
var ErrAuthFailure = errors.New("commerce: authentication failed")

// AuthError wraps the cause of a failed credential exchange.
// Status is zero when the exchange failed before a response arrived.
type AuthError struct {
	Status int
	Err    error
}

func (e *AuthError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("commerce: token exchange status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("commerce: token exchange: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

func (e *AuthError) Is(target error) bool { return target == ErrAuthFailure }

// Code reports the stable error code used in logs.
func (e *AuthError) Code() string { return "AUTH_FAILURE" }

// UpstreamError is returned for any non-success response or transport failure of a catalog call.
type UpstreamError struct {
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *UpstreamError) Error() string {
	var b strings.Builder
	b.WriteString("commerce: ")
	b.WriteString(e.Op)
	if e.Status != 0 {
		fmt.Fprintf(&b, ": status %d", e.Status)
	}
	if e.Body != "" {
		b.WriteString(": ")
		b.WriteString(e.Body)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Code reports the stable error code used in logs.
func (e *UpstreamError) Code() string { return "UPSTREAM_ERROR" }

const maxErrorBody = 512

func truncateBody(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody]
	}
	return s
}
