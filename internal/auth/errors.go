package auth

import "fmt"

// Kind classifies authentication failures.
type Kind string

const (
	// KindDeviceFlowDenied means the user rejected the consent prompt.
	KindDeviceFlowDenied Kind = "device_flow_denied"
	// KindDeviceFlowExpired means the device code lapsed before the user
	// completed sign-in.
	KindDeviceFlowExpired Kind = "device_flow_expired"
	// KindRefreshRejected means the offline credential was revoked or
	// expired; a new device authorization is required.
	KindRefreshRejected Kind = "refresh_rejected"
	// KindTransport covers network and server failures. Retryable by the
	// caller's own backoff.
	KindTransport Kind = "transport"
)

// Error is an authentication failure with a classified kind.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("auth: %s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("auth: %s", e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the failure may clear on its own.
func (e *Error) Retryable() bool {
	return e.Kind == KindTransport
}

func transportErr(msg string, cause error) *Error {
	return &Error{Kind: KindTransport, Message: msg, Cause: cause}
}
