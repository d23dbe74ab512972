package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"

	"renonotify/internal/template"
)

// FailureKind splits provider failures into the two classes the dispatcher
// cares about: transient failures are retried with backoff, permanent ones
// terminate the entry and suppress the recipient.
type FailureKind string

const (
	FailureTransient FailureKind = "TRANSIENT"
	FailurePermanent FailureKind = "PERMANENT"
)

// SendError is a structured provider failure.
type SendError struct {
	Kind    FailureKind
	Code    string
	Message string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("provider %s failure [%s]: %s", e.Kind, e.Code, e.Message)
}

// Sender delivers one rendered message to one recipient.
type Sender interface {
	Name() string
	Send(ctx context.Context, recipient string, content *template.RenderedContent) (providerID string, err error)
}

// ClassifyTransportError maps an error from the HTTP layer to a SendError.
// Network problems and timeouts are transient; anything unrecognized is
// treated as transient too, since retrying a flaky provider is cheaper than
// wrongly burning a recipient.
func ClassifyTransportError(err error) *SendError {
	if err == nil {
		return nil
	}

	var sendErr *SendError
	if errors.As(err, &sendErr) {
		return sendErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &SendError{Kind: FailureTransient, Code: "timeout", Message: err.Error()}
	}
	if errors.Is(err, context.Canceled) {
		return &SendError{Kind: FailureTransient, Code: "canceled", Message: err.Error()}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &SendError{Kind: FailureTransient, Code: "network_timeout", Message: err.Error()}
		}
		return &SendError{Kind: FailureTransient, Code: "network_error", Message: err.Error()}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return &SendError{Kind: FailureTransient, Code: "network_timeout", Message: err.Error()}
		}
		return &SendError{Kind: FailureTransient, Code: "network_error", Message: err.Error()}
	}

	return &SendError{Kind: FailureTransient, Code: "unknown_error", Message: err.Error()}
}

// classifyStatus maps a provider HTTP status to a failure kind. 4xx other
// than 429 means the request itself is bad and retrying cannot help.
func classifyStatus(status int) FailureKind {
	switch {
	case status == 429:
		return FailureTransient
	case status >= 500:
		return FailureTransient
	default:
		return FailurePermanent
	}
}
