package session

import (
	"errors"
	"fmt"
)

var (
	// ErrCaptureUnavailable means the microphone could not be acquired.
	ErrCaptureUnavailable = errors.New("capture unavailable")
	// ErrTransport means the round trip to the service failed.
	ErrTransport = errors.New("transport error")
	// ErrMalformedResponse means the service answered without the
	// required fields.
	ErrMalformedResponse = errors.New("malformed response")
)

// Kind names the class of err for logs and metrics.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCaptureUnavailable):
		return "capture_unavailable"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed_response"
	default:
		return "transport"
	}
}

// asTransportError makes sure a failure from Send is classified.
func asTransportError(err error) error {
	if errors.Is(err, ErrTransport) || errors.Is(err, ErrMalformedResponse) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransport, err)
}

func captureError(err error) error {
	if errors.Is(err, ErrCaptureUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrCaptureUnavailable, err)
}
