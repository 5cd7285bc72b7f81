package api

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrNoToken means no bearer token is configured. The surrounding application
// sends the user through its login flow; the core only refuses the call.
var ErrNoToken = errors.New("no bearer token configured")

// Error is an application-class failure: the remote authority answered with a
// 4xx/5xx and a response body. It propagates to the caller unchanged and is
// never queued for replay, since the rejection reason likely still applies.
type Error struct {
	Status int
	Body   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("remote API error %d: %s", e.Status, e.Body)
}

// IsNetworkError reports whether err is a network-class failure: no response
// reached the remote authority at all. Only these failures fall back to the
// local store and queue.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *Error
	if errors.As(err, &apiErr) {
		return false
	}
	if errors.Is(err, ErrNoToken) {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// http.Client wraps transport failures in *url.Error, which implements
	// net.Error, so anything left unclassified here is treated as reached.
	return false
}

// IsTimeout reports whether a network-class failure was a timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// UserMessage maps an error to the friendly text the UI layer shows.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case IsTimeout(err):
		return "The server is taking too long to respond. It may be cold-starting, please try again in a moment."
	case IsNetworkError(err):
		return "Could not reach the server. Please check your connection."
	default:
		return err.Error()
	}
}

// MsgSavedOffline is reported when a write was queued instead of sent.
const MsgSavedOffline = "Saved offline. Your changes will sync when the connection returns."
