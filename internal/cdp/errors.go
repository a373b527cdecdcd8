package cdp

import (
	"errors"
	"fmt"

	json "github.com/json-iterator/go"
)

var (
	// ErrTimeout is returned by Wait when no matching response arrives
	// before the deadline. The command may be retried.
	ErrTimeout = errors.New("timed out waiting for response")

	// ErrDeadBrowser is returned by Wait when the connection is lost while
	// the response is still pending. Not retryable without reconnecting.
	ErrDeadBrowser = errors.New("browser connection is dead")

	// ErrClosed is returned when using a client or transport after Close.
	ErrClosed = errors.New("connection is closed")

	// errIDMismatch marks a response that belongs to another command.
	// Wait discards such responses and never returns this error.
	errIDMismatch = errors.New("response id mismatch")
)

// ConnectionError reports that the socket or WebSocket handshake could not
// be established.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to CDP endpoint %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// BrowserError is a protocol error returned by the browser for a command.
type BrowserError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`

	// Payload holds the error object exactly as received.
	Payload json.RawMessage `json:"-"`
}

// Error implements the error interface.
func (e *BrowserError) Error() string {
	if len(e.Data) > 0 {
		var data string
		if err := json.Unmarshal(e.Data, &data); err != nil {
			data = string(e.Data)
		}
		return fmt.Sprintf("cdp error %d: %s (%s)", e.Code, e.Message, data)
	}
	return fmt.Sprintf("cdp error %d: %s", e.Code, e.Message)
}

// newBrowserError decodes an error payload. Payloads that are not objects
// still produce a BrowserError carrying the raw bytes.
func newBrowserError(payload json.RawMessage) *BrowserError {
	be := &BrowserError{}
	if err := json.Unmarshal(payload, be); err != nil {
		be.Message = string(payload)
	}
	be.Payload = payload
	return be
}
