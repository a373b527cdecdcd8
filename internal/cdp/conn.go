// Package cdp provides a Chrome DevTools Protocol client that correlates
// asynchronous command responses and fans out browser events.
package cdp

import (
	"context"

	"github.com/coder/websocket"
)

// Conn defines the interface for a message-level WebSocket connection.
// *websocket.Conn satisfies it; tests substitute mock connections.
type Conn interface {
	// Read reads a message from the connection.
	// Returns message type, payload, and any error.
	Read(ctx context.Context) (websocket.MessageType, []byte, error)

	// Write writes a message to the connection.
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error

	// Close closes the connection with a status code and reason.
	Close(code websocket.StatusCode, reason string) error
}
