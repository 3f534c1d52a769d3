// Package transport defines the chat-delivery boundary. The wire protocol
// of an actual chat network is out of scope; implementations plug in here.
package transport

import "context"

// ProgressFunc is invoked with (bytesSent, bytesTotal) as an upload advances.
type ProgressFunc func(sent, total int64)

// Transport delivers files and status text to a destination. SendFile blocks
// until the upload finishes and must be driven from a worker, never from the
// intake path.
type Transport interface {
	Name() string
	SendFile(ctx context.Context, dest, path, caption string, progress ProgressFunc) error
	SendText(ctx context.Context, dest, text string) error
}
