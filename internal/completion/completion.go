// Package completion provides streaming text-completion drivers. Drivers
// parse their provider's wire protocol internally and yield plain text
// deltas, so the chat pipeline never sees SSE frames.
package completion

import (
	"context"

	"github.com/cloudsecdocs/docschat/pkg/models"
)

// Chunk is one parsed unit of a completion stream. Each stream ends with one
// terminal chunk (Done true or Err non-nil) before the channel closes, except
// when ctx is cancelled: then the channel may close without a terminal chunk,
// and callers must treat ctx.Err() as the stream outcome.
type Chunk struct {
	// Text is the next piece of assistant output. Empty on terminal chunks.
	Text string

	// Done marks successful end of stream.
	Done bool

	// Err marks an aborted stream. Text already delivered stands.
	Err error
}

// Request describes one completion call.
type Request struct {
	SystemPrompt string
	Messages     []models.ChatMessage
	MaxTokens    int
}

// Streamer produces a live token stream for a prompt. The returned channel
// is closed after the terminal chunk. Cancelling ctx stops production.
type Streamer interface {
	Stream(ctx context.Context, req Request) (<-chan Chunk, error)
}
