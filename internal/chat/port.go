// Package chat defines the platform-neutral boundary between the pipeline
// and whatever messenger the bot runs on. The pipeline never sees platform
// message objects, only IDs and text.
package chat

import (
	"context"

	"github.com/batalabs/knowd/internal/domain"
)

// Port is the outbound surface a chat adapter must provide. Implementations
// own message formatting and splitting; callers hand over plain Markdown.
type Port interface {
	// SendText posts a message and returns its platform message ID.
	SendText(ctx context.Context, chatID int64, text string) (int, error)
	// EditText rewrites a previously sent message in place.
	EditText(ctx context.Context, chatID int64, messageID int, text string) error
	// SendDocument uploads a file with an optional caption.
	SendDocument(ctx context.Context, chatID int64, filename string, data []byte, caption string) error
	// Delete removes a previously sent message. Best effort.
	Delete(ctx context.Context, chatID int64, messageID int) error
	// Events is the inbound stream. The adapter closes it on shutdown.
	Events() <-chan domain.IncomingEvent
}

// StatusMessage progressively rewrites one chat message through the
// pipeline phases. A zero message ID disables edits; send failures are
// swallowed, status updates must never abort the pipeline.
type StatusMessage struct {
	Port      Port
	ChatID    int64
	MessageID int
}

// Begin posts the initial status line and returns a handle for edits.
func Begin(ctx context.Context, p Port, chatID int64, text string) StatusMessage {
	id, err := p.SendText(ctx, chatID, text)
	if err != nil {
		id = 0
	}
	return StatusMessage{Port: p, ChatID: chatID, MessageID: id}
}

// Set replaces the status text.
func (s StatusMessage) Set(ctx context.Context, text string) {
	if s.Port == nil || s.MessageID == 0 {
		return
	}
	_ = s.Port.EditText(ctx, s.ChatID, s.MessageID, text)
}
