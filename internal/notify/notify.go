package notify

import "context"

// MessageRef identifies one posted message so it can be edited in place.
type MessageRef struct {
	Channel   string
	Timestamp string
}

// Notifier is the capability to report job progress into the originating
// conversation. Text values are plain strings with lightweight inline markup
// and must degrade to readable plain text.
type Notifier interface {
	// Post creates a new message in channel. When thread is non-empty the
	// message is posted as a reply in that thread.
	Post(ctx context.Context, channel, thread, text string) (MessageRef, error)
	// Update edits a previously posted message in place.
	Update(ctx context.Context, ref MessageRef, text string) error
	// React adds an emoji reaction to the message identified by timestamp.
	React(ctx context.Context, channel, timestamp, emoji string) error
}
