package memory

import (
	"context"
	"strings"
)

// ConversationHistory exposes one conversation of a [HistoryStore] as
// newline-joined "Speaker: text" lines.
type ConversationHistory struct {
	store HistoryStore
	id    string
}

// Conversation returns the history of conversationID in store.
func Conversation(store HistoryStore, conversationID string) *ConversationHistory {
	return &ConversationHistory{store: store, id: conversationID}
}

// ID returns the conversation id.
func (c *ConversationHistory) ID() string { return c.id }

// Recent returns the newest window lines, oldest first.
func (c *ConversationHistory) Recent(ctx context.Context, window int) (string, error) {
	lines, err := c.store.Recent(ctx, c.id, window)
	if err != nil {
		return "", err
	}
	return FormatLines(lines), nil
}

// Record appends lines to the conversation.
func (c *ConversationHistory) Record(ctx context.Context, lines ...Line) error {
	return c.store.Append(ctx, c.id, lines...)
}

// FormatLines renders lines as "Speaker: text", one per line.
func FormatLines(lines []Line) string {
	var b strings.Builder
	for i, l := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(l.Speaker)
		b.WriteString(": ")
		b.WriteString(l.Text)
	}
	return b.String()
}
