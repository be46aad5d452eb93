package dispatch

import (
	"context"
	"sort"
	"strings"
)

// PartText is the segment kind that carries plain text.
const PartText = "text"

// Part is one segment of a chat message.
type Part struct {
	Kind string
	Text string
}

// RawMessage is a message as the source delivers it.
type RawMessage struct {
	ID      int64
	Group   bool
	GroupID string
	Sender  string
	Parts   []Part
}

// Message is a new group message with its text segments joined.
type Message struct {
	ID      int64
	GroupID string
	Sender  string
	Content string
}

// Source yields recent messages. Implementations may return messages that
// were already seen; the loop deduplicates by id.
type Source interface {
	FetchRecent(ctx context.Context, count int) ([]RawMessage, error)
}

// Sink delivers reply text to a group.
type Sink interface {
	SendText(ctx context.Context, groupID, text string) error
}

// Text joins the text segments in order.
func (m RawMessage) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Kind == PartText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// Filter keeps group messages newer than cursor that carry text, oldest first.
// next is the highest group message id above cursor, including messages that
// were dropped for having no text; it equals cursor when nothing is new.
func Filter(raws []RawMessage, cursor int64) (msgs []Message, next int64) {
	next = cursor
	for _, r := range raws {
		if !r.Group || r.ID <= cursor {
			continue
		}
		if r.ID > next {
			next = r.ID
		}
		content := r.Text()
		if strings.TrimSpace(content) == "" {
			continue
		}
		msgs = append(msgs, Message{ID: r.ID, GroupID: r.GroupID, Sender: r.Sender, Content: content})
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].ID < msgs[j].ID })
	return msgs, next
}
