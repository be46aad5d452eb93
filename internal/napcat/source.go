package napcat

import (
	"context"
	"strings"

	"github.com/park285/arcade-count-bot/internal/dispatch"
)

// PollSource reads new messages from get_recent_contact.
type PollSource struct {
	client        *Client
	groupChatType int
}

// NewPollSource treats contacts whose chatType equals groupChatType as groups.
func NewPollSource(c *Client, groupChatType int) *PollSource {
	return &PollSource{client: c, groupChatType: groupChatType}
}

func (p *PollSource) FetchRecent(ctx context.Context, count int) ([]dispatch.RawMessage, error) {
	contacts, err := p.client.GetRecentContact(ctx, count)
	if err != nil {
		return nil, err
	}
	out := make([]dispatch.RawMessage, 0, len(contacts))
	for _, c := range contacts {
		out = append(out, dispatch.RawMessage{
			ID:      int64(c.MsgID),
			Group:   c.ChatType == p.groupChatType,
			GroupID: string(c.PeerUin),
			Sender:  strings.TrimSpace(c.SendNickName),
			Parts:   toParts(c.LastestMsg.Message),
		})
	}
	return out, nil
}

func toParts(segs Segments) []dispatch.Part {
	parts := make([]dispatch.Part, 0, len(segs))
	for _, s := range segs {
		parts = append(parts, dispatch.Part{Kind: s.Type, Text: s.Data.Text})
	}
	return parts
}
