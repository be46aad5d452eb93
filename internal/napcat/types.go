package napcat

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrTransport wraps every failure talking to the bridge.
var ErrTransport = errors.New("napcat transport error")

// Envelope is the OneBot response wrapper shared by HTTP calls and websocket
// action replies.
type Envelope struct {
	Status  string          `json:"status"`
	Retcode int             `json:"retcode"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
	Wording string          `json:"wording,omitempty"`
	Echo    string          `json:"echo,omitempty"`
}

// OK reports the bridge's success rule: status "ok" and retcode 0.
func (e *Envelope) OK() bool { return e.Status == "ok" && e.Retcode == 0 }

func (e *Envelope) err() error {
	msg := e.Wording
	if msg == "" {
		msg = e.Message
	}
	return fmt.Errorf("%w: status=%s retcode=%d %s", ErrTransport, e.Status, e.Retcode, msg)
}

// ID is a numeric id the bridge may send as a JSON number or string.
type ID int64

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = 0
		return nil
	}
	s := string(b)
	if b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*id = 0
			return nil
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("napcat: bad id %s", b)
	}
	*id = ID(n)
	return nil
}

// Text is a string the bridge may send as a JSON string or number.
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*t = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*t = Text(n.String())
	return nil
}

// Segment is one element of a message array.
type Segment struct {
	Type string `json:"type"`
	Data struct {
		Text string `json:"text,omitempty"`
	} `json:"data"`
}

// Segments decodes either a segment array or a plain CQ string.
type Segments []Segment

func (s *Segments) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = nil
		return nil
	}
	if b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		seg := Segment{Type: "text"}
		seg.Data.Text = str
		*s = Segments{seg}
		return nil
	}
	var arr []Segment
	if err := json.Unmarshal(b, &arr); err != nil {
		return err
	}
	*s = arr
	return nil
}

// Contact is one entry of get_recent_contact.
type Contact struct {
	MsgID        ID     `json:"msgId"`
	ChatType     int    `json:"chatType"`
	PeerUin      Text   `json:"peerUin"`
	PeerName     string `json:"peerName,omitempty"`
	SendNickName string `json:"sendNickName"`
	LastestMsg   struct {
		Message Segments `json:"message"`
	} `json:"lastestMsg"`
}

type recentContactRequest struct {
	Count int `json:"count"`
}

type sendGroupMsgParams struct {
	GroupID any      `json:"group_id"`
	Message Segments `json:"message"`
}

// actionFrame is a OneBot action sent over the websocket.
type actionFrame struct {
	Action string `json:"action"`
	Params any    `json:"params"`
	Echo   string `json:"echo"`
}

// Event is the subset of a OneBot push event the bot reads.
type Event struct {
	PostType    string   `json:"post_type"`
	MessageType string   `json:"message_type"`
	MessageID   ID       `json:"message_id"`
	GroupID     Text     `json:"group_id"`
	UserID      Text     `json:"user_id"`
	Time        int64    `json:"time"`
	Message     Segments `json:"message"`
	RawMessage  string   `json:"raw_message"`
	Sender      struct {
		Nickname string `json:"nickname"`
		Card     string `json:"card"`
	} `json:"sender"`

	// action replies share the stream
	Status string `json:"status"`
	Echo   string `json:"echo"`
}

// SenderName prefers the group card over the nickname.
func (e *Event) SenderName() string {
	if s := strings.TrimSpace(e.Sender.Card); s != "" {
		return s
	}
	return strings.TrimSpace(e.Sender.Nickname)
}

func textSegments(text string) Segments {
	seg := Segment{Type: "text"}
	seg.Data.Text = text
	return Segments{seg}
}

// groupIDValue sends numeric ids as numbers and anything else verbatim.
func groupIDValue(groupID string) any {
	if n, err := strconv.ParseInt(strings.TrimSpace(groupID), 10, 64); err == nil {
		return n
	}
	return groupID
}
