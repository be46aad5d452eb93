package napcat

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/park285/arcade-count-bot/internal/dispatch"
	"go.uber.org/zap"
)

// EventStream buffers group message events pushed over the websocket and
// hands them out through FetchRecent, so push and poll feed the same loop.
//
// OneBot message ids are not ordered, so each buffered message gets an id
// derived from its arrival time in microseconds, strictly increasing.
type EventStream struct {
	ws     *WebSocket
	sub    int
	logger *zap.Logger

	mu      sync.Mutex
	buf     []dispatch.RawMessage
	max     int
	lastID  int64
	dropped int
	now     func() time.Time
}

// NewEventStream subscribes to ws. At most bufferSize messages are held;
// the oldest are dropped when the loop falls behind.
func NewEventStream(ws *WebSocket, bufferSize int, logger *zap.Logger) *EventStream {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	es := &EventStream{ws: ws, logger: logger, max: bufferSize, now: time.Now}
	if ws != nil {
		es.sub = ws.OnEvent(es.push)
	}
	return es
}

// Close stops buffering new events. Messages already held can still be fetched.
func (es *EventStream) Close() {
	if es.ws != nil && es.sub != 0 {
		es.ws.RemoveEventCallback(es.sub)
		es.sub = 0
	}
}

func (es *EventStream) push(ev *Event) {
	if ev == nil || ev.PostType != "message" || ev.MessageType != "group" {
		return
	}
	es.mu.Lock()
	defer es.mu.Unlock()

	id := es.now().UnixMicro()
	if id <= es.lastID {
		id = es.lastID + 1
	}
	es.lastID = id

	es.buf = append(es.buf, dispatch.RawMessage{
		ID:      id,
		Group:   true,
		GroupID: string(ev.GroupID),
		Sender:  strings.TrimSpace(ev.SenderName()),
		Parts:   toParts(ev.Message),
	})
	if over := len(es.buf) - es.max; over > 0 {
		es.buf = append([]dispatch.RawMessage(nil), es.buf[over:]...)
		es.dropped += over
		es.logger.Warn("event_buffer_overflow", zap.Int("dropped", over), zap.Int("dropped_total", es.dropped))
	}
}

// FetchRecent drains up to count buffered messages, oldest first.
func (es *EventStream) FetchRecent(ctx context.Context, count int) ([]dispatch.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	es.mu.Lock()
	defer es.mu.Unlock()
	if len(es.buf) == 0 {
		return nil, nil
	}
	n := len(es.buf)
	if count > 0 && count < n {
		n = count
	}
	out := append([]dispatch.RawMessage(nil), es.buf[:n]...)
	es.buf = es.buf[n:]
	return out, nil
}

// Pending reports how many messages are waiting.
func (es *EventStream) Pending() int {
	es.mu.Lock()
	defer es.mu.Unlock()
	return len(es.buf)
}
