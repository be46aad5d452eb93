package napcat

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Egress sends reply text to a group over HTTP or the websocket.
type Egress interface {
	SendText(ctx context.Context, groupID, text string) error
}

type transportMode string

const (
	transportHTTP transportMode = "http"
	transportWS   transportMode = "ws"
	transportAuto transportMode = "auto"
)

// NewEgress creates an Egress based on mode. When mode is auto, WS is preferred when connected;
// on WS failure, it falls back to HTTP once. With dryrun nothing is sent, only logged.
func NewEgress(mode string, dryrun bool, c *Client, ws *WebSocket, logger *zap.Logger) Egress {
	if logger == nil {
		logger = zap.NewNop()
	}
	var e Egress
	switch transportMode(mode) {
	case transportWS:
		e = &wsEgress{ws: ws, logger: logger}
	case transportAuto:
		e = &autoEgress{ws: &wsEgress{ws: ws, logger: logger}, http: &httpEgress{c: c}, logger: logger}
	default:
		e = &httpEgress{c: c}
	}
	if dryrun {
		return &dryRunEgress{mode: mode, logger: logger}
	}
	return e
}

// httpEgress delegates to Client.
type httpEgress struct{ c *Client }

func (h *httpEgress) SendText(ctx context.Context, groupID, text string) error {
	if h == nil || h.c == nil {
		return errors.New("http egress not available")
	}
	return h.c.SendGroupMsg(ctx, groupID, text)
}

// wsEgress writes send_group_msg action frames over the websocket.
type wsEgress struct {
	ws     *WebSocket
	logger *zap.Logger
}

func (w *wsEgress) SendText(ctx context.Context, groupID, text string) error {
	if w == nil || w.ws == nil {
		return errors.New("ws egress not available")
	}
	frame := actionFrame{
		Action: "send_group_msg",
		Params: sendGroupMsgParams{GroupID: groupIDValue(groupID), Message: textSegments(text)},
		Echo:   uuid.NewString(),
	}
	if err := w.ws.Write(ctx, frame); err != nil {
		return err
	}
	w.logger.Debug("ws_egress_sent", zap.String("group", groupID), zap.String("echo", frame.Echo))
	return nil
}

func (w *wsEgress) available() bool {
	return w != nil && w.ws != nil && w.ws.Connected()
}

// autoEgress prefers WS if available, with single fallback to HTTP.
type autoEgress struct {
	ws     *wsEgress
	http   *httpEgress
	logger *zap.Logger
}

func (a *autoEgress) SendText(ctx context.Context, groupID, text string) error {
	if a.ws.available() {
		if err := a.ws.SendText(ctx, groupID, text); err == nil {
			return nil
		}
		a.logger.Warn("egress_fallback", zap.String("group", groupID))
	}
	return a.http.SendText(ctx, groupID, text)
}

type dryRunEgress struct {
	mode   string
	logger *zap.Logger
}

func (d *dryRunEgress) SendText(ctx context.Context, groupID, text string) error {
	d.logger.Info("egress_dryrun", zap.String("mode", d.mode), zap.String("group", groupID), zap.String("text", text))
	return nil
}
