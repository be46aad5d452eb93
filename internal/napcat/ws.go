package napcat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type WebSocketState string

const (
	WSStateDisconnected WebSocketState = "disconnected"
	WSStateConnecting   WebSocketState = "connecting"
	WSStateConnected    WebSocketState = "connected"
	WSStateReconnecting WebSocketState = "reconnecting"
	WSStateFailed       WebSocketState = "failed"
)

type EventCallback func(ev *Event)

type StateCallback func(state WebSocketState)

type callbackEntry struct {
	id       int
	callback EventCallback
}

type stateCallbackEntry struct {
	id       int
	callback StateCallback
}

// WebSocket holds one connection to the OneBot event endpoint and redials it
// with backoff while Run is active.
type WebSocket struct {
	wsURL  string
	token  string
	logger *zap.Logger

	conn   *websocket.Conn
	state  WebSocketState
	stateM sync.RWMutex
	writeM sync.Mutex

	evCbs    []callbackEntry
	stateCbs []stateCallbackEntry
	lastCbID int
	cbM      sync.RWMutex

	maxReconnectAttempts int // 0 keeps trying until Run's context ends
	reconnectDelay       time.Duration
	pingInterval         time.Duration
	readLimit            int64
}

type WSOption func(*WebSocket)

func WithWSToken(token string) WSOption {
	return func(ws *WebSocket) { ws.token = strings.TrimSpace(token) }
}

func WithReconnect(maxAttempts int, delay time.Duration) WSOption {
	return func(ws *WebSocket) {
		ws.maxReconnectAttempts = maxAttempts
		if delay > 0 {
			ws.reconnectDelay = delay
		}
	}
}

func WithPingInterval(d time.Duration) WSOption {
	return func(ws *WebSocket) {
		if d > 0 {
			ws.pingInterval = d
		}
	}
}

func WithWSLogger(l *zap.Logger) WSOption {
	return func(ws *WebSocket) {
		if l != nil {
			ws.logger = l
		}
	}
}

func NewWebSocket(wsURL string, opts ...WSOption) *WebSocket {
	ws := &WebSocket{
		wsURL:          wsURL,
		state:          WSStateDisconnected,
		reconnectDelay: time.Second,
		pingInterval:   30 * time.Second,
		readLimit:      1 << 20,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(ws)
	}
	return ws
}

// Run connects and stays connected until ctx ends. It returns nil on
// cancellation and ErrTransport once the reconnect budget is spent.
func (ws *WebSocket) Run(ctx context.Context) error {
	attempt := 0
	for {
		connected, err := ws.session(ctx)
		if ctx.Err() != nil {
			ws.setState(WSStateDisconnected)
			return nil
		}
		if connected {
			attempt = 0
		}
		attempt++
		if ws.maxReconnectAttempts > 0 && attempt > ws.maxReconnectAttempts {
			ws.setState(WSStateFailed)
			return fmt.Errorf("%w: websocket gave up after %d attempts: %v", ErrTransport, attempt-1, err)
		}
		ws.setState(WSStateReconnecting)
		wait := ws.reconnectBackoff(attempt)
		ws.logger.Warn("ws_reconnect", zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
		if sleepWithContext(ctx, wait) != nil {
			ws.setState(WSStateDisconnected)
			return nil
		}
	}
}

// session dials once and reads until the connection breaks.
func (ws *WebSocket) session(ctx context.Context) (bool, error) {
	ws.setState(WSStateConnecting)
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.Dial(dialCtx, ws.wsURL, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      ws.buildHeaders(),
	})
	cancel()
	if err != nil {
		return false, err
	}
	conn.SetReadLimit(ws.readLimit)

	ws.stateM.Lock()
	ws.conn = conn
	ws.stateM.Unlock()
	ws.setState(WSStateConnected)

	sctx, stop := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ws.pingLoop(sctx, conn, stop)
	}()

	err = ws.listen(sctx, conn)

	stop()
	wg.Wait()
	ws.stateM.Lock()
	ws.conn = nil
	ws.stateM.Unlock()
	if ctx.Err() != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "close")
	} else {
		_ = conn.Close(websocket.StatusGoingAway, "reconnect")
	}
	ws.setState(WSStateDisconnected)
	return true, err
}

func (ws *WebSocket) listen(ctx context.Context, conn *websocket.Conn) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			continue
		}
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			ws.logger.Debug("ws_frame_skipped", zap.Error(err))
			continue
		}
		if ev.PostType == "" && ev.Echo != "" {
			if ev.Status != "ok" {
				ws.logger.Warn("ws_action_failed", zap.String("echo", ev.Echo), zap.String("status", ev.Status))
			}
			continue
		}

		ws.cbM.RLock()
		callbacks := make([]callbackEntry, len(ws.evCbs))
		copy(callbacks, ws.evCbs)
		ws.cbM.RUnlock()
		for _, entry := range callbacks {
			if entry.callback != nil {
				entry.callback(&ev)
			}
		}
	}
}

func (ws *WebSocket) pingLoop(ctx context.Context, conn *websocket.Conn, abort context.CancelFunc) {
	t := time.NewTicker(ws.pingInterval)
	defer t.Stop()
	consecutivePingFailures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := conn.Ping(pctx)
			cancel()
			if err == nil {
				consecutivePingFailures = 0
				continue
			}
			consecutivePingFailures++
			if consecutivePingFailures >= 2 {
				ws.logger.Warn("ws_ping_failed", zap.Error(err))
				abort()
				return
			}
		}
	}
}

// Write sends one JSON frame on the live connection.
func (ws *WebSocket) Write(ctx context.Context, v any) error {
	ws.stateM.RLock()
	conn, state := ws.conn, ws.state
	ws.stateM.RUnlock()
	if conn == nil || state != WSStateConnected {
		return fmt.Errorf("%w: ws not connected", ErrTransport)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	ws.writeM.Lock()
	defer ws.writeM.Unlock()
	if err := wsjson.Write(ctx, conn, v); err != nil {
		return fmt.Errorf("%w: ws write: %v", ErrTransport, err)
	}
	return nil
}

func (ws *WebSocket) Connected() bool {
	return ws.State() == WSStateConnected
}

func (ws *WebSocket) State() WebSocketState {
	ws.stateM.RLock()
	defer ws.stateM.RUnlock()
	return ws.state
}

func (ws *WebSocket) OnEvent(cb EventCallback) int {
	ws.cbM.Lock()
	defer ws.cbM.Unlock()
	ws.lastCbID++
	id := ws.lastCbID
	ws.evCbs = append(ws.evCbs, callbackEntry{id: id, callback: cb})
	return id
}

func (ws *WebSocket) RemoveEventCallback(id int) {
	ws.cbM.Lock()
	defer ws.cbM.Unlock()
	for i, cb := range ws.evCbs {
		if cb.id == id {
			ws.evCbs = append(ws.evCbs[:i], ws.evCbs[i+1:]...)
			break
		}
	}
}

func (ws *WebSocket) OnStateChange(cb StateCallback) int {
	ws.cbM.Lock()
	defer ws.cbM.Unlock()
	ws.lastCbID++
	id := ws.lastCbID
	ws.stateCbs = append(ws.stateCbs, stateCallbackEntry{id: id, callback: cb})
	return id
}

func (ws *WebSocket) setState(state WebSocketState) {
	ws.stateM.Lock()
	changed := ws.state != state
	ws.state = state
	ws.stateM.Unlock()
	if !changed {
		return
	}

	ws.cbM.RLock()
	callbacks := make([]stateCallbackEntry, len(ws.stateCbs))
	copy(callbacks, ws.stateCbs)
	ws.cbM.RUnlock()
	for _, entry := range callbacks {
		if entry.callback != nil {
			entry.callback(state)
		}
	}
}

func (ws *WebSocket) reconnectBackoff(attempt int) time.Duration {
	d := ws.reconnectDelay
	for i := 1; i < attempt && d < time.Minute; i++ {
		d *= 2
	}
	if d > time.Minute {
		d = time.Minute
	}
	return d
}

func (ws *WebSocket) buildHeaders() http.Header {
	hdr := http.Header{}
	if ws.token != "" {
		hdr.Set("Authorization", "Bearer "+ws.token)
	}
	return hdr
}
