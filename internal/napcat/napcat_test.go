package napcat

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/park285/arcade-count-bot/internal/dispatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// newTestClient serves h over an in-memory listener.
func newTestClient(t *testing.T, h fasthttp.RequestHandler, opts ...Option) *Client {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: h}
	done := make(chan struct{})
	go func() {
		_ = srv.Serve(ln)
		close(done)
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		<-done
	})
	c := NewClient("http://napcat.test", opts...)
	c.http.Dial = func(addr string) (net.Conn, error) { return ln.Dial() }
	return c
}

func TestGetRecentContact(t *testing.T) {
	var auth, path string
	var body map[string]int
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		auth = string(ctx.Request.Header.Peek("Authorization"))
		path = string(ctx.Path())
		_ = json.Unmarshal(ctx.PostBody(), &body)
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"status":"ok","retcode":0,"data":[
			{"msgId":"7412","chatType":1,"peerUin":"123456","sendNickName":"阿明",
			 "lastestMsg":{"message":[{"type":"text","data":{"text":"AA几人"}}]}},
			{"msgId":7413,"chatType":2,"peerUin":99,"sendNickName":"",
			 "lastestMsg":{"message":"hi"}}]}`)
	}, WithToken("secret"))

	contacts, err := c.GetRecentContact(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, "/get_recent_contact", path)
	assert.Equal(t, 10, body["count"])
	require.Len(t, contacts, 2)
	assert.Equal(t, ID(7412), contacts[0].MsgID)
	assert.Equal(t, Text("99"), contacts[1].PeerUin)
	assert.Equal(t, "hi", contacts[1].LastestMsg.Message[0].Data.Text)
}

func TestEnvelopeFailureIsTransportError(t *testing.T) {
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetBodyString(`{"status":"failed","retcode":1400,"wording":"bad group"}`)
	})
	err := c.SendGroupMsg(context.Background(), "1", "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
	assert.Contains(t, err.Error(), "bad group")
}

func TestRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		if calls.Add(1) < 3 {
			ctx.SetStatusCode(fasthttp.StatusBadGateway)
			return
		}
		ctx.SetBodyString(`{"status":"ok","retcode":0,"data":[]}`)
	})
	contacts, err := c.GetRecentContact(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, contacts)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSendIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	var sent sendGroupMsgParams
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		calls.Add(1)
		_ = json.Unmarshal(ctx.PostBody(), &sent)
		ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
	})
	err := c.SendGroupMsg(context.Background(), "123456", "你好")
	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, float64(123456), sent.GroupID)
	require.Len(t, sent.Message, 1)
	assert.Equal(t, "你好", sent.Message[0].Data.Text)
}

func TestPollSource(t *testing.T) {
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetBodyString(`{"status":"ok","retcode":0,"data":[
			{"msgId":"10","chatType":1,"peerUin":"555","sendNickName":"",
			 "lastestMsg":{"message":[{"type":"text","data":{"text":"update "}},{"type":"face","data":{}},{"type":"text","data":{"text":"AA5人"}}]}},
			{"msgId":"11","chatType":2,"peerUin":"777","sendNickName":"friend",
			 "lastestMsg":{"message":[{"type":"text","data":{"text":"dm"}}]}}]}`)
	})
	src := NewPollSource(c, 1)
	raws, err := src.FetchRecent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, raws, 2)
	assert.True(t, raws[0].Group)
	assert.False(t, raws[1].Group)
	assert.Empty(t, raws[0].Sender)
	assert.Equal(t, "friend", raws[1].Sender)
	assert.Equal(t, "update AA5人", raws[0].Text())

	msgs, next := dispatch.Filter(raws, 0)
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(10), next)
	assert.Equal(t, "555", msgs[0].GroupID)
}

func TestIDDecoding(t *testing.T) {
	var v struct {
		A ID   `json:"a"`
		B ID   `json:"b"`
		C ID   `json:"c"`
		D Text `json:"d"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"42","b":7,"c":null,"d":12345}`), &v))
	assert.Equal(t, ID(42), v.A)
	assert.Equal(t, ID(7), v.B)
	assert.Equal(t, ID(0), v.C)
	assert.Equal(t, Text("12345"), v.D)
	assert.Error(t, json.Unmarshal([]byte(`{"a":"x"}`), &v))
}

func TestDryRunEgressSendsNothing(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) { calls.Add(1) })
	e := NewEgress("http", true, c, nil, nil)
	require.NoError(t, e.SendText(context.Background(), "1", "hello"))
	assert.Equal(t, int32(0), calls.Load())
}

func TestAutoEgressFallsBackToHTTP(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		calls.Add(1)
		ctx.SetBodyString(`{"status":"ok","retcode":0}`)
	})
	ws := NewWebSocket("ws://unused")
	e := NewEgress("auto", false, c, ws, nil)
	require.NoError(t, e.SendText(context.Background(), "1", "hello"))
	assert.Equal(t, int32(1), calls.Load())

	wsOnly := NewEgress("ws", false, c, ws, nil)
	assert.ErrorIs(t, wsOnly.SendText(context.Background(), "1", "x"), ErrTransport)
}

func TestEventStreamOverWebSocket(t *testing.T) {
	frames := make(chan actionFrame, 1)
	var auth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		ctx := r.Context()
		_ = wsjson.Write(ctx, conn, map[string]any{"post_type": "meta_event", "meta_event_type": "heartbeat"})
		_ = wsjson.Write(ctx, conn, map[string]any{
			"post_type": "message", "message_type": "group", "message_id": -5,
			"group_id": 123456, "sender": map[string]any{"nickname": "nick", "card": "阿明"},
			"message": []map[string]any{{"type": "text", "data": map[string]any{"text": "AA几人"}}},
		})
		_ = wsjson.Write(ctx, conn, map[string]any{
			"post_type": "message", "message_type": "private", "message_id": 9, "user_id": 1,
			"message": "private chat",
		})
		var f actionFrame
		if err := wsjson.Read(ctx, conn, &f); err == nil {
			frames <- f
		}
		_ = wsjson.Write(ctx, conn, map[string]any{"status": "ok", "retcode": 0, "echo": f.Echo})
		// hold the connection until the client leaves
		_, _, _ = conn.Read(ctx)
	}))
	defer srv.Close()

	ws := NewWebSocket("ws"+strings.TrimPrefix(srv.URL, "http"), WithWSToken("tok"), WithReconnect(1, 10*time.Millisecond))
	es := NewEventStream(ws, 8, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ws.Run(ctx) }()

	require.Eventually(t, func() bool { return es.Pending() == 1 }, 3*time.Second, 10*time.Millisecond)
	raws, err := es.FetchRecent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, raws, 1)
	assert.Equal(t, "123456", raws[0].GroupID)
	assert.Equal(t, "阿明", raws[0].Sender)
	assert.Equal(t, "AA几人", raws[0].Text())
	assert.Equal(t, "Bearer tok", auth.Load())

	e := NewEgress("ws", false, nil, ws, nil)
	require.NoError(t, e.SendText(context.Background(), "123456", "reply"))
	select {
	case f := <-frames:
		assert.Equal(t, "send_group_msg", f.Action)
		assert.NotEmpty(t, f.Echo)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not receive the action frame")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, WSStateDisconnected, ws.State())
}

func TestEventStreamOrderingAndOverflow(t *testing.T) {
	es := NewEventStream(nil, 2, nil)
	fixed := time.Unix(1_700_000_000, 0)
	es.now = func() time.Time { return fixed }
	for _, s := range []string{"a", "b", "c"} {
		ev := &Event{PostType: "message", MessageType: "group", GroupID: "1", Message: textSegments(s)}
		es.push(ev)
	}
	raws, err := es.FetchRecent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, raws, 2)
	assert.Equal(t, "b", raws[0].Text())
	assert.Equal(t, "c", raws[1].Text())
	assert.Less(t, raws[0].ID, raws[1].ID)
	assert.Empty(t, raws[0].Sender)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = es.FetchRecent(ctx, 1)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRunGivesUpAfterBudget(t *testing.T) {
	ws := NewWebSocket("ws://127.0.0.1:1/none", WithReconnect(2, time.Millisecond))
	err := ws.Run(context.Background())
	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, WSStateFailed, ws.State())
}

func TestEventStreamCloseUnsubscribes(t *testing.T) {
	ws := NewWebSocket("ws://unused")
	first := NewEventStream(ws, 4, nil)
	second := NewEventStream(ws, 4, nil)
	first.Close()
	first.Close()

	ev := &Event{PostType: "message", MessageType: "group", GroupID: "1", Message: textSegments("x")}
	ws.cbM.RLock()
	callbacks := append([]callbackEntry(nil), ws.evCbs...)
	ws.cbM.RUnlock()
	require.Len(t, callbacks, 1)
	callbacks[0].callback(ev)

	assert.Equal(t, 0, first.Pending())
	assert.Equal(t, 1, second.Pending())

	third := NewEventStream(ws, 4, nil)
	assert.NotEqual(t, second.sub, third.sub)
}
