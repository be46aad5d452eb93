package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/park285/arcade-count-bot/internal/arcade"
	"github.com/park285/arcade-count-bot/internal/command"
	"github.com/park285/arcade-count-bot/internal/msgcat"
	"github.com/park285/arcade-count-bot/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func text(id int64, group string, s string) RawMessage {
	return RawMessage{ID: id, Group: true, GroupID: group, Sender: "tester", Parts: []Part{{Kind: PartText, Text: s}}}
}

type scriptedSource struct {
	mu      sync.Mutex
	batches [][]RawMessage
	err     error
	calls   int
}

func (s *scriptedSource) FetchRecent(ctx context.Context, count int) ([]RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if len(s.batches) == 0 {
		return nil, nil
	}
	b := s.batches[0]
	if len(s.batches) > 1 {
		s.batches = s.batches[1:]
	}
	return b, nil
}

type sent struct{ group, text string }

type recordingSink struct {
	mu   sync.Mutex
	out  []sent
	fail error
}

func (r *recordingSink) SendText(ctx context.Context, groupID, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.out = append(r.out, sent{groupID, text})
	return nil
}

func (r *recordingSink) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.out))
	for _, s := range r.out {
		out = append(out, s.text)
	}
	return out
}

func newBot(t *testing.T, src Source, sink Sink, opts ...Option) (*Loop, *arcade.Registry, *store.Memory) {
	t.Helper()
	texts, err := msgcat.New("")
	require.NoError(t, err)
	mem := store.NewMemory(nil)
	reg := arcade.NewRegistry(mem)
	h := command.NewHandler(reg, texts, command.WithClock(func() time.Time {
		return time.Date(2026, 10, 16, 18, 0, 0, 0, time.Local)
	}))
	return NewLoop(src, sink, h, reg, NewCursor(mem), opts...), reg, mem
}

func TestFilterDedup(t *testing.T) {
	raws := []RawMessage{text(9, "g", "c"), text(5, "g", "a"), text(7, "g", "b")}
	msgs, next := Filter(raws, 7)
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(9), msgs[0].ID)
	assert.Equal(t, int64(9), next)
}

func TestFilterOrderingAndDrops(t *testing.T) {
	raws := []RawMessage{
		text(12, "g", "late"),
		{ID: 15, Group: true, GroupID: "g", Parts: []Part{{Kind: "image"}}},
		{ID: 20, Group: false, GroupID: "dm", Parts: []Part{{Kind: PartText, Text: "private"}}},
		{ID: 11, Group: true, GroupID: "g", Parts: []Part{{Kind: PartText, Text: "ear"}, {Kind: "face"}, {Kind: PartText, Text: "ly"}}},
	}
	msgs, next := Filter(raws, 10)
	assert.Equal(t, int64(15), next, "empty text still advances, private does not")
	var got []string
	for _, m := range msgs {
		got = append(got, m.Content)
	}
	assert.Equal(t, []string{"early", "late"}, got)

	msgs, next = Filter(nil, 30)
	assert.Empty(t, msgs)
	assert.Equal(t, int64(30), next)
}

func TestCursorPersistsAndRestores(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory(nil)
	c := NewCursor(mem)
	moved, err := c.Advance(ctx, 9)
	require.NoError(t, err)
	assert.True(t, moved)
	moved, _ = c.Advance(ctx, 4)
	assert.False(t, moved, "cursor moved backwards")

	again := NewCursor(mem)
	require.NoError(t, again.Restore(ctx))
	assert.Equal(t, int64(9), again.Last())
}

func TestRunOnceEndToEnd(t *testing.T) {
	src := &scriptedSource{batches: [][]RawMessage{
		{text(2, "g1", "添加别名 ArcadeA AA"), text(1, "g1", "创建机厅 ArcadeA")},
		{text(2, "g1", "添加别名 ArcadeA AA"), text(3, "g2", "update AA5人"), text(4, "g2", "随便聊聊")},
		{text(5, "g1", "AA几人")},
	}}
	sink := &recordingSink{}
	loop, reg, mem := newBot(t, src, sink)
	ctx := context.Background()

	assert.Equal(t, 2, loop.RunOnce(ctx))
	assert.Equal(t, 2, loop.RunOnce(ctx), "duplicate not filtered")
	assert.Equal(t, 1, loop.RunOnce(ctx))

	got := sink.texts()
	require.Len(t, got, 4)
	assert.Equal(t, "g2", sink.out[2].group)
	assert.Contains(t, got[2], "5人")
	assert.Contains(t, got[3], "AA有5人喵")
	v, _ := reg.Get("ArcadeA")
	assert.Equal(t, "tester", v.LastReporter)
	assert.Equal(t, 5, mem.Saves(), "one save per processed message")
	c, _ := mem.LoadCursor(ctx)
	assert.Equal(t, int64(5), c)
}

type panicky struct{ inner Handler }

func (p panicky) Handle(ctx context.Context, req command.Request) (command.Result, error) {
	if strings.Contains(req.Text, "boom") {
		panic("kaboom")
	}
	return p.inner.Handle(ctx, req)
}

func TestPanicIsolated(t *testing.T) {
	texts, err := msgcat.New("")
	require.NoError(t, err)
	mem := store.NewMemory(nil)
	reg := arcade.NewRegistry(mem)
	src := &scriptedSource{batches: [][]RawMessage{
		{text(1, "g", "创建机厅 A"), text(2, "g", "boom"), text(3, "g", "创建机厅 B")},
	}}
	sink := &recordingSink{}
	loop := NewLoop(src, sink, panicky{command.NewHandler(reg, texts)}, reg, nil)

	assert.Equal(t, 3, loop.RunOnce(context.Background()))
	assert.Equal(t, 2, reg.Len(), "message after panic was not handled")
	assert.Equal(t, 3, mem.Saves(), "failed message must still save")
}

func TestTransportFailuresAreNonFatal(t *testing.T) {
	src := &scriptedSource{err: errors.New("bridge down")}
	sink := &recordingSink{}
	loop, reg, _ := newBot(t, src, sink)
	assert.Equal(t, 0, loop.RunOnce(context.Background()))

	src.err = nil
	src.batches = [][]RawMessage{{text(1, "g", "创建机厅 A")}}
	sink.fail = errors.New("send failed")
	assert.Equal(t, 1, loop.RunOnce(context.Background()))
	assert.Equal(t, 1, reg.Len(), "registry not updated when reply failed")
}

func TestGroupFilter(t *testing.T) {
	src := &scriptedSource{batches: [][]RawMessage{
		{text(1, "blocked", "创建机厅 A"), text(2, "ok", "创建机厅 B")},
	}}
	sink := &recordingSink{}
	loop, reg, _ := newBot(t, src, sink, WithGroupFilter(func(g string) bool { return g == "ok" }))
	assert.Equal(t, 1, loop.RunOnce(context.Background()))
	_, ok := reg.Get("A")
	assert.False(t, ok, "blocked group mutated registry")
	assert.Equal(t, int64(2), loop.cursor.Last(), "blocked messages still advance the cursor")
}

func TestRunStopsAndFlushes(t *testing.T) {
	src := &scriptedSource{batches: [][]RawMessage{{text(1, "g", "创建机厅 A")}}}
	sink := &recordingSink{}
	loop, _, mem := newBot(t, src, sink, WithIntervals(5*time.Millisecond, 5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	require.Eventually(t, func() bool { return len(sink.texts()) > 0 }, 2*time.Second, 5*time.Millisecond)
	saves := mem.Saves()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
	assert.Greater(t, mem.Saves(), saves, "no final flush on stop")
	_, ok := mem.Snapshot()["A"]
	assert.True(t, ok, "venue not persisted")
}
