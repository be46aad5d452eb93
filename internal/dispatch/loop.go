package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/park285/arcade-count-bot/internal/command"
	"go.uber.org/zap"
)

// Handler executes one chat message against the registry.
type Handler interface {
	Handle(ctx context.Context, req command.Request) (command.Result, error)
}

// Saver persists the registry.
type Saver interface {
	Save(ctx context.Context) error
}

type Loop struct {
	src     Source
	sink    Sink
	handler Handler
	saver   Saver
	cursor  *Cursor

	batchSize    int
	pollInterval time.Duration
	idleInterval time.Duration
	callTimeout  time.Duration
	allowGroup   func(groupID string) bool
	logger       *zap.Logger
}

type Option func(*Loop)

func WithBatchSize(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.batchSize = n
		}
	}
}

// WithIntervals sets the pause after a cycle that processed messages (poll)
// and after one that found nothing new (idle).
func WithIntervals(poll, idle time.Duration) Option {
	return func(l *Loop) {
		if poll > 0 {
			l.pollInterval = poll
		}
		if idle > 0 {
			l.idleInterval = idle
		}
	}
}

// WithCallTimeout bounds each source, sink and store call.
func WithCallTimeout(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.callTimeout = d
		}
	}
}

// WithGroupFilter drops messages from groups for which allow returns false.
func WithGroupFilter(allow func(groupID string) bool) Option {
	return func(l *Loop) { l.allowGroup = allow }
}

func WithLogger(lg *zap.Logger) Option {
	return func(l *Loop) {
		if lg != nil {
			l.logger = lg
		}
	}
}

func NewLoop(src Source, sink Sink, handler Handler, saver Saver, cursor *Cursor, opts ...Option) *Loop {
	if cursor == nil {
		cursor = NewCursor(nil)
	}
	l := &Loop{
		src:          src,
		sink:         sink,
		handler:      handler,
		saver:        saver,
		cursor:       cursor,
		batchSize:    10,
		pollInterval: time.Second,
		idleInterval: 2 * time.Second,
		callTimeout:  5 * time.Second,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run polls until ctx is done, then flushes the registry. A batch in flight
// when ctx ends is finished before Run returns.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("dispatch_started",
		zap.Int("batch_size", l.batchSize),
		zap.Duration("poll_interval", l.pollInterval),
		zap.Int64("cursor", l.cursor.Last()),
	)
	for {
		if ctx.Err() != nil {
			return l.shutdown()
		}
		n := l.RunOnce(ctx)
		wait := l.pollInterval
		if n == 0 {
			wait = l.idleInterval
		}
		if err := sleepWithContext(ctx, wait); err != nil {
			return l.shutdown()
		}
	}
}

// RunOnce performs one dispatch cycle and returns how many messages it processed.
func (l *Loop) RunOnce(ctx context.Context) int {
	cycle := uuid.NewString()
	log := l.logger.With(zap.String("cycle", cycle))

	fctx, cancel := context.WithTimeout(ctx, l.callTimeout)
	raws, err := l.src.FetchRecent(fctx, l.batchSize)
	cancel()
	if err != nil {
		if ctx.Err() == nil {
			log.Warn("fetch_failed", zap.Error(err))
		}
		return 0
	}

	// the batch runs to completion even if ctx ends meanwhile
	bctx := context.WithoutCancel(ctx)

	msgs, next := Filter(raws, l.cursor.Last())
	if next > l.cursor.Last() {
		sctx, cancel := context.WithTimeout(bctx, l.callTimeout)
		if _, err := l.cursor.Advance(sctx, next); err != nil {
			log.Warn("cursor_save_failed", zap.Int64("cursor", next), zap.Error(err))
		}
		cancel()
	}
	if len(msgs) == 0 {
		return 0
	}
	log.Debug("dispatch_cycle", zap.Int("fetched", len(raws)), zap.Int("new", len(msgs)), zap.Int64("cursor", next))

	processed := 0
	for _, m := range msgs {
		if l.allowGroup != nil && !l.allowGroup(m.GroupID) {
			log.Debug("message_skipped_group", zap.String("group", m.GroupID), zap.Int64("id", m.ID))
			continue
		}
		l.process(bctx, log, m)
		processed++
	}
	return processed
}

func (l *Loop) process(ctx context.Context, log *zap.Logger, m Message) {
	res, err := l.safeHandle(ctx, m)
	if err != nil {
		log.Error("message_failed",
			zap.Int64("id", m.ID),
			zap.String("group", m.GroupID),
			zap.String("sender", m.Sender),
			zap.String("content", m.Content),
			zap.Error(err),
		)
	}

	// persisted whether or not the handler succeeded
	sctx, cancel := context.WithTimeout(ctx, l.callTimeout)
	if err := l.saver.Save(sctx); err != nil {
		log.Warn("registry_save_failed", zap.Int64("id", m.ID), zap.Error(err))
	}
	cancel()

	for _, text := range res.Replies {
		sctx, cancel := context.WithTimeout(ctx, l.callTimeout)
		if err := l.sink.SendText(sctx, m.GroupID, text); err != nil {
			log.Warn("reply_failed", zap.String("group", m.GroupID), zap.Int64("id", m.ID), zap.Error(err))
		}
		cancel()
	}

	if res.Intent == command.IntentNone {
		log.Debug("message_unclassified", zap.Int64("id", m.ID))
		return
	}
	log.Info("message_processed",
		zap.Int64("id", m.ID),
		zap.String("group", m.GroupID),
		zap.String("sender", m.Sender),
		zap.String("intent", res.Intent.String()),
		zap.String("content", m.Content),
		zap.Int("replies", len(res.Replies)),
	)
}

func (l *Loop) safeHandle(ctx context.Context, m Message) (res command.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return l.handler.Handle(ctx, command.Request{Text: m.Content, Sender: m.Sender, GroupID: m.GroupID})
}

func (l *Loop) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), l.callTimeout)
	defer cancel()
	if err := l.saver.Save(ctx); err != nil {
		l.logger.Error("final_save_failed", zap.Error(err))
		return err
	}
	l.logger.Info("dispatch_stopped", zap.Int64("cursor", l.cursor.Last()))
	return nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
