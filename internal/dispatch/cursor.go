package dispatch

import (
	"context"
	"sync"

	"github.com/park285/arcade-count-bot/internal/store"
)

// Cursor is the highest message id already taken from the source. It only
// moves forward. With a store attached every advance is persisted.
type Cursor struct {
	mu    sync.Mutex
	last  int64
	store store.CursorStore
}

// NewCursor returns a cursor at 0. st may be nil for an in-memory cursor.
func NewCursor(st store.CursorStore) *Cursor {
	return &Cursor{store: st}
}

// Restore loads the persisted position.
func (c *Cursor) Restore(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	id, err := c.store.LoadCursor(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if id > c.last {
		c.last = id
	}
	c.mu.Unlock()
	return nil
}

func (c *Cursor) Last() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Advance moves the cursor to id when id is ahead. The in-memory position
// moves even if persisting fails.
func (c *Cursor) Advance(ctx context.Context, id int64) (bool, error) {
	c.mu.Lock()
	if id <= c.last {
		c.mu.Unlock()
		return false, nil
	}
	c.last = id
	c.mu.Unlock()
	if c.store == nil {
		return true, nil
	}
	return true, c.store.SaveCursor(ctx, id)
}
