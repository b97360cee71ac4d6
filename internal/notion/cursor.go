package notion

import "context"

// fetchPage loads one page of results for the given opaque cursor. It returns
// the items, the cursor for the following page, and whether more pages exist.
type fetchPage[T any] func(ctx context.Context, startCursor string) ([]T, string, bool, error)

// Cursor is a pull-based pagination sequence. Each Next call returns the next
// item, fetching further pages lazily; cursors stay opaque to callers.
type Cursor[T any] struct {
	fetch   fetchPage[T]
	buf     []T
	next    string
	started bool
	done    bool
}

func newCursor[T any](fetch fetchPage[T]) *Cursor[T] {
	return &Cursor[T]{fetch: fetch}
}

// CursorFromSlice builds a cursor over a fixed slice. Intended for fakes.
func CursorFromSlice[T any](items []T) *Cursor[T] {
	return &Cursor[T]{buf: append([]T(nil), items...), started: true, done: true}
}

// Next returns the next item. The second result is false when the sequence is
// exhausted.
func (c *Cursor[T]) Next(ctx context.Context) (T, bool, error) {
	var zero T
	for len(c.buf) == 0 {
		if c.started && c.done {
			return zero, false, nil
		}
		items, next, more, err := c.fetch(ctx, c.next)
		if err != nil {
			return zero, false, err
		}
		c.started = true
		c.next = next
		c.done = !more
		c.buf = items
		if len(items) == 0 && c.done {
			return zero, false, nil
		}
	}
	item := c.buf[0]
	c.buf = c.buf[1:]
	return item, true, nil
}

// Collect drains the cursor into a slice.
func Collect[T any](ctx context.Context, c *Cursor[T]) ([]T, error) {
	var out []T
	for {
		item, ok, err := c.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, item)
	}
}
