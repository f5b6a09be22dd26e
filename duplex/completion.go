package duplex

import (
	"context"
	"sync"
)

// Completion is a one-shot result carrier: exactly one of resolve/reject
// may be delivered, and Wait (or WaitContext) blocks until that delivery
// happens.
type Completion struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

// resolve delivers success. Only the first call (resolve or reject) has
// any effect.
func (c *Completion) resolve() {
	c.once.Do(func() { close(c.done) })
}

// reject delivers failure. Only the first call (resolve or reject) has
// any effect.
func (c *Completion) reject(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
	})
}

// Wait blocks until the completion is resolved or rejected, returning the
// error passed to reject (nil on resolve).
func (c *Completion) Wait() error {
	<-c.done
	return c.err
}

// WaitContext blocks until resolution or ctx is done, whichever comes
// first.
func (c *Completion) WaitContext(ctx context.Context) error {
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done returns a channel closed once the completion settles, for callers
// that want to select on it alongside other work.
func (c *Completion) Done() <-chan struct{} {
	return c.done
}
