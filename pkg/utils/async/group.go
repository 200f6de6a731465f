package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/getsentry/sentry-go"
	"github.com/m-mizutani/ctxlog"
)

// Group runs handlers in goroutines with panic recovery and waits for them.
//
// Behavior:
//   - Every handler receives the group context, so cancelling the parent
//     context reaches all running handlers
//   - Panics are recovered, logged with stack trace and reported to Sentry
//   - Errors returned by handlers are logged, not propagated
type Group struct {
	ctx context.Context
	wg  sync.WaitGroup
}

// NewGroup creates a Group bound to ctx
func NewGroup(ctx context.Context) *Group {
	return &Group{ctx: ctx}
}

// Go executes handler asynchronously
func (g *Group) Go(handler func(ctx context.Context) error) {
	g.wg.Add(1)

	go func() {
		defer g.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				logger := ctxlog.From(g.ctx)
				logger.Error("panic in async handler",
					"recover", r,
					"stack", string(stack))

				if hub := sentry.CurrentHub(); hub.Client() != nil {
					hub.Recover(fmt.Errorf("panic in async handler: %v", r))
				}
			}
		}()

		if err := handler(g.ctx); err != nil {
			logger := ctxlog.From(g.ctx)
			logger.Error("error in async handler", "error", err)
		}
	}()
}

// Wait blocks until all handlers return or ctx is done. It reports whether
// all handlers returned.
func (g *Group) Wait(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
