package procgroup

import (
	"context"
	"os/signal"
	"sync"
	"syscall"

	"github.com/InSimo/fastbuild/internal/logger"
)

// Group is the generalized form of the teacher's
// TestingSystem.Go/runProcess/Run (common/testing_system.go): a set of
// goroutines sharing one cancellation context, where a panic in any of
// them cancels the whole group instead of crashing the process.
type Group struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	deferMu sync.Mutex
	defers  []func()
}

// New builds a Group whose context is cancelled on SIGINT/SIGTERM or an
// explicit Stop call.
func New(parent context.Context) *Group {
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	return &Group{ctx: ctx, cancel: cancel}
}

// Context is cancelled when the group is stopped.
func (g *Group) Context() context.Context { return g.ctx }

// Go runs f in a new goroutine tracked by the group. A panic in f is
// recovered, logged, and cancels the group.
func (g *Group) Go(f func()) {
	g.wg.Add(1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("procgroup: process panicked, shutting down: %v", r)
				g.cancel()
			}
			g.wg.Done()
		}()
		f()
	}()
}

// AddDefer registers f to run once in Wait, after every Go'd goroutine has
// returned, in reverse registration order.
func (g *Group) AddDefer(f func()) {
	g.deferMu.Lock()
	defer g.deferMu.Unlock()
	g.defers = append(g.defers, f)
}

// Stop cancels the group's context.
func (g *Group) Stop() { g.cancel() }

// Wait blocks until every Go'd goroutine has returned, then runs the
// registered defers.
func (g *Group) Wait() {
	g.wg.Wait()
	g.deferMu.Lock()
	defers := append([]func(){}, g.defers...)
	g.deferMu.Unlock()
	for i := len(defers) - 1; i >= 0; i-- {
		defers[i]()
	}
}
