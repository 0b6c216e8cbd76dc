// Package shutdown coordinates a graceful stop of the long-running server:
// a shared context, tracked workers and cleanup hooks.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// Handler manages graceful shutdown
type Handler struct {
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	cleanupFns []func()
	mu         sync.Mutex
	once       sync.Once
}

// New creates a handler whose context derives from parent.
func New(parent context.Context) *Handler {
	ctx, cancel := context.WithCancel(parent)
	return &Handler{
		ctx:    ctx,
		cancel: cancel,
	}
}

// Context returns the shutdown context
func (h *Handler) Context() context.Context {
	return h.ctx
}

// AddCleanup registers a cleanup function to be called on shutdown.
// Cleanups run in reverse registration order, like deferred calls.
func (h *Handler) AddCleanup(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cleanupFns = append(h.cleanupFns, fn)
}

// Go runs fn in a tracked goroutine. fn should return once ctx is done.
func (h *Handler) Go(fn func(ctx context.Context)) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		fn(h.ctx)
	}()
}

// Listen cancels the context on SIGINT or SIGTERM. Cleanups still wait
// for Shutdown, so the owner can drain in-flight work first.
func (h *Handler) Listen() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-sigChan:
			h.cancel()
		case <-h.ctx.Done():
		}
		signal.Stop(sigChan)
	}()
}

// Shutdown cancels the context and runs the cleanups once.
func (h *Handler) Shutdown() {
	h.once.Do(func() {
		h.cancel()

		h.mu.Lock()
		fns := h.cleanupFns
		h.mu.Unlock()

		for i := len(fns) - 1; i >= 0; i-- {
			fns[i]()
		}
	})
}

// Wait waits for every goroutine started with Go.
func (h *Handler) Wait() {
	h.wg.Wait()
}
