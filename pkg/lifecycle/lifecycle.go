package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Coordinator manages startup and shutdown hooks for the application lifecycle
// and carries the run's cooperative stop token. Stopping and shutting down are
// separate: a stop tells workers to take no new jobs, while the coordinator
// context stays live so in-flight work and final bookkeeping can finish.
type Coordinator struct {
	ctx        context.Context
	cancel     context.CancelFunc
	stop       context.Context
	stopCancel context.CancelFunc
	startupWg  sync.WaitGroup
	shutdownWg sync.WaitGroup
	errMu      sync.Mutex
	startupErr []error
}

// New creates a Coordinator that is stopped when parent is done or Stop is
// called. Pass a signal.NotifyContext to stop on SIGINT/SIGTERM.
func New(parent context.Context) *Coordinator {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	stop, stopCancel := context.WithCancel(parent)
	return &Coordinator{
		ctx:        ctx,
		cancel:     cancel,
		stop:       stop,
		stopCancel: stopCancel,
	}
}

// Context returns the coordinator's context, cancelled on shutdown.
func (c *Coordinator) Context() context.Context {
	return c.ctx
}

// Done is closed once a stop has been requested.
func (c *Coordinator) Done() <-chan struct{} {
	return c.stop.Done()
}

// Stopped reports whether a stop has been requested.
func (c *Coordinator) Stopped() bool {
	return c.stop.Err() != nil
}

// Stop requests a cooperative stop.
func (c *Coordinator) Stop() {
	c.stopCancel()
}

// OnStartup registers a check to run concurrently during startup.
// A non-nil error makes WaitForStartup fail.
func (c *Coordinator) OnStartup(fn func() error) {
	c.startupWg.Go(func() {
		if err := fn(); err != nil {
			c.errMu.Lock()
			c.startupErr = append(c.startupErr, err)
			c.errMu.Unlock()
		}
	})
}

// OnShutdown registers a function to run concurrently during shutdown.
// Shutdown hooks should block on <-c.Context().Done() before executing cleanup.
func (c *Coordinator) OnShutdown(fn func()) {
	c.shutdownWg.Go(fn)
}

// WaitForStartup blocks until all startup hooks have completed and returns
// their joined errors.
func (c *Coordinator) WaitForStartup() error {
	c.startupWg.Wait()
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return errors.Join(c.startupErr...)
}

// Shutdown stops the run, cancels the context, and waits for shutdown hooks to complete
// within the given timeout.
func (c *Coordinator) Shutdown(timeout time.Duration) error {
	c.stopCancel()
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.shutdownWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("shutdown timeout after %v", timeout)
	}
}
