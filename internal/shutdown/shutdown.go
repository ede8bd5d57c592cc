// Package shutdown coordinates graceful interruption. The first signal asks
// the run to drain to the next checkpoint; a second signal within the grace
// window aborts immediately, leaving the last checkpoint as the resume point.
package shutdown

import (
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// GraceWindow is how long after the first signal a second one escalates to a
// hard abort.
const GraceWindow = 2 * time.Second

// Coordinator holds the stop flag stages poll between provider calls and the
// abort channel the executor's context hangs off.
type Coordinator struct {
	mu        sync.Mutex
	stopped   bool
	firstAt   time.Time
	aborted   chan struct{}
	abortOnce sync.Once
	logger    *log.Logger
	now       func() time.Time
}

// New returns an idle coordinator.
func New(logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.New(os.Stderr, "[SHUTDOWN] ", log.LstdFlags)
	}
	return &Coordinator{
		aborted: make(chan struct{}),
		logger:  logger,
		now:     time.Now,
	}
}

// Notify installs SIGINT/SIGTERM handling and returns a cleanup func.
func (c *Coordinator) Notify() func() {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case sig := <-ch:
				c.Trigger(sig.String())
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}

// Trigger records an interrupt request. The first call flips the stop flag;
// a second call within GraceWindow closes the abort channel.
func (c *Coordinator) Trigger(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if !c.stopped {
		c.stopped = true
		c.firstAt = now
		c.logger.Printf("stop requested (%s): draining to next checkpoint", reason)
		return
	}
	if now.Sub(c.firstAt) <= GraceWindow {
		c.logger.Printf("second stop request (%s): aborting now", reason)
		c.abortOnce.Do(func() { close(c.aborted) })
		return
	}
	// Outside the window a repeated signal restarts the escalation clock.
	c.firstAt = now
	c.logger.Printf("stop re-requested (%s)", reason)
}

// ShouldStop reports whether a drain has been requested.
func (c *Coordinator) ShouldStop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// Aborted is closed on hard abort.
func (c *Coordinator) Aborted() <-chan struct{} {
	return c.aborted
}
