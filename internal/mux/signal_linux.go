//go:build linux

package mux

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"

	"go.uber.org/atomic"
	"golang.org/x/sys/unix"
)

// coordinator turns asynchronous notifications (the reload signal, manual
// reload requests, stop requests) into readability of an eventfd polled by
// the loop. Notifiers only bump counters and write the eventfd; the loop
// observes and clears them after its wait returns. Because the eventfd stays
// readable until drained, a notification that lands before the loop blocks
// makes the next wait return immediately.
type coordinator struct {
	efd int
	sig os.Signal

	// pending counts reload signal deliveries not yet observed by the loop.
	pending  atomic.Uint64
	manual   atomic.Uint64
	stopping atomic.Bool

	mu     sync.Mutex
	closed bool

	sigCh chan os.Signal
	done  chan struct{}
	wg    sync.WaitGroup
}

func newCoordinator(sig os.Signal) (*coordinator, error) {
	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	c := &coordinator{
		efd:  efd,
		sig:  sig,
		done: make(chan struct{}),
	}
	if sig != nil {
		c.sigCh = make(chan os.Signal, 8)
		signal.Notify(c.sigCh, sig)
		c.wg.Add(1)
		go c.relay()
	}
	return c, nil
}

func (c *coordinator) fd() int { return c.efd }

// relay runs on its own goroutine and forwards each signal delivery.
func (c *coordinator) relay() {
	defer c.wg.Done()
	for {
		select {
		case <-c.sigCh:
			c.pending.Inc()
			c.wake()
		case <-c.done:
			return
		}
	}
}

func (c *coordinator) requestReload() {
	c.manual.Inc()
	c.wake()
}

func (c *coordinator) requestStop() {
	c.stopping.Store(true)
	c.wake()
}

func (c *coordinator) wake() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	var b [8]byte
	binary.NativeEndian.PutUint64(b[:], 1)
	// EAGAIN means the counter is saturated, which still leaves it readable.
	_, _ = unix.Write(c.efd, b[:])
}

// drain clears the eventfd and takes the pending notifications.
func (c *coordinator) drain() (signals, manual uint64, stop bool, err error) {
	var b [8]byte
	if _, rerr := unix.Read(c.efd, b[:]); rerr != nil && !errors.Is(rerr, unix.EAGAIN) {
		err = fmt.Errorf("eventfd read: %w", rerr)
	}
	return c.pending.Swap(0), c.manual.Swap(0), c.stopping.Load(), err
}

func (c *coordinator) close() error {
	if c.sigCh != nil {
		signal.Stop(c.sigCh)
	}
	close(c.done)
	c.wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return unix.Close(c.efd)
}
