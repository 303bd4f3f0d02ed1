//go:build linux

package mux

import (
	"fmt"
	"slices"

	"golang.org/x/sys/unix"
)

const initialEvents = 64

// connSet is the set of descriptors polled by the loop. It wraps a
// level-triggered epoll instance and tracks membership and the highest member
// descriptor. Not safe for concurrent use: only the loop goroutine touches it.
type connSet struct {
	epfd    int
	members map[int]struct{}
	maxFD   int
	events  []unix.EpollEvent
}

func newConnSet() (*connSet, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	return &connSet{
		epfd:    epfd,
		members: make(map[int]struct{}),
		maxFD:   -1,
		events:  make([]unix.EpollEvent, initialEvents),
	}, nil
}

// Add registers fd for read readiness.
func (c *connSet) Add(fd int) error {
	if _, ok := c.members[fd]; ok {
		return nil
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(c.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl add fd %d: %w", fd, err)
	}
	c.members[fd] = struct{}{}
	if fd > c.maxFD {
		c.maxFD = fd
	}
	return nil
}

// Remove deregisters fd. Must be called before fd is closed so a recycled
// descriptor number never inherits a stale registration.
func (c *connSet) Remove(fd int) error {
	if _, ok := c.members[fd]; !ok {
		return nil
	}
	delete(c.members, fd)
	if fd == c.maxFD {
		c.maxFD = -1
		for m := range c.members {
			if m > c.maxFD {
				c.maxFD = m
			}
		}
	}
	if err := unix.EpollCtl(c.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll ctl del fd %d: %w", fd, err)
	}
	return nil
}

func (c *connSet) Has(fd int) bool {
	_, ok := c.members[fd]
	return ok
}

func (c *connSet) Len() int { return len(c.members) }

// Max returns the highest member descriptor, or -1 when empty.
func (c *connSet) Max() int { return c.maxFD }

// Members returns the member descriptors in ascending order.
func (c *connSet) Members() []int {
	fds := make([]int, 0, len(c.members))
	for fd := range c.members {
		fds = append(fds, fd)
	}
	slices.Sort(fds)
	return fds
}

// Wait blocks until at least one member is readable and appends the ready
// descriptors to ready in ascending order. An interrupted wait returns
// unix.EINTR unchanged so the caller can tell it apart from real failures.
func (c *connSet) Wait(ready []int) ([]int, error) {
	n, err := unix.EpollWait(c.epfd, c.events, -1)
	if err != nil {
		return ready, err
	}
	for i := 0; i < n; i++ {
		ready = append(ready, int(c.events[i].Fd))
	}
	slices.Sort(ready)
	if n == len(c.events) {
		c.events = make([]unix.EpollEvent, 2*len(c.events))
	}
	return ready, nil
}

func (c *connSet) Close() error {
	return unix.Close(c.epfd)
}
