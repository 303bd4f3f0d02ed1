//go:build linux

package mux

import (
	"encoding/binary"
	"slices"
	"testing"

	"golang.org/x/sys/unix"
)

func newEventFD(t *testing.T) int {
	t.Helper()
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		t.Fatalf("eventfd: %v", err)
	}
	t.Cleanup(func() { unix.Close(fd) })
	return fd
}

func signalFD(t *testing.T, fd int) {
	t.Helper()
	var b [8]byte
	binary.NativeEndian.PutUint64(b[:], 1)
	if _, err := unix.Write(fd, b[:]); err != nil {
		t.Fatalf("write eventfd: %v", err)
	}
}

func TestConnSet_TracksMaxDescriptor(t *testing.T) {
	set, err := newConnSet()
	if err != nil {
		t.Fatalf("newConnSet: %v", err)
	}
	defer set.Close()

	if set.Max() != -1 {
		t.Fatalf("empty set Max() = %d, want -1", set.Max())
	}

	fds := []int{newEventFD(t), newEventFD(t), newEventFD(t)}
	for _, fd := range fds {
		if err := set.Add(fd); err != nil {
			t.Fatalf("Add(%d): %v", fd, err)
		}
	}
	highest := slices.Max(fds)
	if set.Max() != highest {
		t.Errorf("Max() = %d, want %d", set.Max(), highest)
	}

	if err := set.Remove(highest); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	rest := slices.DeleteFunc(slices.Clone(fds), func(fd int) bool { return fd == highest })
	if set.Max() != slices.Max(rest) {
		t.Errorf("Max() after remove = %d, want %d", set.Max(), slices.Max(rest))
	}
	if set.Has(highest) {
		t.Error("removed descriptor still a member")
	}
	if set.Len() != 2 {
		t.Errorf("Len() = %d, want 2", set.Len())
	}
}

func TestConnSet_AddRemoveIdempotent(t *testing.T) {
	set, err := newConnSet()
	if err != nil {
		t.Fatalf("newConnSet: %v", err)
	}
	defer set.Close()

	fd := newEventFD(t)
	if err := set.Add(fd); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := set.Add(fd); err != nil {
		t.Errorf("second Add: %v", err)
	}
	if err := set.Remove(fd); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := set.Remove(fd); err != nil {
		t.Errorf("second Remove: %v", err)
	}
}

func TestConnSet_WaitReportsReadySubsetAscending(t *testing.T) {
	set, err := newConnSet()
	if err != nil {
		t.Fatalf("newConnSet: %v", err)
	}
	defer set.Close()

	fds := []int{newEventFD(t), newEventFD(t), newEventFD(t), newEventFD(t)}
	for _, fd := range fds {
		if err := set.Add(fd); err != nil {
			t.Fatalf("Add(%d): %v", fd, err)
		}
	}

	// Signal in reverse order; the result must still be ascending.
	signalled := []int{fds[3], fds[0], fds[2]}
	for _, fd := range signalled {
		signalFD(t, fd)
	}

	ready, err := set.Wait(nil)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	want := slices.Sorted(slices.Values(signalled))
	if !slices.Equal(ready, want) {
		t.Errorf("ready = %v, want %v", ready, want)
	}
}

func TestConnSet_MembersSorted(t *testing.T) {
	set, err := newConnSet()
	if err != nil {
		t.Fatalf("newConnSet: %v", err)
	}
	defer set.Close()

	fds := []int{newEventFD(t), newEventFD(t), newEventFD(t)}
	for i := len(fds) - 1; i >= 0; i-- {
		set.Add(fds[i])
	}
	if got := set.Members(); !slices.IsSorted(got) || len(got) != 3 {
		t.Errorf("Members() = %v, want 3 ascending descriptors", got)
	}
}

func TestConnSet_GrowsEventBuffer(t *testing.T) {
	set, err := newConnSet()
	if err != nil {
		t.Fatalf("newConnSet: %v", err)
	}
	defer set.Close()

	for i := 0; i < initialEvents; i++ {
		fd := newEventFD(t)
		set.Add(fd)
		signalFD(t, fd)
	}
	if _, err := set.Wait(nil); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(set.events) <= initialEvents {
		t.Errorf("event buffer not grown: %d", len(set.events))
	}
}
