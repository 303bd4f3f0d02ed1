package main

import (
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/dskow/hellomux/internal/mux"
)

// fakeServer answers every read with reply, mimicking the multiplexer.
func fakeServer(t *testing.T, reply string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				buf := make([]byte, 1024)
				for {
					if _, err := c.Read(buf); err != nil {
						return
					}
					if _, err := io.WriteString(c, reply); err != nil {
						return
					}
				}
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func TestExercise_Success(t *testing.T) {
	addr := fakeServer(t, mux.Response)

	n, err := exercise(context.Background(), addr, []byte("hi"), 3, time.Second)
	if err != nil {
		t.Fatalf("exercise: %v", err)
	}
	if n != 3 {
		t.Errorf("replies = %d, want 3", n)
	}
}

func TestExercise_WrongReply(t *testing.T) {
	wrong := strings.Repeat("x", len(mux.Response))
	addr := fakeServer(t, wrong)

	n, err := exercise(context.Background(), addr, []byte("hi"), 2, time.Second)
	if err == nil || !strings.Contains(err.Error(), "unexpected content") {
		t.Fatalf("expected content mismatch, got %v", err)
	}
	if n != 0 {
		t.Errorf("replies = %d, want 0", n)
	}
}

func TestExercise_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	if _, err := exercise(context.Background(), addr, []byte("hi"), 1, time.Second); err == nil {
		t.Error("expected dial error against closed port")
	}
}
