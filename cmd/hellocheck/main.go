// Package main is a small load and conformance client for the multiplexer.
// It opens several concurrent connections, sends a number of messages on
// each, and checks that every reply is exactly the fixed response.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/atomic"

	"github.com/dskow/hellomux/internal/mux"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8080", "multiplexer address")
	clients := flag.Int("clients", 5, "number of concurrent connections")
	sends := flag.Int("sends", 3, "messages sent on each connection")
	payload := flag.String("payload", "hello\n", "message body")
	timeout := flag.Duration("timeout", 5*time.Second, "per-operation deadline")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		wg       sync.WaitGroup
		replies  atomic.Uint64
		failures atomic.Uint64
	)
	start := time.Now()

	for i := 0; i < *clients; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			n, err := exercise(ctx, *addr, []byte(*payload), *sends, *timeout)
			replies.Add(uint64(n))
			if err != nil {
				failures.Inc()
				logger.Error("client failed", "client", id, "replies", n, "error", err)
			}
		}(i)
	}
	wg.Wait()

	logger.Info("check finished",
		"addr", *addr,
		"clients", *clients,
		"replies", replies.Load(),
		"failed_clients", failures.Load(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	if failures.Load() > 0 {
		os.Exit(1)
	}
}

// exercise sends payload count times over one connection, waiting for the
// full reply after each send. It returns the number of correct replies.
func exercise(ctx context.Context, addr string, payload []byte, count int, timeout time.Duration) (int, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	want := []byte(mux.Response)
	got := make([]byte, len(want))
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		conn.SetDeadline(time.Now().Add(timeout)) //nolint:errcheck
		if _, err := conn.Write(payload); err != nil {
			return i, fmt.Errorf("send %d: %w", i, err)
		}
		if _, err := io.ReadFull(conn, got); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				return i, fmt.Errorf("reply %d: connection closed early", i)
			}
			return i, fmt.Errorf("reply %d: %w", i, err)
		}
		if !bytes.Equal(got, want) {
			return i, fmt.Errorf("reply %d: unexpected content %q", i, got)
		}
	}
	return count, nil
}
