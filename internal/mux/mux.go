// Package mux implements a single-threaded TCP connection multiplexer. One
// loop goroutine, locked to its OS thread, owns the listening socket and every
// accepted client socket, waits for readability of all of them in a single
// epoll call, and answers every inbound message with a fixed response.
//
// Reload signals are converted into readiness events on an eventfd that is a
// permanent member of the polled set, so a signal can never be lost between
// checking for it and blocking in the wait.
package mux

import (
	"errors"
	"os"
)

// Response is the fixed reply written for every message received.
const Response = "HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\n\r\nHello, world!"

const (
	// DefaultPort is the TCP port used when Config.Port is negative.
	DefaultPort = 8080
	// DefaultBacklog is the listen(2) backlog.
	DefaultBacklog = 10
	// DefaultReadBufferSize is the size of one read from a client.
	DefaultReadBufferSize = 1024
)

// Disconnect reasons, used as metric labels and journal details.
const (
	reasonEOF        = "eof"
	reasonReadError  = "read_error"
	reasonWriteError = "write_error"
	reasonShutdown   = "shutdown"
)

var (
	// ErrServerClosed is returned by Serve after Close or context cancellation.
	ErrServerClosed = errors.New("mux: server closed")
	// ErrUnsupported is returned by New on platforms without epoll.
	ErrUnsupported = errors.New("mux: platform not supported")
	errServing      = errors.New("mux: server already serving")
)

// Config holds listener and loop settings.
type Config struct {
	// Port to bind on the wildcard address. Zero picks an ephemeral port.
	Port           int
	Backlog        int
	ReadBufferSize int
	// Response overrides the fixed reply. Empty means Response.
	Response []byte
	// ReloadSignal is routed to the loop as a reload notification.
	// Nil disables signal-driven reloads.
	ReloadSignal os.Signal
}

func (c *Config) applyDefaults() {
	if c.Port < 0 {
		c.Port = DefaultPort
	}
	if c.Backlog <= 0 {
		c.Backlog = DefaultBacklog
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = DefaultReadBufferSize
	}
	if len(c.Response) == 0 {
		c.Response = []byte(Response)
	}
}

// Stats is a point-in-time view of the loop counters. It is safe to read
// from any goroutine.
type Stats struct {
	Port     int    `json:"port"`
	Serving  bool   `json:"serving"`
	Open     int64  `json:"open_connections"`
	Accepted uint64 `json:"accepted_total"`
	Reloads  uint64 `json:"reloads_total"`
}

// ReloadSource identifies what asked for a reload.
type ReloadSource string

const (
	SourceSignal ReloadSource = "signal"
	SourceManual ReloadSource = "manual"
)
