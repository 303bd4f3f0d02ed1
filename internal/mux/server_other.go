//go:build !linux

package mux

import (
	"context"
	"log/slog"

	"github.com/dskow/hellomux/internal/journal"
)

// Server is unavailable on this platform: the loop is built on epoll and
// eventfd. Every method reports ErrUnsupported or a zero value.
type Server struct{}

// New always fails with ErrUnsupported.
func New(cfg Config, j *journal.Journal, logger *slog.Logger) (*Server, error) {
	return nil, ErrUnsupported
}

func (s *Server) Port() int { return 0 }
func (s *Server) OnReload(fn func(ReloadSource)) {}
func (s *Server) TriggerReload() {}
func (s *Server) Ready() bool { return false }
func (s *Server) Stats() Stats { return Stats{} }
func (s *Server) Serve(ctx context.Context) error { return ErrUnsupported }
func (s *Server) Close() error { return nil }
