//go:build linux

package mux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	"github.com/dskow/hellomux/internal/journal"
	"github.com/dskow/hellomux/internal/metrics"
)

// Server is the connection multiplexer. All descriptor state is owned by the
// goroutine running Serve; the exported methods other than Serve only touch
// atomics or ask the loop to act through the coordinator.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	journal *journal.Journal

	set   *connSet
	coord *coordinator
	lfd   int
	port  int
	buf   []byte

	// acceptLog throttles accept failure logging so a descriptor exhaustion
	// storm does not flood the log.
	acceptLog *rate.Limiter

	hooksMu sync.Mutex
	hooks   []func(ReloadSource)

	mu        sync.Mutex
	serving   bool
	closed    bool
	done      chan struct{}
	closeOnce sync.Once

	open     atomic.Int64
	accepted atomic.Uint64
	reloads  atomic.Uint64
	active   atomic.Bool
}

// New registers the reload signal and then creates the listener, so that no
// reload notification can be missed once the loop starts. j may be nil.
func New(cfg Config, j *journal.Journal, logger *slog.Logger) (*Server, error) {
	cfg.applyDefaults()

	coord, err := newCoordinator(cfg.ReloadSignal)
	if err != nil {
		return nil, fmt.Errorf("setting up reload coordinator: %w", err)
	}

	lfd, port, err := listen(cfg.Port, cfg.Backlog)
	if err != nil {
		coord.close()
		return nil, fmt.Errorf("setting up listener: %w", err)
	}

	set, err := newConnSet()
	if err != nil {
		unix.Close(lfd)
		coord.close()
		return nil, err
	}
	for _, fd := range []int{coord.fd(), lfd} {
		if err := set.Add(fd); err != nil {
			set.Close()
			unix.Close(lfd)
			coord.close()
			return nil, err
		}
	}

	return &Server{
		cfg:       cfg,
		logger:    logger,
		journal:   j,
		set:       set,
		coord:     coord,
		lfd:       lfd,
		port:      port,
		buf:       make([]byte, cfg.ReadBufferSize),
		acceptLog: rate.NewLimiter(rate.Every(time.Second), 5),
		done:      make(chan struct{}),
	}, nil
}

// Port returns the TCP port the listener is bound to.
func (s *Server) Port() int { return s.port }

// OnReload registers a hook run on the loop goroutine after it observes one
// or more reload notifications. Hooks must not block for long: no descriptor
// is serviced while they run.
func (s *Server) OnReload(fn func(ReloadSource)) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// TriggerReload asks the loop to run its reload hooks, as if the reload
// signal had been delivered.
func (s *Server) TriggerReload() {
	s.coord.requestReload()
}

// Ready reports whether the loop is running.
func (s *Server) Ready() bool { return s.active.Load() }

// Stats returns the current loop counters.
func (s *Server) Stats() Stats {
	return Stats{
		Port:     s.port,
		Serving:  s.active.Load(),
		Open:     s.open.Load(),
		Accepted: s.accepted.Load(),
		Reloads:  s.reloads.Load(),
	}
}

// Serve runs the loop until ctx is cancelled, Close is called, or the
// readiness wait fails. It returns ErrServerClosed on a requested stop and
// the wait error otherwise. Either way the listener and every client
// descriptor are closed on return.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrServerClosed
	}
	if s.serving {
		s.mu.Unlock()
		return errServing
	}
	s.serving = true
	s.mu.Unlock()
	defer close(s.done)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	stop := context.AfterFunc(ctx, s.coord.requestStop)
	defer stop()
	defer s.shutdown()

	s.active.Store(true)
	defer s.active.Store(false)

	s.logger.Info("multiplexer listening",
		"addr", fmt.Sprintf("0.0.0.0:%d", s.port),
		"backlog", s.cfg.Backlog,
		"read_buffer_size", s.cfg.ReadBufferSize,
	)

	ready := make([]int, 0, initialEvents)
	for {
		var err error
		ready, err = s.set.Wait(ready[:0])
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			s.logger.Error("readiness wait failed", "error", err)
			return fmt.Errorf("readiness wait: %w", err)
		}
		metrics.PollWakeups.Inc()

		for _, fd := range ready {
			if s.dispatch(fd) {
				return ErrServerClosed
			}
		}
	}
}

// Close stops a running loop and waits for it to exit, or releases the
// descriptors directly if Serve was never called.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	serving := s.serving
	s.mu.Unlock()

	if serving {
		s.coord.requestStop()
		<-s.done
		return nil
	}
	s.shutdown()
	return nil
}

// dispatch services one ready descriptor and reports whether the loop
// should stop.
func (s *Server) dispatch(fd int) bool {
	switch {
	case fd == s.coord.fd():
		return s.serviceWake()
	case fd == s.lfd:
		s.acceptOne()
	case s.set.Has(fd):
		s.serveClient(fd)
	}
	return false
}

func (s *Server) serviceWake() bool {
	signals, manual, stop, err := s.coord.drain()
	if err != nil {
		s.logger.Error("reload coordinator read failed", "error", err)
	}

	for i := uint64(0); i < signals; i++ {
		s.logger.Info("reload signal received", "signal", s.cfg.ReloadSignal.String())
		s.recordReload(SourceSignal)
	}
	for i := uint64(0); i < manual; i++ {
		s.logger.Info("reload requested")
		s.recordReload(SourceManual)
	}

	switch {
	case signals > 0:
		s.runHooks(SourceSignal)
	case manual > 0:
		s.runHooks(SourceManual)
	}
	return stop
}

func (s *Server) recordReload(src ReloadSource) {
	s.reloads.Inc()
	metrics.Reloads.WithLabelValues(string(src)).Inc()
	s.journal.Record(journal.Event{Kind: journal.KindReload, Detail: string(src)})
}

func (s *Server) runHooks(src ReloadSource) {
	s.hooksMu.Lock()
	hooks := make([]func(ReloadSource), len(s.hooks))
	copy(hooks, s.hooks)
	s.hooksMu.Unlock()

	for _, fn := range hooks {
		fn(src)
	}
}

// acceptOne accepts at most one pending connection. Any further backlog is
// picked up on the next wait, which reports the listener ready again.
func (s *Server) acceptOne() {
	nfd, sa, err := unix.Accept4(s.lfd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return
		}
		metrics.AcceptErrors.Inc()
		if s.acceptLog.Allow() {
			s.logger.Warn("accept failed", "error", err)
		}
		s.journal.Record(journal.Event{Kind: journal.KindError, Detail: "accept: " + err.Error()})
		return
	}

	if err := s.set.Add(nfd); err != nil {
		s.logger.Warn("registering client failed", "fd", nfd, "error", err)
		unix.Close(nfd)
		return
	}

	s.open.Inc()
	s.accepted.Inc()
	metrics.ConnectionsAccepted.Inc()
	metrics.ConnectionsOpen.Inc()

	remote := sockaddrString(sa)
	s.logger.Info("client connected", "fd", nfd, "remote", remote)
	s.journal.Record(journal.Event{Kind: journal.KindAccept, FD: nfd, Detail: remote})
}

func (s *Server) serveClient(fd int) {
	n, err := unix.Read(fd, s.buf)
	switch {
	case err != nil:
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return
		}
		s.drop(fd, reasonReadError, err)
	case n == 0:
		s.drop(fd, reasonEOF, nil)
	default:
		metrics.BytesRead.Add(float64(n))
		s.respond(fd)
	}
}

// respond writes the fixed response once. A short write counts as a failure:
// nothing is buffered for later.
func (s *Server) respond(fd int) {
	resp := s.cfg.Response
	n, err := unix.SendmsgN(fd, resp, nil, nil, unix.MSG_NOSIGNAL)
	if err == nil && n < len(resp) {
		err = io.ErrShortWrite
	}
	if err != nil {
		s.drop(fd, reasonWriteError, err)
		return
	}
	metrics.ResponsesTotal.Inc()
}

func (s *Server) drop(fd int, reason string, cause error) {
	if err := s.set.Remove(fd); err != nil {
		s.logger.Warn("deregistering client failed", "fd", fd, "error", err)
	}
	unix.Close(fd)

	s.open.Dec()
	metrics.ConnectionsOpen.Dec()
	metrics.Disconnects.WithLabelValues(reason).Inc()

	if cause != nil {
		s.logger.Warn("client dropped", "fd", fd, "reason", reason, "error", cause)
	} else {
		s.logger.Info("client disconnected", "fd", fd)
	}
	s.journal.Record(journal.Event{Kind: journal.KindDisconnect, FD: fd, Detail: reason})
}

// shutdown closes the listener and abandons open clients without draining.
func (s *Server) shutdown() {
	s.closeOnce.Do(func() {
		abandoned := 0
		for _, fd := range s.set.Members() {
			if fd == s.lfd || fd == s.coord.fd() {
				continue
			}
			s.set.Remove(fd) //nolint:errcheck
			unix.Close(fd)
			s.open.Dec()
			metrics.ConnectionsOpen.Dec()
			metrics.Disconnects.WithLabelValues(reasonShutdown).Inc()
			abandoned++
		}

		s.set.Remove(s.lfd) //nolint:errcheck
		if err := unix.Close(s.lfd); err != nil {
			s.logger.Warn("closing listener failed", "error", err)
		}
		s.set.Close()
		s.coord.close()

		s.logger.Info("listener closed", "port", s.port, "abandoned_connections", abandoned)
	})
}
