package lifecycle

import (
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"syscall"
)

// isBrokenPipe reports whether err represents a client-gone condition on a
// stdio write: EPIPE, a closed connection, or a closed-pipe read on the
// other end. These must never propagate out of the transport layer.
func isBrokenPipe(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.EPIPE) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, fs.ErrClosed) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}

// safeWriter wraps a writer (typically os.Stdout or os.Stderr) so that
// broken-pipe and connection errors are logged and swallowed instead of
// raised, per spec.md §4.11's stdio shim requirement: a write failure on a
// response must be fatal to that response, never to the process.
type safeWriter struct {
	w      io.Writer
	logger *slog.Logger
	name   string
}

// NewSafeWriter wraps w so Write never returns a broken-pipe error.
func NewSafeWriter(w io.Writer, name string, logger *slog.Logger) io.Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &safeWriter{w: w, logger: logger, name: name}
}

func (s *safeWriter) Write(p []byte) (int, error) {
	n, err := s.w.Write(p)
	if err != nil && isBrokenPipe(err) {
		s.logger.Warn("broken pipe on write, swallowing", "stream", s.name, "error", err)
		return len(p), nil
	}
	return n, err
}
