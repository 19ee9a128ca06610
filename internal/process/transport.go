package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/mattjoyce/celergeo/internal/protocol"
)

// killGrace bounds how long a cancelled exchange waits for the killed child
// to release stdout before the parent endpoint is closed out from under the
// read.
const killGrace = 2 * time.Second

type readResult struct {
	line string
	ok   bool
	err  error
}

// Communicate writes line followed by a newline to the child's stdin and
// returns the next line of its stdout without the trailing newline.
//
// ok is false when stdout reached end of stream before any byte was read.
// The call blocks until a line arrives or the child exits; see the package
// documentation for how ctx bounds it.
func (h *Handle) Communicate(ctx context.Context, line string) (string, bool, error) {
	if strings.ContainsRune(line, '\n') {
		return "", false, protocol.ErrEmbeddedNewline
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return "", false, ErrClosed
	}
	return h.exchange(ctx, line)
}

func (h *Handle) exchange(ctx context.Context, line string) (string, bool, error) {
	if err := h.write(ctx, line); err != nil {
		return "", false, err
	}
	if h.stdout == nil {
		return "", false, nil
	}
	if ctx.Done() == nil {
		r := h.readLine()
		return r.line, r.ok, r.err
	}

	results := make(chan readResult, 1)
	go func() { results <- h.readLine() }()

	select {
	case r := <-results:
		return r.line, r.ok, r.err
	case <-ctx.Done():
	}

	h.logger.Warn("exchange abandoned, killing child", "reason", ctx.Err())
	if err := h.signal(syscall.SIGKILL); err != nil {
		h.logger.Error("failed to kill child", "error", err)
	}
	timer := time.NewTimer(killGrace)
	defer timer.Stop()
	select {
	case <-results:
	case <-timer.C:
		// A grandchild may still hold the write end.
		_ = h.stdout.Close()
		<-results
		h.stdout = nil
	}
	return "", false, fmt.Errorf("waiting for response from %s: %w", h.executable, ctx.Err())
}

func (h *Handle) write(ctx context.Context, line string) error {
	if h.stdin == nil {
		return nil
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = h.stdin.SetWriteDeadline(deadline)
		defer func() { _ = h.stdin.SetWriteDeadline(time.Time{}) }()
	}

	_, err := io.WriteString(h.stdin, line+"\n")
	switch {
	case err == nil:
		return nil
	case errors.Is(err, syscall.EPIPE), errors.Is(err, os.ErrClosed):
		h.logger.Debug("child stdin is closed, request dropped")
		return nil
	case errors.Is(err, os.ErrDeadlineExceeded):
		_ = h.signal(syscall.SIGKILL)
		return fmt.Errorf("writing request to %s: %w", h.executable, context.DeadlineExceeded)
	default:
		return fmt.Errorf("writing request to %s: %w", h.executable, err)
	}
}

func (h *Handle) readLine() readResult {
	s, err := h.reader.ReadString('\n')
	if err == nil {
		return readResult{line: s[:len(s)-1], ok: true}
	}
	if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
		if s == "" {
			return readResult{}
		}
		// Final line without a terminator.
		return readResult{line: s, ok: true}
	}
	return readResult{err: fmt.Errorf("reading response from %s: %w", h.executable, err)}
}
