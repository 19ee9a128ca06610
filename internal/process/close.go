package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/mattjoyce/celergeo/internal/protocol"
)

var escalation = []syscall.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGKILL}

// Close shuts the child down and releases the handle.
//
// It sends the termination sentinel, waits up to timeout for a voluntary
// exit, then sends SIGINT, SIGTERM and finally SIGKILL, waiting up to
// timeout after each. Remaining output is drained and the child is reaped
// before both pipes are closed. The result is the child's reply to the
// sentinel when it gave one, otherwise whatever it wrote while exiting.
func (h *Handle) Close(timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = DefaultCloseTimeout
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return "", ErrClosed
	}
	h.closed = true
	defer h.release()

	var (
		reply    string
		replied  bool
		pending  chan readResult
		writeErr error
	)
	if h.stdin != nil {
		// A child that stopped reading must not stall the escalation.
		_ = h.stdin.SetWriteDeadline(time.Now().Add(timeout))
		if _, err := io.WriteString(h.stdin, protocol.Terminate+"\n"); err != nil &&
			!errors.Is(err, syscall.EPIPE) && !errors.Is(err, os.ErrClosed) {
			writeErr = err
		}
	}
	if h.stdout != nil && writeErr == nil {
		pending = make(chan readResult, 1)
		go func() { pending <- h.readLine() }()
		timer := time.NewTimer(timeout)
		select {
		case r := <-pending:
			pending = nil
			reply, replied = r.line, r.ok
		case <-timer.C:
			h.logger.Debug("no reply to termination request")
		}
		timer.Stop()
	}

	if !h.Wait(timeout) {
		for _, sig := range escalation {
			h.logger.Info("child still running, sending signal", "signal", sig.String())
			if err := h.signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
				h.logger.Warn("signal failed", "signal", sig.String(), "error", err)
			}
			if h.Wait(timeout) {
				break
			}
		}
	}

	// Drain.
	if h.stdin != nil {
		_ = h.stdin.Close()
		h.stdin = nil
	}
	var trailing strings.Builder
	var drainErr error
	if pending != nil {
		r := <-pending
		switch {
		case r.err != nil:
			drainErr = r.err
		case r.ok && !replied:
			reply, replied = r.line, true
		}
	}
	if h.stdout != nil && drainErr == nil {
		if _, err := io.Copy(&trailing, h.reader); err != nil && !errors.Is(err, os.ErrClosed) {
			drainErr = fmt.Errorf("draining output of %s: %w", h.executable, err)
		}
	}
	<-h.done

	h.logger.Debug("child closed", "exit_code", h.ExitCode(), "signal", h.Signal())
	if drainErr != nil {
		return "", drainErr
	}
	if writeErr != nil {
		h.logger.Warn("termination request not delivered", "error", writeErr)
	}
	if replied {
		return reply, nil
	}
	return trailing.String(), nil
}

// Kill terminates the child with SIGKILL, reaps it, and releases the handle.
// It may be called while an exchange is blocked; that exchange then reports
// an absent response.
func (h *Handle) Kill() error {
	if err := h.signal(syscall.SIGKILL); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("killing %s: %w", h.executable, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	h.closed = true
	<-h.done
	h.release()
	return nil
}
